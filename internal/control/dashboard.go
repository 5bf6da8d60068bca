package control

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

//go:embed assets
var dashboardAssets embed.FS

// dashboardHandler serves the static dashboard, brotli-compressing the
// response when the client advertises `Accept-Encoding: br` (spec section
// 4.3.3: "serves static dashboard assets").
func dashboardHandler() http.Handler {
	sub, err := fs.Sub(dashboardAssets, "assets")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			fileServer.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "br")
		w.Header().Del("Content-Length")
		bw := brotli.NewWriter(w)
		defer bw.Close()
		fileServer.ServeHTTP(&brotliResponseWriter{ResponseWriter: w, w: bw}, r)
	})
}

// brotliResponseWriter redirects the body writes http.FileServer makes
// through a brotli encoder while leaving headers alone.
type brotliResponseWriter struct {
	http.ResponseWriter
	w *brotli.Writer
}

func (b *brotliResponseWriter) Write(p []byte) (int, error) {
	return b.w.Write(p)
}
