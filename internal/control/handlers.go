package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/citylife4/dvr/internal/dvrerr"
)

// Mux builds the HTTP API (spec section 6), with every API, health and hook
// handler wrapped in request-duration instrumentation when metrics are
// enabled. The /metrics endpoint and the dashboard assets at "/" are not
// instrumented.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	route := func(path string, h http.HandlerFunc) {
		if s.metrics != nil {
			h = s.metrics.Instrument(path, h)
		}
		mux.HandleFunc(path, h)
	}

	route("/api/status", s.handleStatus)
	route("/api/config-types", s.handleConfigTypes)
	route("/api/config/", s.handleConfig)
	route("/api/recordings", s.handleRecordings)
	route("/api/recordings/status", s.handleRecordingsStatus)
	route("/api/recordings/start", s.handleRecordingsStart)
	route("/api/recordings/stop", s.handleRecordingsStop)
	route("/api/recordings/delete-all", s.handleRecordingsDeleteAll)
	route("/api/recordings/", s.handleRecordingsDelete)
	route("/api/events", s.handleEvents)
	route("/healthz", s.handleHealthz)
	route("/hooks/start/", s.handleHookStart)
	route("/hooks/stop/", s.handleHookStop)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.Handle("/", dashboardHandler())

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr writes an {error, kind, detail} JSON body. kind and detail come
// from a *dvrerr.Error in err's chain and are empty when there is none.
func writeErr(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error(), "kind": "", "detail": ""}
	var de *dvrerr.Error
	if errors.As(err, &de) {
		body["kind"] = string(de.Kind)
		body["detail"] = de.Detail
	}
	writeJSON(w, status, body)
}

// channelFromPath pulls the trailing {channel} (or {channel}/{filename})
// segments off prefix-stripped request paths like /hooks/start/{channel}.
func channelFromPath(path, prefix string) (int, string, error) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	ch, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid channel %q", parts[0])
	}
	rem := ""
	if len(parts) == 2 {
		rem = parts[1]
	}
	return ch, rem, nil
}

type statusChannel struct {
	ID        int  `json:"id"`
	Streaming bool `json:"streaming"`
}

type recorderStatus struct {
	Armed    bool  `json:"armed"`
	Channels []int `json:"channels"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	reachable := true
	if _, err := s.ensureSession(ctx); err != nil {
		reachable = false
	}

	var channels []statusChannel
	var rtspPaths []string
	for ch, sup := range s.ingests {
		channels = append(channels, statusChannel{ID: ch, Streaming: sup.Running()})
		rtspPaths = append(rtspPaths, fmt.Sprintf("/ch%d", ch))
	}

	armed := false
	var recChannels []int
	for ch, rec := range s.recorders {
		if rec.Armed() {
			armed = true
		}
		recChannels = append(recChannels, ch)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dvr_reachable": reachable,
		"channels":      channels,
		"recorder":      recorderStatus{Armed: armed, Channels: recChannels},
		"rtsp_paths":    rtspPaths,
	})
}

func (s *Server) handleConfigTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configTypes)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	mcStr := strings.TrimPrefix(r.URL.Path, "/api/config/")
	mc, err := strconv.Atoi(mcStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid main_cmd %q", mcStr))
		return
	}

	sess, err := s.ensureSession(r.Context())
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	}
	xml, err := sess.GetConfig(mc)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml))
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	var all []interface{}
	for _, rec := range s.recorders {
		segs, err := rec.Segments()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		for _, seg := range segs {
			all = append(all, seg)
		}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleRecordingsStatus(w http.ResponseWriter, r *http.Request) {
	armed := false
	segmentsToday := 0
	var diskFreeMB int64 = -1
	for _, rec := range s.recorders {
		if rec.Armed() {
			armed = true
		}
		if n, err := rec.SegmentsToday(); err == nil {
			segmentsToday += n
		}
		if free, err := rec.FreeMB(); err == nil && (diskFreeMB < 0 || free < diskFreeMB) {
			diskFreeMB = free
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"armed":            armed,
		"segments_today":   segmentsToday,
		"upload_queue_len": 0,
		"disk_free_mb":     diskFreeMB,
	})
}

func (s *Server) handleRecordingsStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	q := r.URL.Query().Get("channel")
	if q == "" {
		for _, rec := range s.recorders {
			rec.ForceStart()
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ch, err := strconv.Atoi(q)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rec, ok := s.recorders[ch]
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("unknown channel %d", ch))
		return
	}
	rec.ForceStart()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordingsStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	q := r.URL.Query().Get("channel")
	if q == "" {
		for _, rec := range s.recorders {
			rec.ForceStop()
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ch, err := strconv.Atoi(q)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rec, ok := s.recorders[ch]
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("unknown channel %d", ch))
		return
	}
	rec.ForceStop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordingsDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ch, filename, err := channelFromPath(r.URL.Path, "/api/recordings/")
	if err != nil || filename == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("expected /api/recordings/{channel}/{filename}"))
		return
	}
	rec, ok := s.recorders[ch]
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("unknown channel %d", ch))
		return
	}
	if err := rec.DeleteSegment(filename); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordingsDeleteAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	total := 0
	for _, rec := range s.recorders {
		n, err := rec.DeleteAllSegments()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": total})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	events, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleHookStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ch, _, err := channelFromPath(r.URL.Path, "/hooks/start/")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	sup, ok := s.ingests[ch]
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("unknown channel %d", ch))
		return
	}
	if err := sup.Start(); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHookStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ch, _, err := channelFromPath(r.URL.Path, "/hooks/stop/")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	sup, ok := s.ingests[ch]
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("unknown channel %d", ch))
		return
	}
	sup.Stop()
	w.WriteHeader(http.StatusNoContent)
}
