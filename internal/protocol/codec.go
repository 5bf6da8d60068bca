package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
)

const xmlProlog = `<?xml version="1.0" encoding="GB2312"?>`

// BuildBody renders a command body: the fixed XML prolog, a <Command
// ID="cmdID"> element wrapping innerXML, and the trailing NUL that the
// wire format requires (and that counts toward BodyLen).
func BuildBody(cmdID int, innerXML string) []byte {
	body := fmt.Sprintf(`%s<Command ID="%d">%s</Command>`, xmlProlog, cmdID, innerXML)
	return append([]byte(body), 0)
}

// Tag renders a single self-closing XML element with sorted attributes,
// e.g. Tag("RealStreamCreate", map[string]string{"Channel": "0"}).
func Tag(name string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteByte('<')
	buf.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&buf, ` %s="%s"`, k, xmlEscape(attrs[k]))
	}
	buf.WriteString("/>")
	return buf.String()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// Command is a parsed command body: the outer <Command ID="..."> attribute
// and the single inner tag the DVR protocol always carries.
type Command struct {
	ID    int
	Tag   string
	Attrs map[string]string
}

// ParseBody parses a command body (XML prolog + <Command> + one child
// element + trailing NUL) into a Command. The reader task uses Command.Tag
// to file the message into the session mailbox.
func ParseBody(body []byte) (*Command, error) {
	body = bytes.TrimRight(body, "\x00")
	dec := xml.NewDecoder(bytes.NewReader(body))
	// The DVR always declares encoding="GB2312" in the prolog, but every
	// tag and attribute value it actually sends is plain ASCII, so the
	// declared bytes can pass through unchanged rather than needing a real
	// GB2312 transcoder.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	var cmd Command
	sawCommand := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("protocol: parse body: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !sawCommand {
			if start.Name.Local != "Command" {
				return nil, fmt.Errorf("protocol: expected <Command>, got <%s>", start.Name.Local)
			}
			sawCommand = true
			for _, a := range start.Attr {
				if a.Name.Local == "ID" {
					fmt.Sscanf(a.Value, "%d", &cmd.ID)
				}
			}
			continue
		}
		cmd.Tag = start.Name.Local
		cmd.Attrs = make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			cmd.Attrs[a.Name.Local] = a.Value
		}
		break
	}
	if !sawCommand {
		return nil, fmt.Errorf("protocol: body has no <Command> element")
	}
	return &cmd, nil
}
