package streaming

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// ScanElements streams an XML document and returns the text of the first
// element matching each local name. Namespace prefixes are ignored. Names
// that never appear are absent from the result; a document that is not
// well-formed yields a MalformedResponseError.
func ScanElements(reader io.Reader, names ...string) (map[string]string, error) {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}

	found := make(map[string]string, len(names))
	decoder := xml.NewDecoder(reader)

	var (
		current string
		depth   int
		text    strings.Builder
		started bool
	)

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			if !started {
				return nil, NewError(MalformedResponseError, "empty xml document")
			}
			return found, nil
		}
		if err != nil {
			return nil, NewError(MalformedResponseError, "scanning xml response", err)
		}

		switch element := token.(type) {
		case xml.StartElement:
			started = true
			if current != "" {
				depth++
				continue
			}
			if _, ok := wanted[element.Name.Local]; !ok {
				continue
			}
			if _, seen := found[element.Name.Local]; seen {
				continue
			}
			current = element.Name.Local
			depth = 0
			text.Reset()
		case xml.CharData:
			if current != "" && depth == 0 {
				text.Write(element)
			}
		case xml.EndElement:
			if current == "" {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			found[current] = strings.TrimSpace(text.String())
			current = ""
		}
	}
}
