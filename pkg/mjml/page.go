package mjml

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultLayout is used by pages whose front matter names no layout.
const DefaultLayout = "default"

// NoLayout in front matter renders the page body on its own.
const NoLayout = "none"

var fence = []byte("---")

// Page is one rendered page artifact.
type Page struct {
	// Name is the page path relative to the pages root, slash separated,
	// without extension.
	Name   string
	Layout string
	HTML   string
}

// frontMatter splits an optional YAML header fenced by --- lines from the
// page body.
func frontMatter(src []byte) (map[string]any, []byte, error) {
	data := map[string]any{}

	trimmed := bytes.TrimPrefix(src, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, fence) {
		return data, src, nil
	}

	rest := trimmed[len(fence):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || len(bytes.TrimSpace(rest[:nl])) != 0 {
		return data, src, nil
	}
	rest = rest[nl+1:]

	var header []byte
	for {
		nl = bytes.IndexByte(rest, '\n')
		line := rest
		if nl >= 0 {
			line = rest[:nl]
		}
		if bytes.Equal(bytes.TrimRight(line, " \t\r"), fence) {
			if nl < 0 {
				rest = nil
			} else {
				rest = rest[nl+1:]
			}
			break
		}
		if nl < 0 {
			return nil, nil, fmt.Errorf("unterminated front matter")
		}
		header = append(header, rest[:nl+1]...)
		rest = rest[nl+1:]
	}

	if err := yaml.Unmarshal(header, &data); err != nil {
		return nil, nil, fmt.Errorf("parse front matter: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, rest, nil
}
