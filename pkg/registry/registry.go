// Package registry pushes built templates to a transactional-email provider's
// template store.
package registry

import (
	"context"
	"errors"
	"maps"
)

// Abridged replaces sensitive payload fields before a result is logged.
const Abridged = "[ abridged ]"

// ErrMissingKey is returned when a provider is created without credentials.
var ErrMissingKey = errors.New("registry: api key is required")

// sensitiveFields hold full template bodies in provider responses.
var sensitiveFields = []string{"code", "publish_code", "HtmlBody", "TextBody"}

// Template is a built page pushed to the registry under Name.
type Template struct {
	Name string
	HTML string
}

// Result is the provider's response payload.
type Result map[string]any

// Registry updates a named template and publishes it.
type Registry interface {
	Update(ctx context.Context, tpl Template) (Result, error)
}

// Redact returns a copy of r with template bodies replaced by Abridged.
func Redact(r Result) Result {
	out := maps.Clone(r)
	if out == nil {
		out = Result{}
	}
	for _, k := range sensitiveFields {
		if _, ok := out[k]; ok {
			out[k] = Abridged
		}
	}
	return out
}
