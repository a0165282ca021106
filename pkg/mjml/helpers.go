package mjml

import (
	"fmt"
	"html"
	"strings"
	"text/template"
)

// Funcs returns the helpers available to every page, layout and partial.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"hb":         Handlebars,
		"escape":     html.EscapeString,
		"fontStack":  FontStack,
		"googleFont": GoogleFont,
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
	}
}

// Handlebars emits a literal {{name}} tag so merge fields survive rendering
// and reach the template registry untouched.
func Handlebars(name string) string {
	return "{{" + name + "}}"
}

// FontStack returns a CSS font stack with email-safe fallbacks.
func FontStack(primary string) string {
	lower := strings.ToLower(primary)

	stack := fmt.Sprintf("'%s'", primary)
	switch {
	case strings.Contains(lower, "serif") && !strings.Contains(lower, "sans"):
		stack += ", Georgia, 'Times New Roman', Times, serif"
	case strings.Contains(lower, "mono"), strings.Contains(lower, "code"), strings.Contains(lower, "courier"):
		stack += ", 'Courier New', Courier, 'Lucida Console', monospace"
	default:
		// most web fonts are sans
		stack += ", Arial, Helvetica, sans-serif"
	}
	return stack
}
