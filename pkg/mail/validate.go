package mail

import (
	"strings"

	"github.com/joeblew999/plat-mailforge/pkg/inline"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one compatibility problem found in a page.
type Issue struct {
	Severity Severity
	Message  string
}

func (i Issue) String() string {
	return string(i.Severity) + ": " + i.Message
}

type rule struct {
	severity Severity
	message  string
	failed   func(doc, lower string) bool
}

var rules = []rule{
	{SeverityError, "Missing DOCTYPE declaration", func(_, lower string) bool {
		return !strings.Contains(lower, "doctype html")
	}},
	{SeverityWarning, "Media query placeholder was not replaced; page is not inlined", func(doc, _ string) bool {
		return strings.Contains(doc, inline.Placeholder)
	}},
	{SeverityWarning, "Missing VML namespace for Outlook compatibility", func(doc, _ string) bool {
		return !strings.Contains(doc, `xmlns:v="urn:schemas-microsoft-com:vml"`)
	}},
	{SeverityWarning, "Missing Outlook conditional comments", func(doc, _ string) bool {
		return !strings.Contains(doc, "<!--[if mso")
	}},
	{SeverityWarning, "Missing border-collapse for table compatibility", func(_, lower string) bool {
		return !strings.Contains(lower, "border-collapse:collapse") && !strings.Contains(lower, "border-collapse: collapse")
	}},
	{SeverityWarning, "CSS flexbox not supported in many email clients", func(_, lower string) bool {
		return strings.Contains(lower, "display:flex") || strings.Contains(lower, "display: flex")
	}},
	{SeverityWarning, "Background images not supported in Outlook", func(doc, _ string) bool {
		return strings.Contains(doc, "background-image") && !strings.Contains(doc, "mso-hide")
	}},
}

// ValidateHTML checks a built page for email client compatibility.
func ValidateHTML(doc string) []Issue {
	lower := strings.ToLower(doc)

	var issues []Issue
	for _, r := range rules {
		if r.failed(doc, lower) {
			issues = append(issues, Issue{Severity: r.severity, Message: r.message})
		}
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
