package mjml

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	// GoogleFontsAPI is the base URL of the Google Fonts CSS API.
	GoogleFontsAPI = "https://fonts.googleapis.com/css2"

	// DefaultFontWeight is used when no weight is given.
	DefaultFontWeight = 400
)

// GoogleFontURL returns the stylesheet URL for family in the given weights.
// Weights are sorted and deduplicated as the API requires.
func GoogleFontURL(family string, weights ...int) string {
	if len(weights) == 0 {
		weights = []int{DefaultFontWeight}
	}
	weights = slices.Clone(weights)
	slices.Sort(weights)
	weights = slices.Compact(weights)

	ws := make([]string, len(weights))
	for i, w := range weights {
		ws[i] = strconv.Itoa(w)
	}

	// Example: https://fonts.googleapis.com/css2?family=Open+Sans:wght@400;700&display=swap
	return fmt.Sprintf("%s?family=%s:wght@%s&display=swap",
		GoogleFontsAPI, url.QueryEscape(family), strings.Join(ws, ";"))
}

// GoogleFont returns a stylesheet link for family hidden from Outlook, which
// would otherwise fall back to Times for the whole message.
func GoogleFont(family string, weights ...int) string {
	return `<!--[if !mso]><!--><link href="` + GoogleFontURL(family, weights...) +
		`" rel="stylesheet" type="text/css"><!--<![endif]-->`
}
