// Package assets finds and rewrites image references in rendered email HTML.
package assets

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ImageDir is the dist-relative directory images are built into.
const ImageDir = "assets/img"

// assetAttrPattern matches an attribute value opening with an optional leading
// slash followed by assets/img, e.g. src="/assets/img or url='assets/img.
var assetAttrPattern = regexp.MustCompile(`=('|")(/?assets/img)`)

// RewriteURLs points every relative assets/img reference at base. An empty
// base returns the document unchanged.
func RewriteURLs(doc, base string) string {
	if base == "" {
		return doc
	}
	base = strings.TrimSuffix(base, "/")
	return assetAttrPattern.ReplaceAllString(doc, "=${1}"+escapeReplacement(base))
}

// escapeReplacement guards $ in base from being read as a group reference.
func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// ImageRefs returns the src of every <img> element in document order.
// Duplicates are kept out, empty sources are skipped.
func ImageRefs(r io.Reader) ([]string, error) {
	var refs []string
	seen := make(map[string]struct{})

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return refs, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "img" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "src" {
					src := strings.TrimSpace(string(val))
					if _, dup := seen[src]; src != "" && !dup {
						seen[src] = struct{}{}
						refs = append(refs, src)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

// IsRemote reports whether ref points outside the local build.
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"http://", "https://", "//", "data:", "cid:", "mailto:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// IsTemplateTag reports whether ref is an unresolved merge tag such as
// {{logo_url}} or *|LOGO|*, which cannot be bundled.
func IsTemplateTag(ref string) bool {
	return strings.Contains(ref, "{{") || strings.Contains(ref, "*|")
}
