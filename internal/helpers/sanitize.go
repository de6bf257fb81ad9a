package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	previewPolicyOnce sync.Once
	previewPolicy     *bluemonday.Policy
)

// PreviewPolicy allows the formatting rendered from article markdown (headings,
// lists, tables, code, links) and strips scripts and unsafe URLs.
func PreviewPolicy() *bluemonday.Policy {
	previewPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowElements("figure", "figcaption")
		policy.AllowAttrs("class").OnElements("code", "pre")
		policy.AllowURLSchemes("http", "https", "mailto")
		policy.RequireParseableURLs(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		previewPolicy = policy
	})
	return previewPolicy
}

// SanitizePreview cleans rendered article HTML for display.
func SanitizePreview(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	return strings.TrimSpace(PreviewPolicy().Sanitize(html))
}
