package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	reportPolicyOnce sync.Once
	reportPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy strips every element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// ReportHTMLPolicy allows the headings, paragraphs, emphasis, lists, tables and links
// that investigation reports are rendered with. Links keep href and target only and
// must use http(s) or mailto.
func ReportHTMLPolicy() *bluemonday.Policy {
	reportPolicyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6", "p", "br", "strong", "em", "ul", "ol", "li",
			"table", "thead", "tbody", "tr", "th", "td", "section", "small", "blockquote")
		p.AllowAttrs("href").OnElements("a")
		p.AllowAttrs("target").Matching(bluemonday.Paragraph).OnElements("a")
		p.AllowURLSchemes("http", "https", "mailto")
		p.RequireParseableURLs(true)
		p.RequireNoFollowOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		reportPolicy = p
	})
	return reportPolicy
}

// SanitizeHTMLStrict returns the plain-text content of s.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizeReportHTML cleans model-written report markup. Scripts, styles, event handlers
// and javascript: URLs never survive.
func SanitizeReportHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(ReportHTMLPolicy().Sanitize(s))
}
