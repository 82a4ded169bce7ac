package helpers

import (
	"net/url"
	"strings"
)

// Citation is the metadata shown for one source in a rendered report.
type Citation struct {
	Title     string
	URL       string
	Published string
}

// FormatCitation renders a source as `Title (domain, date)`. Missing parts are
// dropped; a citation without title falls back to the domain.
func FormatCitation(c Citation) string {
	title := strings.Join(strings.Fields(c.Title), " ")
	domain := Domain(c.URL)
	if title == "" {
		title = domain
		domain = ""
	}
	var meta []string
	if domain != "" {
		meta = append(meta, domain)
	}
	if date := publishedDay(c.Published); date != "" {
		meta = append(meta, date)
	}
	if len(meta) == 0 {
		return title
	}
	if title == "" {
		return strings.Join(meta, ", ")
	}
	return title + " (" + strings.Join(meta, ", ") + ")"
}

// Domain returns the lowercase host of raw without www. or a default port.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return strings.TrimPrefix(host, "www.")
}

// publishedDay keeps the date part of RFC 3339 timestamps.
func publishedDay(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}
