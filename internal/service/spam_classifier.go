package service

import (
	"regexp"
	"strings"
)

// ReasonContainsURL is reported when the text carries a link or bare domain
const ReasonContainsURL = "contains_url"

var (
	httpURLPattern    = regexp.MustCompile(`https?://[^\s]+`)
	bareDomainPattern = regexp.MustCompile(`\b[a-zA-Z0-9-]+\.(com|net|org|co\.kr|asia|io|app|xyz|info|biz)\b`)
)

// ClassifySpam evaluates text against the URL rule and then each keyword in order.
// Reasons are "contains_url" first (when checkURLs and a link matches) followed by
// "keyword:<kw>" for every matching keyword. Keyword matching is a case-insensitive
// substring test. Empty text is never spam.
func ClassifySpam(text string, keywords []string, checkURLs bool) (bool, []string) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	lowered := strings.ToLower(text)
	var reasons []string

	if checkURLs && (httpURLPattern.MatchString(lowered) || bareDomainPattern.MatchString(lowered)) {
		reasons = append(reasons, ReasonContainsURL)
	}

	for _, keyword := range keywords {
		kw := strings.TrimSpace(keyword)
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			reasons = append(reasons, "keyword:"+keyword)
		}
	}

	return len(reasons) > 0, reasons
}
