package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	plainTextPolicyOnce sync.Once
	plainTextPolicy     *bluemonday.Policy
)

func strictPolicy() *bluemonday.Policy {
	plainTextPolicyOnce.Do(func() {
		plainTextPolicy = bluemonday.StrictPolicy()
	})
	return plainTextPolicy
}

// SanitizePlainText strips markup from free text, drops control characters other than newlines and
// tabs, normalises to NFC and trims surrounding whitespace. The result is safe to store and render
// as plain text.
func SanitizePlainText(value string) string {
	if value == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy().Sanitize(value))
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, stripped)
	return strings.TrimSpace(norm.NFC.String(cleaned))
}
