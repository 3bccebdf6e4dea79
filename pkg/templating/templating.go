// Package templating expands the {{result}} placeholder in message templates.
package templating

import "regexp"

// Token is the only placeholder recognised in message templates.
const Token = "{{result}}"

var tokenRe = regexp.MustCompile(`(?i)\{\{result\}\}`)

// Expand replaces every case-insensitive occurrence of {{result}} with prior.
// A nil prior leaves the template untouched.
func Expand(template string, prior *string) string {
	if prior == nil {
		return template
	}
	return tokenRe.ReplaceAllLiteralString(template, *prior)
}

// HasToken reports whether template references the prior result.
func HasToken(template string) bool {
	return tokenRe.MatchString(template)
}
