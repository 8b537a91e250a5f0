package console

import (
	"strings"
	"unicode"
)

func isRecipientSeparator(r rune) bool {
	return r == ',' || unicode.IsSpace(r) || r == '\uFEFF'
}

// ParseRecipients splits the raw recipients field on runs of commas and whitespace,
// Unicode spaces such as NBSP included. Order is kept and duplicates are not removed.
// The result is never nil.
func ParseRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, isRecipientSeparator)
	if fields == nil {
		return []string{}
	}
	return fields
}
