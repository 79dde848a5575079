package chat

import (
	"regexp"
	"strings"
)

// identityPattern mirrors the client-side rule: 1-20 characters drawn from
// letters, digits, underscore, and space.
var identityPattern = regexp.MustCompile(`^[A-Za-z0-9_ ]{1,20}$`)

var markupStripper = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "", "&", "")

// maxTextLen caps sanitized input length in characters.
const maxTextLen = 500

// Sanitize strips markup-significant characters, trims surrounding whitespace,
// and truncates to 500 characters. Applied to both message text and identities
// before validation.
func Sanitize(input string) string {
	cleaned := strings.TrimSpace(markupStripper.Replace(input))
	if runes := []rune(cleaned); len(runes) > maxTextLen {
		return string(runes[:maxTextLen])
	}
	return cleaned
}

// ValidIdentity reports whether a sanitized identity satisfies the display
// name constraints.
func ValidIdentity(identity string) bool {
	return identityPattern.MatchString(identity)
}
