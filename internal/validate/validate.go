// Package validate provides pure validation and sanitization for
// user-supplied text, identifiers, and inbound frames. Nothing here
// performs I/O.
package validate

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
	"github.com/RashikaKarki/learnforge-cli/internal/wire"
)

// MaxMessageLength is the longest chat message accepted for sending.
const MaxMessageLength = 1000

// ErrUnknownType marks an envelope whose type is outside the closed enum.
// Callers route such frames to a generic handler instead of dropping them.
var ErrUnknownType = stderrors.New("unknown frame type")

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)vbscript\s*:`),
		regexp.MustCompile(`(?i)\bon\w+\s*=`),
		regexp.MustCompile(`(?i)data\s*:\s*text/html`),
		regexp.MustCompile(`(?i)expression\s*\(`),
	}
)

// SanitizeText strips control characters and HTML tag content, then trims
// surrounding whitespace. Tag removal repeats until the text stops changing
// so reassembled tags cannot survive, which also makes the function
// idempotent.
func SanitizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()

	for {
		next := tagPattern.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}

	return strings.TrimSpace(s)
}

// ValidateChatMessage checks a chat message before it is sent. The
// injection denylist runs against both the original and the sanitized text.
func ValidateChatMessage(text string) error {
	sanitized := SanitizeText(text)
	if sanitized == "" {
		return apperrors.New(apperrors.KindValidation, "message is empty")
	}
	if utf8.RuneCountInString(sanitized) > MaxMessageLength {
		return apperrors.New(apperrors.KindValidation,
			fmt.Sprintf("message exceeds %d characters", MaxMessageLength))
	}
	for _, p := range injectionPatterns {
		if p.MatchString(text) || p.MatchString(sanitized) {
			return apperrors.New(apperrors.KindValidation, "message contains disallowed content")
		}
	}
	return nil
}

// ValidateIdentifier checks session ids, mission ids, and similar tokens
// before they are placed into a path or query string.
func ValidateIdentifier(value string, maxLen int) error {
	if value == "" {
		return apperrors.New(apperrors.KindValidation, "identifier is empty")
	}
	if len(value) > maxLen {
		return apperrors.New(apperrors.KindValidation,
			fmt.Sprintf("identifier exceeds %d characters", maxLen))
	}
	if !identifierPattern.MatchString(value) {
		return apperrors.New(apperrors.KindValidation, "identifier contains invalid characters")
	}
	return nil
}

// ValidateInboundEnvelope checks that a parsed frame has a recognized type
// and that type-specific required fields are present before any handler
// consumes it. Unknown types return ErrUnknownType.
func ValidateInboundEnvelope(env wire.Envelope) error {
	if !env.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	switch env.Type {
	case wire.TypeMessage:
		if env.Message == "" {
			return apperrors.New(apperrors.KindValidation, "message frame missing text")
		}
	case wire.TypeHistory:
		if env.Messages == nil {
			return apperrors.New(apperrors.KindValidation, "history frame missing messages")
		}
	case wire.TypeCheckpointUpdate:
		if env.CompletedCheckpoints == nil || env.Progress == nil {
			return apperrors.New(apperrors.KindValidation,
				"checkpoint update requires completed set and progress")
		}
		if *env.Progress < 0 || *env.Progress > 100 {
			return apperrors.New(apperrors.KindValidation, "progress outside 0-100")
		}
	}
	return nil
}
