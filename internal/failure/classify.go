// Package failure maps extractor and handler error text onto retry
// categories. The matching is a substring heuristic over lower-cased error
// text; it is an approximate policy layer, not a semantic guarantee.
package failure

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/shohag/mediarelay/internal/models"
)

// PhraseListVersion identifies the phrase tables below. Bump it whenever a
// list changes so logged categories can be traced to the rules that made
// them.
const PhraseListVersion = "2026.10.2"

// statusCodePattern only matches a three digit code introduced by an HTTP
// marker, so video ids and proxy ports that happen to contain 403 or 503 are
// not read as status codes.
var statusCodePattern = regexp.MustCompile(`\b(?:http error|status code|status|error|code)\s*:?\s*(\d{3})\b`)

var permanentCodes = map[string]bool{
	"403": true,
	"404": true,
}

var transientCodes = map[string]bool{
	"429": true,
	"500": true,
	"502": true,
	"503": true,
	"504": true,
}

var permanentPhrases = []string{
	"forbidden",
	"not found",
	"invalid url",
	"unsupported url",
	"is not a valid url",
	"quota exceeded",
	"quota_exceeded",
	"private video",
	"this video is private",
	"video unavailable",
	"has been removed",
	"restricted",
	"not available in your country",
}

var systemPhrases = []string{
	"database",
	"sqlite",
	"disk",
	"no space left",
	"filesystem",
	"file system",
	"read-only file system",
	"permission denied",
	"out of memory",
	"cannot allocate memory",
}

var transientPhrases = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"too many requests",
	"rate limit",
	"bad gateway",
	"service unavailable",
	"temporarily unavailable",
	"connection reset",
	"connection refused",
	"connection aborted",
	"network is unreachable",
	"no such host",
	"eof",
	"proxy",
}

var authRequiredPhrases = []string{
	"sign in to confirm",
	"sign in to view",
	"login required",
	"login_required",
	"requires authentication",
	"use --cookies",
	"age-restricted",
	"age restricted",
	"confirm your age",
	"inappropriate for some users",
	"private video",
	"this video is private",
	"members-only",
	"consent",
}

// Classify returns the retry category for err. A nil error has no category.
func Classify(err error) models.ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorTransient
	}
	return ClassifyText(err.Error())
}

// ClassifyText looks for an HTTP status code first, then applies the phrase
// tables in order permanent, system, transient. Anything unmatched is
// transient so unknown failures are not under-retried.
func ClassifyText(text string) models.ErrorCategory {
	s := strings.ToLower(text)
	for _, m := range statusCodePattern.FindAllStringSubmatch(s, -1) {
		switch {
		case permanentCodes[m[1]]:
			return models.ErrorPermanent
		case transientCodes[m[1]]:
			return models.ErrorTransient
		}
	}
	switch {
	case containsAny(s, permanentPhrases):
		return models.ErrorPermanent
	case containsAny(s, systemPhrases):
		return models.ErrorSystem
	case containsAny(s, transientPhrases):
		return models.ErrorTransient
	default:
		return models.ErrorTransient
	}
}

// IsAuthRequired reports whether err looks like an authentication gate that
// a rotated credential may get past.
func IsAuthRequired(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), authRequiredPhrases)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
