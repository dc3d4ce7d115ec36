// Package identity derives stable document ids from source material.
//
// Resolution is pure and deterministic: the same file name and content
// always yield the same id. That property is what makes re-scanning an
// unchanged file a no-op instead of a duplicate insert.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// ConversationPrefix marks ids derived from an embedded session UUID.
	ConversationPrefix = "conv_"
	// DocumentPrefix marks content-addressed ids.
	DocumentPrefix = "doc_"

	hashIDLength = 16
)

var (
	uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	// Matches sessionId / session_id keys in JSON or key=value lines.
	sessionKeyPattern = regexp.MustCompile(`(?i)"?session[_-]?id"?\s*[:=]\s*"?([0-9a-fA-F-]{36})"?`)
)

// Input holds the material the resolver inspects, in priority order.
type Input struct {
	FileName string
	Content  string
	Source   string
	Summary  string
}

// Resolve derives the canonical id for a document. A UUID found in the
// file name, a sessionId-like key in the content, or the source/summary
// strings wins and produces "conv_<uuid>"; otherwise the id is the
// truncated content hash, prefixed "doc_".
func Resolve(in Input) string {
	if u := extractUUID(in.FileName); u != "" {
		return ConversationPrefix + u
	}
	if u := sessionUUID(in.Content); u != "" {
		return ConversationPrefix + u
	}
	if u := extractUUID(in.Source); u != "" {
		return ConversationPrefix + u
	}
	if u := extractUUID(in.Summary); u != "" {
		return ConversationPrefix + u
	}
	return DocumentPrefix + ContentHash(in.Content)[:hashIDLength]
}

// ExtractUUID returns the first valid UUID embedded in s, lowercased,
// or "" when none is present. Exposed for the consolidator, which
// groups documents by the UUID inside their id or source.
func ExtractUUID(s string) string {
	return extractUUID(s)
}

// ContentHash returns the hex SHA-256 digest of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func extractUUID(s string) string {
	if s == "" {
		return ""
	}
	for _, candidate := range uuidPattern.FindAllString(s, -1) {
		if parsed, err := uuid.Parse(candidate); err == nil {
			return parsed.String()
		}
	}
	return ""
}

// sessionUUID looks for a sessionId-like key in structured content.
// A bare UUID elsewhere in the body is ignored on purpose: log lines
// routinely quote other sessions' ids.
func sessionUUID(content string) string {
	if content == "" {
		return ""
	}
	m := sessionKeyPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	if parsed, err := uuid.Parse(strings.ToLower(m[1])); err == nil {
		return parsed.String()
	}
	return ""
}
