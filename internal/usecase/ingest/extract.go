package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agrisage-cloud/knowd/internal/domain"
)

const (
	typePlain    = "text/plain"
	typeMarkdown = "text/markdown"
)

// SupportedContentType reports whether the declared MIME type can be
// extracted. Parameters (charset etc.) are ignored.
func SupportedContentType(contentType string) bool {
	switch baseType(contentType) {
	case typePlain, typeMarkdown:
		return true
	}
	return false
}

// extractText turns raw content into plain text for splitting.
func extractText(contentType string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content is not valid UTF-8: %w", domain.ErrIngestion)
	}

	switch baseType(contentType) {
	case typePlain:
		return string(data), nil
	case typeMarkdown:
		return stripMarkdown(string(data)), nil
	}
	return "", fmt.Errorf("unsupported content type %q: %w", contentType, domain.ErrValidation)
}

func baseType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

var (
	mdCodeFence  = regexp.MustCompile("(?s)```.*?```")
	mdInlineCode = regexp.MustCompile("`([^`]*)`")
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis   = regexp.MustCompile(`(\*{1,3}|_{1,3})(\S(?:.*?\S)?)(\*{1,3}|_{1,3})`)
	mdListMark   = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	mdQuote      = regexp.MustCompile(`(?m)^>\s?`)
)

// stripMarkdown removes markup while preserving the readable text. Chunk
// offsets are relative to the stripped text, not the raw file.
func stripMarkdown(s string) string {
	s = mdCodeFence.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = mdListMark.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	return s
}
