package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Package fingerprint derives the stable content digests used by the
// delivery ledger for change detection. Two fingerprints for the same item
// differing always means the content really changed; identical fingerprints
// mean delivery can be skipped.

const version = "v1"

// PageText fingerprints a page's OCR text. Any character-for-character
// change yields a new fingerprint.
func PageText(notebookID, pageNumber int, text string) string {
	return digest("page_text", strconv.Itoa(notebookID), strconv.Itoa(pageNumber), normalizeText(text))
}

// Highlight fingerprints a highlight's text, exact like PageText.
func Highlight(notebookID, pageNumber int, text string) string {
	return digest("highlight", strconv.Itoa(notebookID), strconv.Itoa(pageNumber), normalizeText(text))
}

// Todo fingerprints a todo using a fuzzy signature: lowercased, punctuation
// stripped, words sorted. Repeated OCR passes over the same handwritten
// checkbox often drift slightly in transcription; the fuzzy signature
// absorbs that so a re-OCR doesn't create a duplicate todo at the target.
// Two genuinely different todos containing the same words in a different
// order will collide. That is an accepted trade-off.
func Todo(notebookID, pageNumber int, text string) string {
	return digest("todo", strconv.Itoa(notebookID), strconv.Itoa(pageNumber), fuzzySignature(text))
}

// NotebookMetadata fingerprints the mutable metadata fields of a notebook.
// Content is deliberately excluded so metadata-only changes take the fast
// lane without re-delivering page content.
func NotebookMetadata(title, path string, pageCount int, lastOpenedAt *time.Time) string {
	opened := ""
	if lastOpenedAt != nil {
		opened = lastOpenedAt.UTC().Format(time.RFC3339)
	}
	return digest("notebook_metadata", title, path, strconv.Itoa(pageCount), opened)
}

func digest(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(part))
	}
	return version + ":" + hex.EncodeToString(h.Sum(nil))
}

// normalizeText trims and collapses runs of whitespace so incidental
// formatting differences don't read as content changes.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// fuzzySignature lowercases, strips punctuation, and sorts the words of the
// given text.
func fuzzySignature(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	sort.Strings(words)
	return strings.Join(words, " ")
}
