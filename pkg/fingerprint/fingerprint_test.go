package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPageText_ExactContent(t *testing.T) {
	fp1 := PageText(1, 3, "Meeting notes from Tuesday")
	fp2 := PageText(1, 3, "Meeting notes from Tuesday")
	assert.Equal(t, fp1, fp2)

	// A single character change yields a new fingerprint.
	fp3 := PageText(1, 3, "Meeting notes from tuesday")
	assert.NotEqual(t, fp1, fp3)
}

func TestPageText_PositionalContext(t *testing.T) {
	fp1 := PageText(1, 3, "same text")
	fp2 := PageText(1, 4, "same text")
	fp3 := PageText(2, 3, "same text")
	assert.NotEqual(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3)
}

func TestPageText_WhitespaceNormalized(t *testing.T) {
	fp1 := PageText(1, 1, "hello  world")
	fp2 := PageText(1, 1, " hello world\n")
	assert.Equal(t, fp1, fp2)
}

func TestTodo_FuzzySignature(t *testing.T) {
	// Case, punctuation, and whitespace variance from repeated OCR passes
	// must collapse to the same fingerprint.
	fp1 := Todo(1, 2, "Buy milk")
	fp2 := Todo(1, 2, "buy   milk.")
	assert.Equal(t, fp1, fp2)

	// Word order is deliberately ignored too.
	fp3 := Todo(1, 2, "milk buy")
	assert.Equal(t, fp1, fp3)

	// Different words are a real change.
	fp4 := Todo(1, 2, "Buy oat milk")
	assert.NotEqual(t, fp1, fp4)

	// Same words on a different page are distinct todos.
	fp5 := Todo(1, 3, "Buy milk")
	assert.NotEqual(t, fp1, fp5)
}

func TestHighlight_ExactContent(t *testing.T) {
	fp1 := Highlight(5, 10, "a remarkable passage")
	fp2 := Highlight(5, 10, "a remarkable passage")
	fp3 := Highlight(5, 10, "A remarkable passage")
	assert.Equal(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3)
}

func TestHighlight_DiffersFromPageText(t *testing.T) {
	// The item type is part of the digest so the two lanes never collide.
	assert.NotEqual(t, PageText(1, 1, "text"), Highlight(1, 1, "text"))
}

func TestNotebookMetadata(t *testing.T) {
	opened := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	fp1 := NotebookMetadata("Journal", "/sync/journal.note", 42, &opened)
	fp2 := NotebookMetadata("Journal", "/sync/journal.note", 42, &opened)
	assert.Equal(t, fp1, fp2)

	// Each tracked field contributes.
	fp3 := NotebookMetadata("Journal 2", "/sync/journal.note", 42, &opened)
	fp4 := NotebookMetadata("Journal", "/sync/journal2.note", 42, &opened)
	fp5 := NotebookMetadata("Journal", "/sync/journal.note", 43, &opened)
	fp6 := NotebookMetadata("Journal", "/sync/journal.note", 42, nil)
	assert.NotEqual(t, fp1, fp3)
	assert.NotEqual(t, fp1, fp4)
	assert.NotEqual(t, fp1, fp5)
	assert.NotEqual(t, fp1, fp6)
}

func TestFuzzySignature(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple", input: "Buy milk", expected: "buy milk"},
		{name: "punctuation stripped", input: "buy, milk!!", expected: "buy milk"},
		{name: "words sorted", input: "milk buy", expected: "buy milk"},
		{name: "numbers kept", input: "call room 42", expected: "42 call room"},
		{name: "empty", input: "", expected: ""},
		{name: "only punctuation", input: "?!...", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fuzzySignature(tt.input))
		})
	}
}
