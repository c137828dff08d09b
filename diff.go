package devrun

import (
	"fmt"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Encoder turns a text transition into replace spans.
//
// Implementations must return spans that are sorted by From, do not
// overlap, are expressed in old-text coordinates, and reproduce new when
// applied to old with Apply.
type Encoder interface {
	Encode(oldText, newText string) []Span
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(oldText, newText string) []Span

// Encode calls f.
func (f EncoderFunc) Encode(oldText, newText string) []Span {
	return f(oldText, newText)
}

// DiffEncoder is the default Encoder. It runs a prefix/suffix trimmed
// Myers diff and merges small neighbouring edits into larger spans.
type DiffEncoder struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewDiffEncoder creates a DiffEncoder.
// The diff has no deadline so the output only depends on its input.
func NewDiffEncoder() *DiffEncoder {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &DiffEncoder{dmp: dmp}
}

// Encode returns the spans turning oldText into newText.
// Equal inputs yield no spans.
func (e *DiffEncoder) Encode(oldText, newText string) []Span {
	if oldText == newText {
		return nil
	}

	diffs := e.dmp.DiffMain(oldText, newText, false)
	diffs = e.dmp.DiffCleanupEfficiency(diffs)

	var spans []Span
	var current *Span
	pos := 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if current != nil {
				spans = append(spans, *current)
				current = nil
			}
			pos += n
		case diffmatchpatch.DiffDelete:
			if current == nil {
				current = &Span{From: pos, To: pos}
			}
			current.To += n
			pos += n
		case diffmatchpatch.DiffInsert:
			if current == nil {
				current = &Span{From: pos, To: pos}
			}
			current.Insert += d.Text
		}
	}
	if current != nil {
		spans = append(spans, *current)
	}
	return spans
}

// Apply applies a single span to text.
func (s Span) Apply(text string) (string, error) {
	runes := []rune(text)
	if s.From < 0 || s.From > s.To || s.To > len(runes) {
		return text, fmt.Errorf("span [%d,%d) out of range (len=%d)", s.From, s.To, len(runes))
	}
	return string(runes[:s.From]) + s.Insert + string(runes[s.To:]), nil
}

// Apply applies old-coordinate spans to text in ascending order.
func Apply(text string, spans []Span) (string, error) {
	runes := []rune(text)
	out := make([]rune, 0, len(runes))
	pos := 0
	for i, s := range spans {
		if s.From < pos || s.From > s.To || s.To > len(runes) {
			return text, fmt.Errorf("span %d [%d,%d) out of order or range (len=%d)", i, s.From, s.To, len(runes))
		}
		out = append(out, runes[pos:s.From]...)
		out = append(out, []rune(s.Insert)...)
		pos = s.To
	}
	out = append(out, runes[pos:]...)
	return string(out), nil
}

// Sequential rewrites old-coordinate spans so that each one is relative to
// the text produced by applying the spans before it. Moves are applied one
// after another, so this is the form they travel in.
func Sequential(spans []Span) []Span {
	out := make([]Span, len(spans))
	delta := 0
	for i, s := range spans {
		out[i] = Span{From: s.From + delta, To: s.To + delta, Insert: s.Insert}
		delta += utf8.RuneCountInString(s.Insert) - (s.To - s.From)
	}
	return out
}

// runeLen returns the length of text in runes.
func runeLen(text string) int {
	return utf8.RuneCountInString(text)
}
