package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/zoobzio/devrun"
)

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".rs":   "rust",
	".c":    "c",
	".cpp":  "cpp",
	".java": "java",
	".rb":   "ruby",
}

// fileEditor presents a file on disk as the active document. The cursor is
// placed after the last region that changed between two reads.
type fileEditor struct {
	path     string
	language string
	encoder  devrun.Encoder

	mu     sync.Mutex
	text   string
	cursor int
}

func newFileEditor(path string) *fileEditor {
	language, ok := languages[strings.ToLower(filepath.Ext(path))]
	if !ok {
		language = "plaintext"
	}
	return &fileEditor{
		path:     path,
		language: language,
		encoder:  devrun.NewDiffEncoder(),
	}
}

func (f *fileEditor) Active() (devrun.Document, bool) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return devrun.Document{}, false
	}
	text := string(raw)

	f.mu.Lock()
	defer f.mu.Unlock()
	if text != f.text {
		spans := devrun.Sequential(f.encoder.Encode(f.text, text))
		if n := len(spans); n > 0 {
			last := spans[n-1]
			f.cursor = last.From + utf8.RuneCountInString(last.Insert)
		}
		f.text = text
	}
	return devrun.Document{
		Name:     filepath.Base(f.path),
		Language: f.language,
		Text:     text,
		Cursor:   f.cursor,
	}, true
}
