// Package knowledge serves the internal knowledge base the research stage
// consults: a bleve full text index seeded from a docs directory, or pgvector
// embeddings stored in Postgres.
package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 1200

// Chunk is one slice of an internal document.
type Chunk struct {
	ID         string
	Collection string
	Source     string
	Title      string
	Index      int
	Text       string
}

var docExtensions = map[string]struct{}{".md": {}, ".markdown": {}, ".txt": {}}

// LoadDir reads every markdown and text file under dir and splits each into
// paragraph aligned chunks of at most chunkSize characters.
func LoadDir(dir, collection string, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := docExtensions[strings.ToLower(filepath.Ext(path))]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", dir)
	}
	sort.Strings(paths)

	var out []Chunk
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)
		text := string(raw)
		title := docTitle(text, rel)
		for i, body := range SplitChunks(text, chunkSize) {
			out = append(out, Chunk{
				ID:         fmt.Sprintf("%s#%d", rel, i),
				Collection: collection,
				Source:     rel,
				Title:      title,
				Index:      i,
				Text:       body,
			})
		}
	}
	return out, nil
}

func docTitle(text, source string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
}

// SplitChunks groups blank-line separated paragraphs into chunks of at most
// size characters. A single paragraph longer than size is cut on rune
// boundaries.
func SplitChunks(text string, size int) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for utf8.RuneCountInString(para) > size {
			flush()
			r := []rune(para)
			out = append(out, string(r[:size]))
			para = strings.TrimSpace(string(r[size:]))
		}
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+2+utf8.RuneCountInString(para) > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return out
}
