package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"kb/internal/domain"
	"kb/internal/logger"
)

// Extensions handled by Load.
var supported = map[string]bool{".pdf": true, ".txt": true, ".md": true}

// Load walks dir and returns one document per text file and one per PDF page.
// Unsupported files are ignored; files that fail to parse are logged and skipped.
func Load(ctx context.Context, dir string) ([]domain.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("docs dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docs dir %s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if supported[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var docs []domain.Document
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := LoadFile(path)
		if err != nil {
			logger.Error(err, "ingest: skipping %s", path)
			continue
		}
		logger.WithFields(map[string]interface{}{"path": path, "documents": len(loaded)}).Debug("ingest: loaded file")
		docs = append(docs, loaded...)
	}
	return docs, nil
}

// LoadFile loads a single supported file.
func LoadFile(path string) ([]domain.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		pages, err := extractPDFPages(path)
		if err != nil {
			return nil, err
		}
		return pageDocuments(path, pages), nil
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		content := sanitize(string(data))
		if content == "" {
			return nil, nil
		}
		return []domain.Document{{
			ID:       documentID(path),
			Path:     path,
			Content:  content,
			Metadata: domain.Metadata{domain.MetaSource: path},
		}}, nil
	}
	return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}

// pageDocuments turns extracted page texts into documents with 1-based page
// numbers. Blank pages produce no document but keep their number.
func pageDocuments(path string, pages []string) []domain.Document {
	base := documentID(path)
	var docs []domain.Document
	for i, text := range pages {
		text = sanitize(text)
		if text == "" {
			continue
		}
		page := i + 1
		docs = append(docs, domain.Document{
			ID:      fmt.Sprintf("%s-p%d", base, page),
			Path:    path,
			Content: text,
			Metadata: domain.Metadata{
				domain.MetaSource: path,
				domain.MetaPage:   page,
			},
		})
	}
	return docs
}

func extractPDFPages(path string) (pages []string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages[i-1] = text
	}
	return pages, nil
}

// sanitize drops the BOM, replacement runes and control characters other
// than common whitespace.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\uFEFF', r == unicode.ReplacementChar:
			continue
		case r == '\n', r == '\t', r == '\r':
		case !unicode.IsPrint(r):
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func documentID(path string) string {
	h := sha1.Sum([]byte(filepath.ToSlash(path)))
	return hex.EncodeToString(h[:8])
}
