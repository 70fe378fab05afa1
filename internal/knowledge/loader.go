// Package knowledge indexes the internal document library and answers
// semantic searches against it.
package knowledge

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not security
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrUnsupported is returned for files the loader cannot read.
var ErrUnsupported = eris.New("knowledge: unsupported file type")

// Supported document extensions.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".docx": true,
}

// Names matched as substrings of the lower-cased file name are skipped.
var excludedNames = []string{
	"readme.md", "readme.txt", ".gitkeep", ".gitignore",
	"license", "license.txt", "changelog", "changelog.txt",
	".gitkeep.bak", "readme_documents.md",
}

var excludedExtensions = map[string]bool{
	".gitkeep":   true,
	".gitignore": true,
	".bak":       true,
}

// IsExcluded reports whether a file name is documentation or tooling noise
// that must not be indexed.
func IsExcluded(name string) bool {
	lower := strings.ToLower(name)
	if excludedExtensions[filepath.Ext(lower)] {
		return true
	}
	for _, ex := range excludedNames {
		if strings.Contains(lower, ex) {
			return true
		}
	}
	return false
}

// IsSupported reports whether the loader can read a file by extension.
func IsSupported(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Document is the extracted text of one file.
type Document struct {
	Path string
	// Source is the file name shown in search results.
	Source string
	Text   string
	Hash   string
}

// Loader reads documents from disk.
type Loader struct {
	pdf TextExtractor
}

// NewLoader creates a Loader. A nil pdf extractor uses pdftotext.
func NewLoader(pdf TextExtractor) *Loader {
	if pdf == nil {
		pdf = NewPdfToText("")
	}
	return &Loader{pdf: pdf}
}

// Discover walks dir recursively and returns the indexable files, sorted.
// A missing directory yields no files.
func Discover(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		zap.L().Warn("knowledge: documents directory does not exist", zap.String("dir", dir))
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if IsExcluded(name) {
			zap.L().Debug("knowledge: skipping excluded file", zap.String("file", name))
			return nil
		}
		if IsSupported(name) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "knowledge: walk %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// FileHash returns the hex md5 of a file's bytes.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "knowledge: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "knowledge: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Load extracts the text of one file.
func (l *Loader) Load(ctx context.Context, path string) (Document, error) {
	hash, err := FileHash(path)
	if err != nil {
		return Document{}, err
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return Document{}, eris.Wrapf(err, "knowledge: read %s", path)
		}
		text = string(data)
	case ".pdf":
		text, err = l.pdf.ExtractText(ctx, path)
		if err != nil {
			return Document{}, err
		}
	case ".docx":
		text, err = ExtractDocx(path)
		if err != nil {
			return Document{}, err
		}
	default:
		return Document{}, eris.Wrapf(ErrUnsupported, "%s", path)
	}

	return Document{
		Path:   path,
		Source: filepath.Base(path),
		Text:   text,
		Hash:   hash,
	}, nil
}
