package knowledge

import (
	"archive/zip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExtractor(t *testing.T) {
	ext, err := NewExtractor("local", "/usr/bin/pdftotext", "")
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)

	ext, err = NewExtractor("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "pdftotext", ext.(*PdfToText).binPath)

	_, err = NewExtractor("mistral", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires mistral_api_key")

	ext, err = NewExtractor("mistral", "", "key")
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, ext)

	_, err = NewExtractor("tesseract", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown pdf extractor "tesseract"`)
}

func TestPdfToText_FakeBinary(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "pdftotext")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"Rapport annuel 2024\"\n"), 0o755))

	pdf := filepath.Join(dir, "rapport.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))

	text, err := NewPdfToText(script).ExtractText(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, "Rapport annuel 2024\n", text)
}

func TestPdfToText_MissingBinary(t *testing.T) {
	_, err := NewPdfToText("/nonexistent/pdftotext").ExtractText(context.Background(), "x.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestMistralOCR_Defaults(t *testing.T) {
	m := NewMistralOCR("key", "", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistralOCR_ExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ocrRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ocr-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages":[{"index":0,"markdown":"Page un"},{"index":1,"markdown":"Page deux"}]}`))
	}))
	defer srv.Close()

	pdf := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))

	text, err := NewMistralOCR("test-key", "ocr-model", srv.URL).ExtractText(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, "Page un\n\nPage deux", text)
}

func TestMistralOCR_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	pdf := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))

	_, err := NewMistralOCR("k", "", srv.URL).ExtractText(context.Background(), pdf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr returned 401")
}

// writeDocx builds a minimal Word document holding the given body XML.
func writeDocx(t *testing.T, path, body string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestExtractDocx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etude.docx")
	writeDocx(t, path,
		`<w:p><w:r><w:t>Marché des</w:t></w:r><w:r><w:t xml:space="preserve"> animaux</w:t></w:r></w:p>`+
			`<w:p></w:p>`+
			`<w:p><w:r><w:t>TAM</w:t><w:tab/><w:t>4,2 Md€</w:t></w:r></w:p>`)

	text, err := ExtractDocx(path)
	require.NoError(t, err)
	assert.Equal(t, "Marché des animaux\nTAM\t4,2 Md€", text)
}

func TestExtractDocx_NotAWordFile(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.docx")
	require.NoError(t, os.WriteFile(plain, []byte("not a zip"), 0o644))
	_, err := ExtractDocx(plain)
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.docx")
	f, err := os.Create(empty)
	require.NoError(t, err)
	require.NoError(t, zip.NewWriter(f).Close())
	require.NoError(t, f.Close())
	_, err = ExtractDocx(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no word/document.xml")
}
