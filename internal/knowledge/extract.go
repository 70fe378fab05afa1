package knowledge

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// TextExtractor extracts text content from binary documents.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "knowledge: pdftotext failed for %s: %s", path, stderr.String())
	}
	return stdout.String(), nil
}

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
)

// MistralOCR extracts text from scanned PDFs with the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
}

// NewMistralOCR creates a MistralOCR extractor. Empty model and endpoint use
// the defaults.
func NewMistralOCR(apiKey, model, endpoint string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	if endpoint == "" {
		endpoint = mistralOCREndpoint
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

// ExtractText sends the PDF inline as a data URL and joins the page markdown.
func (m *MistralOCR) ExtractText(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "knowledge: read pdf %s", path)
	}

	body, err := json.Marshal(ocrRequest{
		Model: m.model,
		Document: ocrDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "knowledge: marshal ocr request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "knowledge: create ocr request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "knowledge: ocr request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "knowledge: read ocr response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("knowledge: ocr returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", eris.Wrap(err, "knowledge: unmarshal ocr response")
	}

	pages := make([]string, 0, len(parsed.Pages))
	for _, p := range parsed.Pages {
		pages = append(pages, p.Markdown)
	}
	return strings.Join(pages, "\n\n"), nil
}

// NewExtractor picks the PDF extractor by name ("local" or "mistral").
func NewExtractor(name, pdftotextPath, mistralKey string) (TextExtractor, error) {
	switch name {
	case "local", "":
		return NewPdfToText(pdftotextPath), nil
	case "mistral":
		if mistralKey == "" {
			return nil, eris.New("knowledge: mistral extractor requires mistral_api_key")
		}
		return NewMistralOCR(mistralKey, "", ""), nil
	default:
		return nil, eris.Errorf("knowledge: unknown pdf extractor %q", name)
	}
}

// ExtractDocx returns the paragraph text of a Word document, one paragraph
// per line.
func ExtractDocx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", eris.Wrapf(err, "knowledge: open docx %s", path)
	}
	defer zr.Close() //nolint:errcheck

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", eris.Wrapf(err, "knowledge: open document.xml in %s", path)
		}
		defer rc.Close() //nolint:errcheck
		return docxText(rc)
	}
	return "", eris.Errorf("knowledge: %s has no word/document.xml", path)
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "knowledge: parse docx xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(para.String()); s != "" {
					out.WriteString(s)
					out.WriteByte('\n')
				}
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
