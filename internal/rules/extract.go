package rules

import (
	"bytes"
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// ExtractData reads the downloaded file and returns the structured data for
// indexing: the file size in bytes and the plain-text content. The probe
// rule declines with ErrNotImplemented.
func (r Rule) ExtractData(path string) (map[string]any, error) {
	if r.probe {
		return nil, ErrNotImplemented
	}
	size, err := fileSize(path)
	if err != nil {
		return nil, err
	}
	content, err := fileContent(path, r.Format)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"filesize": size,
		"content":  content,
	}, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}

func fileContent(path, format string) (string, error) {
	switch format {
	case ".html":
		return htmlText(path)
	case ".pdf":
		return pdfText(path)
	default:
		return "", fmt.Errorf("no text extractor for format %q", format)
	}
}

func htmlText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("parse html %s: %w", path, err)
	}
	return doc.Text(), nil
}

func pdfText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(text); err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", path, err)
	}
	return buf.String(), nil
}
