// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

var pdfMagic = []byte("%PDF")

// textExtensions are passed through as UTF-8 text.
var textExtensions = map[string]bool{
	"":          true,
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
}

// Kind names a supported document format.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindText Kind = "text"
)

// Detect reports the format of data named name.
func Detect(name string, data []byte) (Kind, bool) {
	if bytes.HasPrefix(data, pdfMagic) {
		return KindPDF, true
	}
	ext := strings.ToLower(filepath.Ext(name))
	if textExtensions[ext] && utf8.Valid(data) {
		return KindText, true
	}
	return "", false
}

// Document extracts sanitized text from data. PDFs are recognized by their
// magic bytes whatever their name.
func Document(name string, data []byte) (string, error) {
	kind, ok := Detect(name, data)
	if !ok {
		return "", dcerrors.UnsupportedDocument(name)
	}

	var text string
	switch kind {
	case KindPDF:
		raw, err := pdfText(data)
		if err != nil {
			return "", dcerrors.New(dcerrors.ErrCodeUnsupportedDocument,
				fmt.Sprintf("could not read PDF %s", name), err)
		}
		text = raw
	default:
		text = string(data)
	}

	text = Sanitize(text)
	if text == "" {
		return "", dcerrors.EmptyDocument(fmt.Sprintf("no extractable text in %s", name))
	}
	return text, nil
}

// File reads and extracts the document at path. Files larger than maxBytes
// are rejected; maxBytes <= 0 disables the check.
func File(path string, maxBytes int64) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", dcerrors.New(dcerrors.ErrCodeFileNotFound, fmt.Sprintf("cannot open %s", path), err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return "", dcerrors.New(dcerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s is %d bytes, limit is %d", path, info.Size(), maxBytes), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", dcerrors.New(dcerrors.ErrCodeFileNotFound, fmt.Sprintf("cannot read %s", path), err)
	}
	return Document(filepath.Base(path), data)
}

// pdfText extracts the plain text of every page. The parser panics on some
// malformed input; that is reported as an error.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}

// Sanitize drops NUL and other non-printing control characters except
// common whitespace, repairs invalid UTF-8 and trims the result.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch {
		case ch == '\n' || ch == '\r' || ch == '\t':
			b.WriteRune(ch)
		case ch < 0x20 || ch == 0x7f:
		default:
			b.WriteRune(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
