// Package extract pulls plain text out of uploaded PDF documents.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	pgerrors "github.com/postgate/postgate/internal/errors"
)

// Failure messages start with one of the sentinel prefixes the pipeline
// recognizes ("Error", "No PDF", "No text").
const (
	msgNoPDF  = "No PDF file provided."
	msgNoText = "No text could be extracted from the PDF."
)

// PDFExtractor extracts text from PDF bytes or files.
type PDFExtractor struct {
	logger zerolog.Logger
}

// NewPDFExtractor creates an extractor.
func NewPDFExtractor(logger zerolog.Logger) *PDFExtractor {
	return &PDFExtractor{logger: logger}
}

// ExtractFile reads the PDF at path.
func (e *PDFExtractor) ExtractFile(path string) (string, error) {
	if path == "" {
		return "", pgerrors.NewInputError(pgerrors.CodeMissingInput, msgNoPDF)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", pgerrors.NewInputError(pgerrors.CodeMissingInput, msgNoPDF)
		}
		return "", extractFailed(err)
	}
	return e.Extract(data)
}

// Extract returns the plain text of the PDF in data.
func (e *PDFExtractor) Extract(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", pgerrors.NewInputError(pgerrors.CodeMissingInput, msgNoPDF)
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().Interface("panic", r).Msg("pdf parser panicked")
			text, err = "", extractFailed(fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", extractFailed(err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", extractFailed(err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", extractFailed(err)
	}

	text = strings.TrimSpace(buf.String())
	if text == "" {
		return "", pgerrors.NewInputError(pgerrors.CodeEmptyContent, msgNoText)
	}
	e.logger.Debug().
		Int("pages", reader.NumPage()).
		Int("chars", len(text)).
		Msg("pdf text extracted")
	return text, nil
}

func extractFailed(cause error) error {
	return pgerrors.Wrap(pgerrors.ErrCategoryInput, pgerrors.CodeExtractFailed,
		"Error extracting text from PDF: "+cause.Error(), cause)
}

// SentinelText returns the user-facing message of an extraction failure,
// which always starts with a sentinel prefix.
func SentinelText(err error) string {
	switch pgerrors.GetCode(err) {
	case pgerrors.CodeMissingInput:
		return msgNoPDF
	case pgerrors.CodeEmptyContent:
		return msgNoText
	}
	return "Error extracting text from PDF."
}
