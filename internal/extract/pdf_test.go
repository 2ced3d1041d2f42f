package extract

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/postgate/postgate/internal/errors"
)

func TestExtract_EmptyInput(t *testing.T) {
	e := NewPDFExtractor(zerolog.Nop())
	_, err := e.Extract(nil)
	require.Error(t, err)
	assert.Equal(t, pgerrors.CodeMissingInput, pgerrors.GetCode(err))
	assert.True(t, strings.HasPrefix(SentinelText(err), "No PDF"))
}

func TestExtract_NotAPDF(t *testing.T) {
	e := NewPDFExtractor(zerolog.Nop())
	_, err := e.Extract([]byte("this is plainly not a pdf document"))
	require.Error(t, err)
	assert.Equal(t, pgerrors.ErrCategoryInput, pgerrors.GetCategory(err))
	assert.True(t, strings.HasPrefix(SentinelText(err), "Error"))
}

func TestExtractFile_Missing(t *testing.T) {
	e := NewPDFExtractor(zerolog.Nop())
	_, err := e.ExtractFile(filepath.Join(t.TempDir(), "absent.pdf"))
	require.Error(t, err)
	assert.Equal(t, pgerrors.CodeMissingInput, pgerrors.GetCode(err))

	_, err = e.ExtractFile("")
	assert.Equal(t, pgerrors.CodeMissingInput, pgerrors.GetCode(err))
}

func TestSentinelText(t *testing.T) {
	assert.Equal(t, msgNoText, SentinelText(pgerrors.NewInputError(pgerrors.CodeEmptyContent, "x")))
	assert.True(t, strings.HasPrefix(SentinelText(errors.New("other")), "Error"))
}
