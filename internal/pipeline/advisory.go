package pipeline

import (
	"errors"
	"fmt"

	pgerrors "github.com/postgate/postgate/internal/errors"
)

const (
	advisoryTooShort    = "⚠️ The uploaded content is too short to generate a compelling social media post. Please provide a longer document."
	advisoryEmpty       = "⚠️ Unable to extract usable content from the document. Please try again with a different file."
	advisoryNoOutput    = "⚠️ No usable output returned by the language model."
	advisoryUnavailable = "⚠️ The language model did not respond in time. Please try again in a moment."
)

// Advisory converts a classified failure into the message shown to the user.
func Advisory(err error) string {
	if err == nil {
		return ""
	}
	switch pgerrors.GetCategory(err) {
	case pgerrors.ErrCategoryInput:
		if pgerrors.GetCode(err) == pgerrors.CodeContentTooShort {
			return advisoryTooShort
		}
		return advisoryEmpty
	case pgerrors.ErrCategoryBackend:
		switch pgerrors.GetCode(err) {
		case pgerrors.CodeEmptyCompletion:
			return advisoryNoOutput
		case pgerrors.CodeTimeout:
			return advisoryUnavailable
		}
	case pgerrors.ErrCategoryExhausted:
		attempts, _ := pgerrors.GetDetails(err)["attempts"].(int)
		return fmt.Sprintf("⚠️ Could not produce a unique post after %d attempts. Please try again later or try a different tone.", attempts)
	}
	return fmt.Sprintf("Error generating social media post: %s", messageOf(err))
}

func messageOf(err error) string {
	var pe *pgerrors.PostgateError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
