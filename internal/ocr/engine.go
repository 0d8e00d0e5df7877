// Package ocr wraps the external text-recognition engine behind a small
// interface so the worker can be exercised without a Tesseract install.
package ocr

import "context"

// Engine extracts text from raw image bytes. lang is a Tesseract-style
// language set such as "rus+eng". Implementations must treat undecodable
// input as an error, not as empty text.
type Engine interface {
	ExtractText(ctx context.Context, image []byte, lang string) (string, error)
}
