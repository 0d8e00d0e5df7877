package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine runs recognition through the gosseract client. A fresh
// client is created per call; gosseract clients are not safe for concurrent
// reuse.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
}

func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) ExtractText(ctx context.Context, image []byte, lang string) (string, error) {
	const op = "ocr.ExtractText"

	// Decode first so corrupt uploads fail with a clear error instead of a
	// Tesseract-internal one. The decoded pixels are only used for
	// validation and go out of scope here.
	img, err := imaging.Decode(bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("%s: decode image: %v", op, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return "", fmt.Errorf("%s: empty image", op)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("%s: set image: %v", op, err)
	}
	if lang != "" {
		if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
			return "", fmt.Errorf("%s: set languages: %v", op, err)
		}
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("%s: recognize: %v", op, err)
	}
	return strings.TrimSpace(text), nil
}
