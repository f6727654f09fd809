// Package qr renders pairing tokens as scannable images.
package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Renderer produces a PNG data URL for a payload, matching what web clients
// drop straight into an <img> src attribute.
type Renderer struct {
	size int
}

func NewRenderer() *Renderer {
	return &Renderer{size: defaultSize}
}

func (r *Renderer) DataURL(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, r.size)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
