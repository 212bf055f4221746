package payment

import (
	"fmt"

	"rsc.io/qr"
)

// QRCodePNG renders a PIX copy-paste code as a PNG image for chat delivery.
// Medium error correction is enough for on-screen scanning.
func QRCodePNG(pixCode string) ([]byte, error) {
	if pixCode == "" {
		return nil, fmt.Errorf("payment: empty pix code")
	}
	code, err := qr.Encode(pixCode, qr.M)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return code.PNG(), nil
}
