package session

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const pairingImageSize = 256

// RenderPairingCode はペアリングコードをPNGのdata URLに変換する。
func RenderPairingCode(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, pairingImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to render pairing code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
