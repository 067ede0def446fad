package report

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// DecodeArtifact decodes a stored report artifact. The inference service
// emits the PDF as hex text in its pdf_base64 field; standard base64 is
// accepted as a fallback.
func DecodeArtifact(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("empty artifact")
	}
	if isHex(encoded) {
		return hex.DecodeString(encoded)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty artifact")
	}
	return data, nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
