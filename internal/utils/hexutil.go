// internal/utils/hexutil.go
package utils

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// BytesToHex encodes payload bytes as an uppercase hexadecimal string
// with no separators, two characters per byte.
func BytesToHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// HexToBytes decodes a hexadecimal string into raw bytes. Both upper
// and lower case input are accepted; surrounding whitespace is ignored.
func HexToBytes(s string) ([]byte, error) {
	cleaned := strings.TrimSpace(s)
	data, err := hex.DecodeString(strings.ToLower(cleaned))
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}
