package envelope

import (
	"encoding/base64"
	"fmt"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("envelope: invalid base64 content key: %w", err)
	}
	return data, nil
}
