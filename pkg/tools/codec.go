package tools

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"unicode/utf8"
)

// Base64Encode converts a byte slice to a Base64 string
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode converts a Base64 string back to a byte slice
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// codecs maps an encode_decode_text operation to its implementation and
// the label used in the tool output.
var codecs = map[string]struct {
	label string
	apply func(string) (string, error)
}{
	"base64_encode": {"Base64 encoded", func(s string) (string, error) {
		return Base64Encode([]byte(s)), nil
	}},
	"base64_decode": {"Base64 decoded", func(s string) (string, error) {
		b, err := Base64Decode(s)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(b) {
			return "", fmt.Errorf("decoded bytes are not valid UTF-8 text")
		}
		return string(b), nil
	}},
	"url_encode": {"URL encoded", func(s string) (string, error) {
		return url.PathEscape(s), nil
	}},
	"url_decode": {"URL decoded", url.PathUnescape},
}
