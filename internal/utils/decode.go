// Package utils provides header decoding helpers for go-nzbindex.
package utils

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeHeaderField decodes a raw header field (subject or poster) with
// the fallback chain ASCII -> Latin-1 -> CP037. When none applies the
// bytes are decoded as ASCII with replacement and lossy is true; the
// article is still ingested.
func DecodeHeaderField(raw string) (decoded string, lossy bool) {
	if isASCII(raw) {
		return raw, false
	}
	if s, ok := decodeLatin1(raw); ok {
		return s, false
	}
	if s, ok := decodeCP037(raw); ok {
		return s, false
	}
	return asciiReplace(raw), true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// decodeLatin1 maps bytes 1:1 to code points. Bytes in the C1 control
// block 0x80-0x9F never occur in real Latin-1 headers and are treated
// as a decode failure so the CP037 fallback gets a chance.
func decodeLatin1(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 && s[i] <= 0x9F {
			return "", false
		}
	}
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return "", false
	}
	return out, true
}

// decodeCP037 decodes EBCDIC code page 037. The result must be printable
// text, otherwise the input was not CP037 at all.
func decodeCP037(s string) (string, bool) {
	out, err := charmap.CodePage037.NewDecoder().String(s)
	if err != nil {
		return "", false
	}
	for _, r := range out {
		if r == utf8.RuneError {
			return "", false
		}
		if (r < 0x20 && r != '\t') || r == 0x7F || (r >= 0x80 && r <= 0x9F) {
			return "", false
		}
	}
	return out, true
}

func asciiReplace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < 0x80 {
			b.WriteByte(s[i])
		} else {
			b.WriteRune(utf8.RuneError)
		}
	}
	return b.String()
}
