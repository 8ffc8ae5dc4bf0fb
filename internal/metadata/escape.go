package metadata

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const hexDigits = "0123456789ABCDEF"

// escape applies the legacy JavaScript escape() encoding that catalog
// consumers already decode: ASCII letters, digits and @*_+-./ pass
// through, other UTF-16 code units below 256 become %XX and the rest
// become %uXXXX.
func escape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u < 0x80 && isUnescaped(byte(u)):
			sb.WriteByte(byte(u))
		case u < 0x100:
			sb.WriteByte('%')
			sb.WriteByte(hexDigits[u>>4])
			sb.WriteByte(hexDigits[u&0xF])
		default:
			sb.WriteString("%u")
			sb.WriteByte(hexDigits[u>>12&0xF])
			sb.WriteByte(hexDigits[u>>8&0xF])
			sb.WriteByte(hexDigits[u>>4&0xF])
			sb.WriteByte(hexDigits[u&0xF])
		}
	}
	return sb.String()
}

func isUnescaped(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("@*_+-./", c) >= 0
}

// toUTF8 returns b as a string, reading it as ISO-8859-1 when it is not
// valid UTF-8. Older cameras and editors write IPTC text in Latin-1.
func toUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
