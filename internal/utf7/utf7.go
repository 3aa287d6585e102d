// Package utf7 implements the modified UTF-7 encoding of mailbox names
// defined in RFC 3501 section 5.1.3.
package utf7

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	min = 0x20 // Minimum self-representing UTF-7 value
	max = 0x7E // Maximum self-representing UTF-7 value
)

var enc = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,").WithPadding(base64.NoPadding)

// ErrInvalid is returned when a mailbox name isn't valid modified UTF-7.
var ErrInvalid = errors.New("utf7: invalid UTF-7")

// Encode converts a UTF-8 mailbox name to modified UTF-7.
func Encode(s string) string {
	var sb strings.Builder
	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		units := utf16.Encode(run)
		b := make([]byte, 0, 2*len(units))
		for _, u := range units {
			b = append(b, byte(u>>8), byte(u))
		}
		sb.WriteByte('&')
		sb.WriteString(enc.EncodeToString(b))
		sb.WriteByte('-')
		run = run[:0]
	}

	for _, r := range s {
		if r >= min && r <= max {
			flush()
			if r == '&' {
				sb.WriteString("&-")
			} else {
				sb.WriteRune(r)
			}
			continue
		}
		run = append(run, r)
	}
	flush()
	return sb.String()
}

// Decode converts a modified UTF-7 mailbox name to UTF-8.
func Decode(s string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < min || ch > max {
			return "", ErrInvalid
		}
		if ch != '&' {
			sb.WriteByte(ch)
			continue
		}

		end := strings.IndexByte(s[i+1:], '-')
		if end < 0 {
			return "", ErrInvalid
		}
		chunk := s[i+1 : i+1+end]
		i += end + 1
		if chunk == "" {
			sb.WriteByte('&')
			continue
		}

		b, err := enc.DecodeString(chunk)
		if err != nil || len(b)%2 != 0 {
			return "", ErrInvalid
		}
		units := make([]uint16, len(b)/2)
		for j := range units {
			units[j] = uint16(b[2*j])<<8 | uint16(b[2*j+1])
		}
		for _, r := range utf16.Decode(units) {
			if r == utf8.RuneError || (r >= min && r <= max) {
				return "", ErrInvalid
			}
			sb.WriteRune(r)
		}
	}
	return sb.String(), nil
}
