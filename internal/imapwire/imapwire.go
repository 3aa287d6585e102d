// Package imapwire implements the IMAP wire protocol.
//
// The IMAP wire protocol is defined in RFC 9051 section 4.
package imapwire

// ConnSide describes the side of a connection: client or server.
type ConnSide int

const (
	ConnSideClient ConnSide = 1 + iota
	ConnSideServer
)

// IsAtomChar returns true if ch is an ATOM-CHAR.
func IsAtomChar(ch byte) bool {
	switch ch {
	case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
		return false
	default:
		return ch > 0x1F && ch < 0x7F
	}
}
