package imap

import (
	"sort"
	"strings"
)

// Cap represents an IMAP capability.
type Cap string

// Capabilities the client and the IDLE monitor know about.
//
// See: https://www.iana.org/assignments/imap-capabilities/
const (
	CapIMAP4rev1 Cap = "IMAP4rev1" // RFC 3501
	CapIMAP4rev2 Cap = "IMAP4rev2" // RFC 9051

	CapAuthPlain Cap = "AUTH=PLAIN"

	CapStartTLS      Cap = "STARTTLS"
	CapLoginDisabled Cap = "LOGINDISABLED"

	// Folded in IMAP4rev2
	CapIdle         Cap = "IDLE"     // RFC 2177
	CapSASLIR       Cap = "SASL-IR"  // RFC 4959
	CapUnselect     Cap = "UNSELECT" // RFC 3691
	CapUIDPlus      Cap = "UIDPLUS"  // RFC 4315
	CapEnable       Cap = "ENABLE"   // RFC 5161
	CapLiteralMinus Cap = "LITERAL-" // RFC 7888

	CapLiteralPlus Cap = "LITERAL+"    // RFC 7888
	CapUTF8Accept  Cap = "UTF8=ACCEPT" // RFC 6855
	CapUTF8Only    Cap = "UTF8=ONLY"   // RFC 6855
	CapID          Cap = "ID"          // RFC 2971
	CapMove        Cap = "MOVE"        // RFC 6851
)

var imap4rev2Caps = CapSet{
	CapIdle:         {},
	CapSASLIR:       {},
	CapUnselect:     {},
	CapUIDPlus:      {},
	CapEnable:       {},
	CapLiteralMinus: {},
}

// AuthCap returns the capability name for an SASL authentication mechanism.
func AuthCap(mechanism string) Cap {
	return Cap("AUTH=" + mechanism)
}

// CapSet is a set of capabilities.
type CapSet map[Cap]struct{}

func (set CapSet) has(c Cap) bool {
	_, ok := set[c]
	return ok
}

// Has checks whether a capability is supported.
//
// Some capabilities are implied by others, as such Has may return true even if
// the capability is not in the map.
func (set CapSet) Has(c Cap) bool {
	if set.has(c) {
		return true
	}

	if set.has(CapIMAP4rev2) && imap4rev2Caps.has(c) {
		return true
	}

	if c == CapLiteralMinus && set.has(CapLiteralPlus) {
		return true
	}
	if c == CapUTF8Accept && set.has(CapUTF8Only) {
		return true
	}

	return false
}

// AuthMechanisms returns the list of supported SASL mechanisms for
// authentication.
func (set CapSet) AuthMechanisms() []string {
	var l []string
	for c := range set {
		if !strings.HasPrefix(string(c), "AUTH=") {
			continue
		}
		l = append(l, strings.TrimPrefix(string(c), "AUTH="))
	}
	sort.Strings(l)
	return l
}

// Strings returns the sorted capability names, mostly useful for logging.
func (set CapSet) Strings() []string {
	l := make([]string, 0, len(set))
	for c := range set {
		l = append(l, string(c))
	}
	sort.Strings(l)
	return l
}
