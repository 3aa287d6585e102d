package imapidle

import (
	"bufio"
	"strings"

	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// ParseChangeEvent parses a response line sent while IDLE is running.
//
// It recognizes "* N EXISTS", "* N RECENT" and "* N FETCH ..." and returns
// the sequence number N. Keywords are case-insensitive. Lines of any other
// shape, and lines where N isn't a positive number, are ignored.
func ParseChangeEvent(line string) (seqNum uint32, ok bool) {
	dec := imapwire.NewDecoder(bufio.NewReader(strings.NewReader(line)), imapwire.ConnSideClient)

	var name string
	if !dec.Special('*') || !dec.SP() || !dec.Number(&seqNum) || !dec.SP() || !dec.Atom(&name) {
		return 0, false
	}
	if seqNum == 0 {
		return 0, false
	}

	switch strings.ToUpper(name) {
	case "EXISTS", "RECENT":
		return seqNum, atLineEnd(dec)
	case "FETCH":
		return seqNum, atLineEnd(dec) || dec.SP()
	default:
		return 0, false
	}
}

func atLineEnd(dec *imapwire.Decoder) bool {
	return dec.EOF() || dec.CRLF()
}
