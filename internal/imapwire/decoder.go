package imapwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap-idle/internal/utf7"
)

// A Decoder reads IMAP data.
//
// Most methods return a boolean: false means the expected token wasn't found.
// Expect* methods additionally record an error, which can be retrieved with
// Err.
type Decoder struct {
	r    *bufio.Reader
	side ConnSide
	err  error
}

// NewDecoder creates a new decoder.
func NewDecoder(r *bufio.Reader, side ConnSide) *Decoder {
	return &Decoder{r: r, side: side}
}

func (dec *Decoder) mustUnreadByte() {
	if err := dec.r.UnreadByte(); err != nil {
		panic(fmt.Errorf("imapwire: failed to unread byte: %v", err))
	}
}

// Err returns the decoding error, if any.
func (dec *Decoder) Err() error {
	return dec.err
}

func (dec *Decoder) returnErr(err error) bool {
	if err == nil {
		return true
	}
	if dec.err == nil {
		dec.err = err
	}
	return false
}

func (dec *Decoder) readByte() (byte, bool) {
	b, err := dec.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return b, dec.returnErr(err)
	}
	return b, true
}

func (dec *Decoder) acceptByte(want byte) bool {
	got, ok := dec.readByte()
	if !ok {
		return false
	} else if got != want {
		dec.mustUnreadByte()
		return false
	}
	return true
}

// EOF returns true if there is no more data to read.
func (dec *Decoder) EOF() bool {
	_, err := dec.r.ReadByte()
	if err == io.EOF {
		return true
	} else if err != nil {
		return dec.returnErr(err)
	}
	dec.mustUnreadByte()
	return false
}

// Expect records an error if ok is false.
func (dec *Decoder) Expect(ok bool, name string) bool {
	if !ok {
		err := fmt.Errorf("expected %v", name)
		if dec.r.Buffered() > 0 {
			b, _ := dec.r.Peek(1)
			err = fmt.Errorf("%v, got %q", err, string(b))
		}
		return dec.returnErr(err)
	}
	return true
}

func (dec *Decoder) SP() bool {
	return dec.acceptByte(' ')
}

func (dec *Decoder) ExpectSP() bool {
	return dec.Expect(dec.SP(), "SP")
}

func (dec *Decoder) CRLF() bool {
	return dec.acceptByte('\r') && dec.acceptByte('\n')
}

func (dec *Decoder) ExpectCRLF() bool {
	return dec.Expect(dec.CRLF(), "CRLF")
}

func (dec *Decoder) Atom(ptr *string) bool {
	var sb strings.Builder
	for {
		b, err := dec.r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return dec.returnErr(err)
		}
		if !IsAtomChar(b) {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) ExpectAtom(ptr *string) bool {
	return dec.Expect(dec.Atom(ptr), "atom")
}

func (dec *Decoder) Special(b byte) bool {
	return dec.acceptByte(b)
}

func (dec *Decoder) ExpectSpecial(b byte) bool {
	return dec.Expect(dec.Special(b), fmt.Sprintf("'%v'", string(b)))
}

// Text reads text until the end of the line. The CRLF isn't consumed.
func (dec *Decoder) Text(ptr *string) bool {
	var sb strings.Builder
	for {
		b, err := dec.r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return dec.returnErr(err)
		} else if b == '\r' || b == '\n' {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) ExpectText(ptr *string) bool {
	return dec.Expect(dec.Text(ptr), "text")
}

// Skip discards bytes until untilCh, which isn't consumed.
func (dec *Decoder) Skip(untilCh byte) {
	for {
		ch, ok := dec.readByte()
		if !ok {
			return
		} else if ch == untilCh {
			dec.mustUnreadByte()
			return
		}
	}
}

func (dec *Decoder) digits() (string, bool) {
	var sb strings.Builder
	for {
		ch, err := dec.r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", dec.returnErr(err)
		} else if ch < '0' || ch > '9' {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(ch)
	}
	return sb.String(), sb.Len() > 0
}

func (dec *Decoder) Number(ptr *uint32) bool {
	s, ok := dec.digits()
	if !ok {
		return false
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return dec.returnErr(err)
	}
	*ptr = uint32(v)
	return true
}

func (dec *Decoder) ExpectNumber(ptr *uint32) bool {
	return dec.Expect(dec.Number(ptr), "number")
}

func (dec *Decoder) Number64() (v int64, ok bool) {
	s, ok := dec.digits()
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dec.returnErr(err)
	}
	return v, true
}

func (dec *Decoder) ExpectNumber64() (v int64, ok bool) {
	v, ok = dec.Number64()
	dec.Expect(ok, "number64")
	return v, ok
}

func (dec *Decoder) Quoted(ptr *string) bool {
	if !dec.Special('"') {
		return false
	}
	var sb strings.Builder
	for {
		ch, ok := dec.readByte()
		if !ok {
			return false
		}
		if ch == '"' {
			break
		}
		if ch == '\\' {
			ch, ok = dec.readByte()
			if !ok {
				return false
			}
		}
		sb.WriteByte(ch)
	}
	*ptr = sb.String()
	return true
}

// Literal reads a literal: a size between braces, CRLF and the raw data.
func (dec *Decoder) Literal(ptr *[]byte) bool {
	if !dec.Special('{') {
		return false
	}
	size, ok := dec.ExpectNumber64()
	if !ok {
		return false
	}
	if dec.side == ConnSideServer {
		dec.Special('+')
	}
	if !dec.ExpectSpecial('}') || !dec.ExpectCRLF() {
		return false
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(dec.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return dec.returnErr(err)
	}
	*ptr = b
	return true
}

// String reads a quoted string or a literal.
func (dec *Decoder) String(ptr *string) bool {
	if dec.Quoted(ptr) {
		return true
	}
	var b []byte
	if !dec.Literal(&b) {
		return false
	}
	*ptr = string(b)
	return true
}

func (dec *Decoder) ExpectString(ptr *string) bool {
	return dec.Expect(dec.String(ptr), "string")
}

// ExpectNString reads a string or NIL. For NIL, ptr is left untouched and isNil is
// true.
func (dec *Decoder) ExpectNString(ptr *string) (isNil, ok bool) {
	var atom string
	if dec.Atom(&atom) {
		if !strings.EqualFold(atom, "NIL") {
			return false, dec.returnErr(fmt.Errorf("expected NIL, got %q", atom))
		}
		return true, true
	}
	return false, dec.ExpectString(ptr)
}

// ExpectNBytes reads a string, a literal or NIL as raw bytes.
func (dec *Decoder) ExpectNBytes(ptr *[]byte) bool {
	if dec.Literal(ptr) {
		return true
	}
	var s string
	isNil, ok := dec.ExpectNString(&s)
	if ok && !isNil {
		*ptr = []byte(s)
	}
	return ok
}

func (dec *Decoder) AString(ptr *string) bool {
	return dec.Atom(ptr) || dec.String(ptr)
}

func (dec *Decoder) ExpectAString(ptr *string) bool {
	return dec.Expect(dec.AString(ptr), "ASTRING-CHAR")
}

// ExpectMailbox reads a mailbox name and decodes it from modified UTF-7.
func (dec *Decoder) ExpectMailbox(ptr *string) bool {
	var name string
	if !dec.ExpectAString(&name) {
		return false
	}
	if strings.EqualFold(name, "INBOX") {
		*ptr = "INBOX"
		return true
	}
	decoded, err := utf7.Decode(name)
	if err != nil {
		// Servers advertising UTF8=ACCEPT may send raw UTF-8
		decoded = name
	}
	*ptr = decoded
	return true
}

// List reads a parenthesized list, calling f for each item.
func (dec *Decoder) List(f func() error) (isList bool, err error) {
	if !dec.Special('(') {
		return false, nil
	}
	if dec.Special(')') {
		return true, nil
	}

	for {
		if err := f(); err != nil {
			return true, err
		}

		if dec.Special(')') {
			return true, nil
		} else if !dec.ExpectSP() {
			return true, dec.Err()
		}
	}
}

func (dec *Decoder) ExpectList(f func() error) error {
	isList, err := dec.List(f)
	if err != nil {
		return err
	} else if !dec.Expect(isList, "(") {
		return dec.Err()
	}
	return nil
}

// DiscardValue skips a single value: an atom, a number, a string, a literal
// or a (possibly nested) list.
func (dec *Decoder) DiscardValue() bool {
	var s string
	if dec.Quoted(&s) {
		return true
	}
	var b []byte
	if dec.Literal(&b) {
		return true
	}
	isList, err := dec.List(func() error {
		if !dec.DiscardValue() {
			return dec.Err()
		}
		return nil
	})
	if err != nil {
		return dec.returnErr(err)
	} else if isList {
		return true
	}
	if dec.Special('\\') && dec.Special('*') {
		return true // flag-perm
	}
	if !dec.ExpectAtom(&s) {
		return false
	}
	// Section specs such as BODY[HEADER.FIELDS (To)] contain spaces
	if strings.Contains(s, "[") {
		dec.Skip(']')
		if !dec.ExpectSpecial(']') {
			return false
		}
		var partial string
		dec.Atom(&partial)
	}
	return true
}
