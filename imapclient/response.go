package imapclient

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// response is a single server response, literals included.
type response struct {
	raw string
	// "" for untagged responses, "+" for continuation requests
	tag    string
	num    uint32
	hasNum bool
	// Upper-case response name, e.g. "OK", "EXISTS" or "FETCH"
	name string
	// Positioned right after the response name
	dec *imapwire.Decoder

	status *imap.StatusResponse
	// Continuation request text
	text string

	codeCaps  imap.CapSet
	codeFlags []imap.Flag
	codeNum   uint32
	codeUID   imap.UID
}

// readRaw reads a complete response, including any literal.
//
// If the read fails, the data received so far is kept and the next call
// resumes from there. This allows reads to be interrupted by deadlines.
func (c *Client) readRaw() ([]byte, error) {
	for {
		if c.literalLeft > 0 {
			buf := make([]byte, c.literalLeft)
			n, err := io.ReadFull(c.br, buf)
			c.partial = append(c.partial, buf[:n]...)
			c.literalLeft -= int64(n)
			if err != nil {
				return nil, err
			}
			continue
		}

		s, err := c.br.ReadString('\n')
		c.partial = append(c.partial, s...)
		if err != nil {
			return nil, err
		}

		size, ok, err := literalSize(c.partial[c.segStart:])
		if err != nil {
			return nil, err
		} else if ok {
			if max := c.options.maxLiteralSize(); size > max {
				return nil, fmt.Errorf("imapclient: literal too large (%v bytes, max %v)", size, max)
			}
			c.literalLeft = size
			c.segStart = len(c.partial) + int(size)
			continue
		}

		raw := c.partial
		c.partial = nil
		c.segStart = 0
		return raw, nil
	}
}

// literalSize checks whether a line ends with a literal header.
func literalSize(line []byte) (size int64, ok bool, err error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 || line[len(line)-1] != '}' {
		return 0, false, nil
	}
	i := bytes.LastIndexByte(line, '{')
	if i < 0 {
		return 0, false, nil
	}
	digits := bytes.TrimSuffix(line[i+1:len(line)-1], []byte("+"))
	if len(digits) == 0 {
		return 0, false, nil
	}
	size, err = strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("imapclient: invalid literal size: %v", err)
	}
	return size, true, nil
}

func parseResponse(raw []byte) (*response, error) {
	resp := &response{raw: strings.TrimRight(string(raw), "\r\n")}
	dec := imapwire.NewDecoder(bufio.NewReader(bytes.NewReader(raw)), imapwire.ConnSideClient)
	resp.dec = dec

	if dec.Special('+') {
		resp.tag = "+"
		if dec.SP() {
			dec.Text(&resp.text)
		}
		return resp, nil
	}

	if !dec.Special('*') && !dec.ExpectAtom(&resp.tag) {
		return nil, fmt.Errorf("in response: %v", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, fmt.Errorf("in response: %v", dec.Err())
	}
	if resp.tag == "" && dec.Number(&resp.num) {
		resp.hasNum = true
		if !dec.ExpectSP() {
			return nil, fmt.Errorf("in response: %v", dec.Err())
		}
	}
	if !dec.ExpectAtom(&resp.name) {
		return nil, fmt.Errorf("in response: %v", dec.Err())
	}
	resp.name = strings.ToUpper(resp.name)

	switch imap.StatusResponseType(resp.name) {
	case imap.StatusResponseTypeOK, imap.StatusResponseTypeNo, imap.StatusResponseTypeBad, imap.StatusResponseTypePreAuth, imap.StatusResponseTypeBye:
		if err := resp.readStatus(); err != nil {
			return nil, fmt.Errorf("in status response: %v", err)
		}
	default:
		if resp.tag != "" {
			return nil, fmt.Errorf("in response: unexpected tagged response %q", resp.name)
		}
	}
	return resp, nil
}

// readStatus reads resp-text: an optional response code and human-readable
// text.
func (resp *response) readStatus() error {
	dec := resp.dec
	resp.status = &imap.StatusResponse{Type: imap.StatusResponseType(resp.name)}
	if !dec.SP() {
		return nil
	}

	if dec.Special('[') {
		var code string
		if !dec.ExpectAtom(&code) {
			return dec.Err()
		}
		resp.status.Code = imap.ResponseCode(strings.ToUpper(code))
		if err := resp.readCodeArgs(); err != nil {
			return err
		}
		if !dec.ExpectSpecial(']') {
			return dec.Err()
		}
		if !dec.SP() {
			return nil
		}
	}

	dec.Text(&resp.status.Text)
	return nil
}

func (resp *response) readCodeArgs() error {
	dec := resp.dec
	switch resp.status.Code {
	case imap.ResponseCodeCapability:
		caps, err := readCapabilities(dec)
		if err != nil {
			return err
		}
		resp.codeCaps = caps
		return nil
	case imap.ResponseCodePermanentFlags:
		if !dec.ExpectSP() {
			return dec.Err()
		}
		flags, err := internal.ExpectFlagList(dec)
		if err != nil {
			return err
		}
		resp.codeFlags = flags
		return nil
	case imap.ResponseCodeUIDNext, imap.ResponseCodeUIDValidity:
		if !dec.ExpectSP() || !dec.ExpectNumber(&resp.codeNum) {
			return dec.Err()
		}
		return nil
	case imap.ResponseCodeAppendUID:
		var uid uint32
		if !dec.ExpectSP() || !dec.ExpectNumber(&resp.codeNum) || !dec.ExpectSP() || !dec.ExpectNumber(&uid) {
			return dec.Err()
		}
		resp.codeUID = imap.UID(uid)
		return nil
	default:
		dec.Skip(']')
		return nil
	}
}
