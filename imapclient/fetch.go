package imapclient

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

var fetchItems = []string{"UID", "FLAGS", "INTERNALDATE", "RFC822.SIZE", "BODY.PEEK[]"}

// Fetch sends a FETCH command for a single message, identified by its
// sequence number.
//
// The full message body is fetched without setting the \Seen flag. Header
// fields are parsed from the body. If the server doesn't return the message,
// an error wrapping ErrNoSuchMessage is returned.
func (c *Client) Fetch(seqNum uint32) (*imap.Message, error) {
	var msg *imap.Message
	_, err := c.execute("FETCH", func(enc *imapwire.Encoder) {
		enc.SP().Number(seqNum).SP().List(len(fetchItems), func(i int) {
			enc.Atom(fetchItems[i])
		})
	}, func(resp *response) (bool, error) {
		if resp.name != "FETCH" || resp.num != seqNum || msg != nil {
			return false, nil
		}
		if !resp.dec.ExpectSP() {
			return true, resp.dec.Err()
		}
		m, err := readMsgAtt(resp.dec, seqNum)
		if err != nil {
			return true, err
		}
		msg = m
		return true, nil
	})
	if err != nil {
		return nil, err
	} else if msg == nil {
		return nil, fmt.Errorf("imapclient: message %v: %w", seqNum, ErrNoSuchMessage)
	}

	parseHeader(msg, c.log)
	return msg, nil
}

func readMsgAtt(dec *imapwire.Decoder, seqNum uint32) (*imap.Message, error) {
	msg := &imap.Message{SeqNum: seqNum, Kind: imap.NumKindSeq}
	err := dec.ExpectList(func() error {
		var attName string
		if !dec.ExpectAtom(&attName) {
			return dec.Err()
		}
		attName = strings.ToUpper(attName)

		switch attName {
		case "UID":
			var uid uint32
			if !dec.ExpectSP() || !dec.ExpectNumber(&uid) {
				return dec.Err()
			}
			msg.UID = imap.UID(uid)
		case "FLAGS":
			if !dec.ExpectSP() {
				return dec.Err()
			}
			flags, err := internal.ExpectFlagList(dec)
			if err != nil {
				return err
			}
			msg.Flags = flags
		case "INTERNALDATE":
			if !dec.ExpectSP() {
				return dec.Err()
			}
			t, err := internal.ExpectDateTime(dec)
			if err != nil {
				return err
			}
			msg.InternalDate = t
		case "RFC822.SIZE":
			if !dec.ExpectSP() {
				return dec.Err()
			}
			size, ok := dec.ExpectNumber64()
			if !ok {
				return dec.Err()
			}
			msg.Size = size
		case "BODY[":
			if !dec.ExpectSpecial(']') {
				return dec.Err()
			}
			// Partial responses carry the origin octet, e.g. BODY[]<0>
			var origin string
			dec.Atom(&origin)
			if !dec.ExpectSP() || !dec.ExpectNBytes(&msg.Body) {
				return dec.Err()
			}
		default:
			if strings.Contains(attName, "[") {
				dec.Skip(']')
				if !dec.ExpectSpecial(']') {
					return dec.Err()
				}
				var partial string
				dec.Atom(&partial)
			}
			if !dec.ExpectSP() || !dec.DiscardValue() {
				return dec.Err()
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("in msg-att: %w", err)
	}
	return msg, nil
}

// parseHeader fills the message header fields from its body. Malformed
// fields are left empty.
func parseHeader(msg *imap.Message, log *zerolog.Logger) {
	if len(msg.Body) == 0 {
		return
	}
	entity, err := message.Read(bytes.NewReader(msg.Body))
	if entity == nil {
		log.Debug().Err(err).Uint32("seq", msg.SeqNum).Msg("failed to parse message header")
		return
	} else if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
		log.Debug().Err(err).Uint32("seq", msg.SeqNum).Msg("message body can't be decoded")
	}

	h := mail.Header{Header: entity.Header}
	msg.Subject, _ = h.Subject()
	msg.MessageID, _ = h.MessageID()
	msg.Date, _ = h.Date()
	msg.From = convertAddressList(h.AddressList("From"))
	msg.To = convertAddressList(h.AddressList("To"))
}

func convertAddressList(l []*mail.Address, err error) []imap.Address {
	if err != nil {
		return nil
	}
	var out []imap.Address
	for _, addr := range l {
		out = append(out, imap.Address{Name: addr.Name, Address: addr.Address})
	}
	return out
}
