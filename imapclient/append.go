package imapclient

import (
	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Append sends an APPEND command.
//
// The message is sent as a literal. Non-synchronizing literals are used if
// the server supports LITERAL+.
//
// A nil options pointer is equivalent to a zero options value.
func (c *Client) Append(mailbox string, msg []byte, options *imap.AppendOptions) (*imap.AppendData, error) {
	completion, err := c.execute("APPEND", func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(mailbox).SP()
		if options != nil && len(options.Flags) > 0 {
			enc.List(len(options.Flags), func(i int) {
				enc.Flag(string(options.Flags[i]))
			}).SP()
		}
		if options != nil && !options.Time.IsZero() {
			enc.String(options.Time.Format(internal.DateTimeLayout)).SP()
		}
		wc := enc.Literal(int64(len(msg)))
		wc.Write(msg)
		wc.Close()
	}, nil)
	if err != nil {
		return nil, err
	}

	var data imap.AppendData
	if completion.status.Code == imap.ResponseCodeAppendUID {
		data.UIDValidity = completion.codeNum
		data.UID = completion.codeUID
	}
	return &data, nil
}
