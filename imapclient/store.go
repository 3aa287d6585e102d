package imapclient

import (
	"fmt"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Store sends a STORE command for a single message, identified by its
// sequence number.
//
// Unless StoreFlags.Silent is set, the updated flags returned by the server
// are returned.
func (c *Client) Store(seqNum uint32, store *imap.StoreFlags) ([]imap.Flag, error) {
	var op string
	switch store.Op {
	case imap.StoreFlagsSet:
		// nothing to do
	case imap.StoreFlagsAdd:
		op = "+"
	case imap.StoreFlagsDel:
		op = "-"
	default:
		return nil, fmt.Errorf("imapclient: unknown store flags op: %v", store.Op)
	}
	item := op + "FLAGS"
	if store.Silent {
		item += ".SILENT"
	}

	var flags []imap.Flag
	_, err := c.execute("STORE", func(enc *imapwire.Encoder) {
		enc.SP().Number(seqNum).SP().Atom(item).SP().List(len(store.Flags), func(i int) {
			enc.Flag(string(store.Flags[i]))
		})
	}, func(resp *response) (bool, error) {
		if resp.name != "FETCH" || resp.num != seqNum {
			return false, nil
		}
		if !resp.dec.ExpectSP() {
			return true, resp.dec.Err()
		}
		msg, err := readMsgAtt(resp.dec, seqNum)
		if err != nil {
			return true, err
		}
		flags = msg.Flags
		return true, nil
	})
	return flags, err
}
