package imapclient

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// ID sends an ID command.
//
// The client identification fields are sent, sorted by name. A nil map sends
// NIL. The fields returned by the server are returned, or nil if the server
// sent NIL.
//
// This command requires support for the ID extension.
func (c *Client) ID(fields map[string]string) (map[string]string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var serverFields map[string]string
	_, err := c.execute("ID", func(enc *imapwire.Encoder) {
		enc.SP()
		if fields == nil {
			enc.Atom("NIL")
			return
		}
		enc.List(len(keys), func(i int) {
			enc.String(keys[i]).SP().String(fields[keys[i]])
		})
	}, func(resp *response) (bool, error) {
		if resp.name != "ID" {
			return false, nil
		}
		data, err := readID(resp.dec)
		if err != nil {
			return true, fmt.Errorf("in id: %v", err)
		}
		serverFields = data
		return true, nil
	})
	return serverFields, err
}

func readID(dec *imapwire.Decoder) (map[string]string, error) {
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}

	var nilAtom string
	if dec.Atom(&nilAtom) {
		if !strings.EqualFold(nilAtom, "NIL") {
			return nil, fmt.Errorf("expected NIL, got %q", nilAtom)
		}
		return nil, nil
	}

	data := make(map[string]string)
	var key string
	var haveKey bool
	err := dec.ExpectList(func() error {
		if !haveKey {
			if !dec.ExpectString(&key) {
				return dec.Err()
			}
			haveKey = true
			return nil
		}
		var value string
		if _, ok := dec.ExpectNString(&value); !ok {
			return dec.Err()
		}
		data[key] = value
		haveKey = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
