// Package internal contains helpers shared by the IMAP client and its tests.
package internal

import (
	"fmt"
	"time"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// DateTimeLayout is the layout of date-time values, see RFC 9051 section 9.
const DateTimeLayout = "_2-Jan-2006 15:04:05 -0700"

func ExpectFlagList(dec *imapwire.Decoder) ([]imap.Flag, error) {
	var flags []imap.Flag
	err := dec.ExpectList(func() error {
		flag, err := ExpectFlag(dec)
		if err != nil {
			return err
		}
		flags = append(flags, imap.Flag(flag))
		return nil
	})
	return flags, err
}

func ExpectFlag(dec *imapwire.Decoder) (string, error) {
	isSystem := dec.Special('\\')
	if isSystem && dec.Special('*') {
		return "\\*", nil // flag-perm
	}
	var name string
	if !dec.ExpectAtom(&name) {
		return "", fmt.Errorf("in flag: %w", dec.Err())
	}
	if isSystem {
		name = "\\" + name
	}
	return name, nil
}

func ExpectDateTime(dec *imapwire.Decoder) (time.Time, error) {
	var s string
	if !dec.ExpectString(&s) {
		return time.Time{}, dec.Err()
	}
	t, err := time.Parse(DateTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("in date-time: %w", err)
	}
	return t, nil
}
