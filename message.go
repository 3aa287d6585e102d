package imap

import (
	"time"
)

// UID is a message unique identifier.
type UID uint32

// NumKind selects how messages are numbered: by sequence number or by UID.
type NumKind int

const (
	NumKindSeq NumKind = iota + 1
	NumKindUID
)

// String implements fmt.Stringer.
func (kind NumKind) String() string {
	switch kind {
	case NumKindSeq:
		return "seq"
	case NumKindUID:
		return "uid"
	default:
		return "unknown"
	}
}

// Address is a sender or recipient of a message.
type Address struct {
	Name    string
	Address string
}

// Message is a message fetched from the selected mailbox.
//
// Header fields are read from the message body. They are left empty if the
// body could not be parsed.
type Message struct {
	SeqNum       uint32
	UID          UID
	Flags        []Flag
	InternalDate time.Time
	Size         int64
	Body         []byte

	// Kind is the numbering mode used to identify this message, see Num.
	Kind NumKind

	Subject   string
	Date      time.Time
	From      []Address
	To        []Address
	MessageID string
}

// Num returns the message number according to Kind: the UID for NumKindUID,
// the sequence number otherwise.
func (msg *Message) Num() uint32 {
	if msg.Kind == NumKindUID {
		return uint32(msg.UID)
	}
	return msg.SeqNum
}

// HasFlag checks whether the message has the given flag.
func (msg *Message) HasFlag(flag Flag) bool {
	for _, f := range msg.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
