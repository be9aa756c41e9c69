// Package protocol provides the lobby message envelope carried inside frame
// payloads. Messages use the protobuf wire format so any protobuf runtime can
// read them with a matching schema:
//
//	message Message {
//	  uint32 kind      = 1;
//	  string player_id = 2;
//	  string name      = 3;
//	  string text      = 4;
//	  string version   = 5;
//	  uint64 tick      = 6;
//	  uint64 timestamp = 7;
//	}
package protocol

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Version is sent in Hello and checked by nothing yet.
const Version = "1.0.0"

// Kind discriminates the message payload.
type Kind uint32

const (
	KindHello Kind = iota + 1
	KindWelcome
	KindPing
	KindPong
	KindChat
	KindLeave
)

var (
	ErrTruncated   = errors.New("truncated message")
	ErrUnknownKind = errors.New("unknown message kind")
)

// Message is the single envelope type. Unused fields stay zero and are not
// written.
type Message struct {
	Kind      Kind
	PlayerID  string
	Name      string
	Text      string
	Version   string
	Tick      uint64
	Timestamp uint64 // unix milliseconds
}

const (
	fieldKind protowire.Number = iota + 1
	fieldPlayerID
	fieldName
	fieldText
	fieldVersion
	fieldTick
	fieldTimestamp
)

// Encode serializes msg.
func Encode(msg *Message) []byte {
	b := make([]byte, 0, 16+len(msg.PlayerID)+len(msg.Name)+len(msg.Text)+len(msg.Version))
	b = appendVarint(b, fieldKind, uint64(msg.Kind))
	b = appendString(b, fieldPlayerID, msg.PlayerID)
	b = appendString(b, fieldName, msg.Name)
	b = appendString(b, fieldText, msg.Text)
	b = appendString(b, fieldVersion, msg.Version)
	b = appendVarint(b, fieldTick, msg.Tick)
	b = appendVarint(b, fieldTimestamp, msg.Timestamp)
	return b
}

// Decode deserializes data. Unknown fields are skipped.
func Decode(data []byte) (*Message, error) {
	msg := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(ErrTruncated, protowire.ParseError(n).Error())
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrapf(ErrTruncated, "field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldKind:
				msg.Kind = Kind(v)
			case fieldTick:
				msg.Tick = v
			case fieldTimestamp:
				msg.Timestamp = v
			}
		case typ == protowire.BytesType && isStringField(num):
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, errors.Wrapf(ErrTruncated, "field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldPlayerID:
				msg.PlayerID = v
			case fieldName:
				msg.Name = v
			case fieldText:
				msg.Text = v
			case fieldVersion:
				msg.Version = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errors.Wrapf(ErrTruncated, "field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if msg.Kind < KindHello || msg.Kind > KindLeave {
		return nil, errors.Wrapf(ErrUnknownKind, "kind %d", msg.Kind)
	}
	return msg, nil
}

// NewHello creates the first message a client sends.
func NewHello(name string) *Message {
	return &Message{Kind: KindHello, Name: name, Version: Version}
}

// NewWelcome answers a Hello with the assigned player ID.
func NewWelcome(playerID string, tickRate int, serverTime time.Time) *Message {
	return &Message{
		Kind:      KindWelcome,
		PlayerID:  playerID,
		Tick:      uint64(tickRate),
		Timestamp: uint64(serverTime.UnixMilli()),
	}
}

// NewPing creates a latency sample stamped with sentAt.
func NewPing(sentAt time.Time) *Message {
	return &Message{Kind: KindPing, Timestamp: uint64(sentAt.UnixMilli())}
}

// NewPong echoes a ping's timestamp.
func NewPong(ping *Message, tick uint64) *Message {
	return &Message{Kind: KindPong, Timestamp: ping.Timestamp, Tick: tick}
}

// NewChat creates a chat line. The server fills in the sender on relay.
func NewChat(playerID, name, text string) *Message {
	return &Message{Kind: KindChat, PlayerID: playerID, Name: name, Text: text}
}

// NewLeave announces that a player left.
func NewLeave(playerID, name string) *Message {
	return &Message{Kind: KindLeave, PlayerID: playerID, Name: name}
}

// KindName returns a human-readable name for the message kind.
func KindName(k Kind) string {
	switch k {
	case KindHello:
		return "Hello"
	case KindWelcome:
		return "Welcome"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindChat:
		return "Chat"
	case KindLeave:
		return "Leave"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(k))
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return KindName(k)
}

func isVarintField(num protowire.Number) bool {
	return num == fieldKind || num == fieldTick || num == fieldTimestamp
}

func isStringField(num protowire.Number) bool {
	return num >= fieldPlayerID && num <= fieldVersion
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
