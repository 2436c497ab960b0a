package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	beepit "github.com/julianarecha/beepit-server"
)

const (
	// MaxFrameSize is the largest frame accepted or produced, in bytes.
	MaxFrameSize = 1 << 20 // 1MB
	// MaxTopicLength is the longest topic name accepted, in bytes.
	MaxTopicLength = 256
)

// FrameType identifies a frame on the wire.
type FrameType string

// Inbound frame types.
const (
	TypeSubscribe   FrameType = "subscribe"
	TypeUnsubscribe FrameType = "unsubscribe"
	TypePublish     FrameType = "publish"
	TypeDirect      FrameType = "direct"
	TypeMembers     FrameType = "members"
)

// Outbound frame types.
const (
	TypeWelcome      FrameType = "welcome"
	TypeMessage      FrameType = "message"
	TypeAck          FrameType = "ack"
	TypeError        FrameType = "error"
	TypeSubscribed   FrameType = "subscribed"
	TypeUnsubscribed FrameType = "unsubscribed"
)

// Kind is the content kind of a routed message.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindFile   Kind = "file"
	KindSystem Kind = "system" // server-originated only
)

// ErrProtocol is the sentinel every *Error unwraps to.
var ErrProtocol = errors.New("protocol error")

// Error describes a malformed inbound frame.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "protocol error: " + e.Reason
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error { return ErrProtocol }

func newError(field, reason string) error {
	return &Error{Field: field, Reason: reason}
}

// Inbound is a frame received from a client.
type Inbound struct {
	Type    FrameType       `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	To      string          `json:"to,omitempty"`
	Kind    Kind            `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses and validates a client frame.
// The payload of the returned frame references data; do not modify data afterwards.
func Decode(data []byte) (*Inbound, error) {
	if len(data) == 0 {
		return nil, newError("", "empty frame")
	}
	if len(data) > MaxFrameSize {
		return nil, newError("", fmt.Sprintf("frame size %d exceeds maximum %d bytes", len(data), MaxFrameSize))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var in Inbound
	if err := dec.Decode(&in); err != nil {
		return nil, newError("", beepit.ErrInvalidMessageFormat+": "+err.Error())
	}
	if dec.More() {
		return nil, newError("", "trailing data after frame")
	}

	if err := in.validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *Inbound) validate() error {
	switch in.Type {
	case TypeSubscribe, TypeUnsubscribe, TypeMembers:
		return validateTopic(in.Topic)
	case TypePublish:
		if err := validateTopic(in.Topic); err != nil {
			return err
		}
		if in.To != "" {
			return newError("to", "recipient is not allowed on publish")
		}
		return in.validateKind()
	case TypeDirect:
		if in.To == "" {
			return newError("to", beepit.ErrMissingRecipient)
		}
		// A direct frame is routed by its missing topic.
		if in.Topic != "" {
			return newError("topic", "topic is not allowed on direct")
		}
		return in.validateKind()
	case "":
		return newError("type", "frame type is required")
	default:
		return newError("type", fmt.Sprintf("%s: %q", beepit.ErrUnknownFrameType, in.Type))
	}
}

func (in *Inbound) validateKind() error {
	switch in.Kind {
	case "":
		in.Kind = KindText
	case KindText, KindImage, KindFile:
	case KindSystem:
		return newError("kind", "system messages cannot be sent by clients")
	default:
		return newError("kind", fmt.Sprintf("unknown kind %q", in.Kind))
	}
	return nil
}

// ValidateTopic reports whether name is an acceptable topic name.
func ValidateTopic(name string) error {
	return validateTopic(name)
}

func validateTopic(name string) error {
	switch {
	case name == "":
		return newError("topic", beepit.ErrMissingTopic)
	case len(name) > MaxTopicLength:
		return newError("topic", fmt.Sprintf("topic length %d exceeds maximum %d", len(name), MaxTopicLength))
	case !utf8.ValidString(name):
		return newError("topic", "topic is not valid UTF-8")
	case name == beepit.DirectChannel:
		return newError("topic", "topic name is reserved")
	}
	return nil
}

// Outbound is a frame sent to a client.
type Outbound struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	From      string          `json:"from,omitempty"`
	Client    string          `json:"client,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	To        string          `json:"to,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Kind      Kind            `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
	Members   []string        `json:"members,omitempty"`
	Delivered *int            `json:"delivered,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Encode serializes an outbound frame.
func Encode(f *Outbound) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d bytes", len(data), MaxFrameSize)
	}
	return data, nil
}

// DecodeOutbound parses a server frame. Used by clients and tests.
func DecodeOutbound(data []byte) (*Outbound, error) {
	var f Outbound
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode server frame: %w", err)
	}
	return &f, nil
}

// AckFrame confirms that a message was accepted for routing.
func AckFrame(id string, seq uint64, delivered int) *Outbound {
	return &Outbound{Type: TypeAck, ID: id, Seq: seq, Delivered: &delivered}
}

// ErrorFrame reports a failed request back to its origin.
func ErrorFrame(code string, seq uint64, topic, message string) *Outbound {
	return &Outbound{Type: TypeError, Code: code, Seq: seq, Topic: topic, Message: message}
}

// SubscribedFrame confirms a subscription with the members at that point in time.
func SubscribedFrame(topic string, members []string) *Outbound {
	return &Outbound{Type: TypeSubscribed, Topic: topic, Members: members}
}

// UnsubscribedFrame confirms an unsubscription.
func UnsubscribedFrame(topic string) *Outbound {
	return &Outbound{Type: TypeUnsubscribed, Topic: topic}
}

// MembersFrame lists the members of a topic.
func MembersFrame(topic string, members []string) *Outbound {
	return &Outbound{Type: TypeMembers, Topic: topic, Members: members}
}

// WelcomeFrame tells a client its connection id.
func WelcomeFrame(connID, clientID string) *Outbound {
	return &Outbound{Type: TypeWelcome, ID: connID, Client: clientID}
}
