package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Message is a routed message.
//
// For a given Origin, Seq increases monotonically in the order the origin's
// frames were received. A Message with an empty Topic is a direct message to To.
type Message struct {
	ID        string
	Origin    string // connection id
	Client    string // authenticated client id of the origin
	Topic     string
	To        string
	Kind      Kind
	Payload   json.RawMessage
	Seq       uint64
	Timestamp time.Time
}

// NewMessage builds a routed message from a publish or direct frame.
func NewMessage(origin, client string, seq uint64, in *Inbound) (*Message, error) {
	id, err := NewMessageID()
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Origin:    origin,
		Client:    client,
		Topic:     in.Topic,
		To:        in.To,
		Kind:      in.Kind,
		Payload:   in.Payload,
		Seq:       seq,
		Timestamp: time.Now(),
	}, nil
}

// NewMessageID returns a short random message id.
func NewMessageID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return id, nil
}

// IsDirect reports whether the message targets a single connection.
func (m *Message) IsDirect() bool {
	return m.Topic == ""
}

// Frame returns the outbound frame delivered to recipients.
func (m *Message) Frame() *Outbound {
	return &Outbound{
		Type:      TypeMessage,
		ID:        m.ID,
		From:      m.Origin,
		Client:    m.Client,
		Topic:     m.Topic,
		To:        m.To,
		Seq:       m.Seq,
		Kind:      m.Kind,
		Payload:   m.Payload,
		Timestamp: m.Timestamp.UnixMilli(),
	}
}

// Encode serializes the message as delivered to recipients.
func (m *Message) Encode() ([]byte, error) {
	return Encode(m.Frame())
}

// Delivery is an encoded frame queued for one connection. Data is shared
// between all recipients of a fan-out and must not be modified.
type Delivery struct {
	Origin string
	Seq    uint64
	Topic  string
	Data   []byte
}
