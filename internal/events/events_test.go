package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventName(t *testing.T) {
	assert.Equal(t, "connected", Event{Kind: Connected}.Name())
	assert.Equal(t, "message_dropped:queue_overflow", Event{Kind: MessageDropped, Reason: ReasonQueueOverflow}.Name())
	assert.Equal(t, "message_dropped", Event{Kind: MessageDropped}.Name())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink := NewLogSink(logger)

	sink.Emit(Event{Kind: MessageRouted, ConnID: "c1"})
	assert.Zero(t, buf.Len(), "debug events must be filtered at info level")

	sink.Emit(Event{
		Kind:     MessageDropped,
		ConnID:   "c1",
		ClientID: "alice",
		Topic:    "room1",
		Reason:   ReasonQueueOverflow,
		Seq:      42,
		Err:      errors.New("queue full"),
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "message_dropped:queue_overflow", rec["msg"])
	assert.Equal(t, "c1", rec["conn_id"])
	assert.Equal(t, "alice", rec["client_id"])
	assert.Equal(t, "room1", rec["topic"])
	assert.Equal(t, float64(42), rec["seq"])
	assert.Equal(t, "queue full", rec["error"])
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	sink.Emit(Event{Kind: Connected})
	sink.Emit(Event{Kind: RateLimited})
	sink.Emit(Event{Kind: ActorFailed})
	sink.Emit(Event{Kind: MessageRouted})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "level=INFO")
	assert.Contains(t, lines[1], "level=WARN")
	assert.Contains(t, lines[2], "level=ERROR")
	assert.Contains(t, lines[3], "level=DEBUG")
}

func TestCounters(t *testing.T) {
	c := NewCounters()
	sink := Multi(c, nil, Discard)

	sink.Emit(Event{Kind: Connected})
	sink.Emit(Event{Kind: Connected})
	sink.Emit(Event{Kind: Disconnected})
	sink.Emit(Event{Kind: MessageRouted, Count: 3})
	sink.Emit(Event{Kind: MessageDropped, Reason: ReasonQueueOverflow})
	sink.Emit(Event{Kind: MessageDropped, Reason: ReasonDrainTimeout, Count: 5})
	sink.Emit(Event{Kind: RateLimited})
	sink.Emit(Event{Kind: ProtocolViolated})
	sink.Emit(Event{Kind: ActorFailed})

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Connected)
	assert.Equal(t, int64(1), snap.Disconnected)
	assert.Equal(t, int64(3), snap.Routed)
	assert.Equal(t, int64(6), snap.Dropped)
	assert.Equal(t, int64(1), snap.DropReasons[ReasonQueueOverflow])
	assert.Equal(t, int64(5), snap.DropReasons[ReasonDrainTimeout])
	assert.Equal(t, int64(1), snap.RateLimited)
	assert.Equal(t, int64(1), snap.ProtocolErrors)
	assert.Equal(t, int64(1), snap.ActorFailures)
}

func TestSinkFunc(t *testing.T) {
	var got []Event
	sink := SinkFunc(func(e Event) { got = append(got, e) })

	sink.Emit(Event{Kind: Connected, ConnID: "a"})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ConnID)
}
