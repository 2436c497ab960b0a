package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/julianarecha/beepit-server/internal/protocol"
	"github.com/julianarecha/beepit-server/internal/version"
)

// beepit-probe joins a topic with several clients, publishes from the first
// one and checks that every other client receives each message in order and
// that the publisher gets no echo.
func main() {
	addr := flag.String("addr", "localhost:8080", "server host:port")
	path := flag.String("path", "/ws", "websocket path")
	clients := flag.Int("clients", 3, "number of clients joining the topic")
	messages := flag.Int("messages", 20, "messages published by the first client")
	topic := flag.String("topic", "", "topic to join (random when empty)")
	wait := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("beepit-probe", "version", version.Version, "addr", *addr)

	if *clients < 2 {
		logger.Error("need at least two clients")
		os.Exit(2)
	}
	if *topic == "" {
		*topic = "probe-" + gonanoid.Must(8)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	p := &probe{
		url:      url.URL{Scheme: "ws", Host: *addr, Path: *path},
		topic:    *topic,
		messages: *messages,
		logger:   logger,
	}
	if err := p.run(ctx, *clients); err != nil {
		logger.Error("probe failed", "error", err)
		os.Exit(1)
	}
	logger.Info("probe passed", "clients", *clients, "messages", *messages, "topic", *topic)
}

type probe struct {
	url      url.URL
	topic    string
	messages int
	logger   *slog.Logger
}

type session struct {
	conn *websocket.Conn
	id   string
}

func (p *probe) run(ctx context.Context, n int) error {
	sessions := make([]*session, n)
	for i := range sessions {
		s, err := p.join(ctx, fmt.Sprintf("probe-%d", i))
		if err != nil {
			return err
		}
		defer s.conn.Close()
		sessions[i] = s
	}

	publisher := sessions[0]
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range sessions[1:] {
		s := s
		g.Go(func() error { return p.expect(ctx, s, publisher.id) })
	}

	g.Go(func() error {
		for i := 1; i <= p.messages; i++ {
			if err := send(publisher.conn, map[string]any{
				"type": protocol.TypePublish, "topic": p.topic, "payload": i,
			}); err != nil {
				return err
			}
		}
		// The publisher sees only acks, one per message.
		for i := 1; i <= p.messages; i++ {
			out, err := read(ctx, publisher.conn)
			if err != nil {
				return fmt.Errorf("publisher: %w", err)
			}
			if out.Type != protocol.TypeAck {
				return fmt.Errorf("publisher: got %q frame, want ack", out.Type)
			}
			if out.Delivered != nil && *out.Delivered != n-1 {
				return fmt.Errorf("publisher: ack delivered to %d, want %d", *out.Delivered, n-1)
			}
		}
		return nil
	})

	return g.Wait()
}

func (p *probe) join(ctx context.Context, client string) (*session, error) {
	u := p.url
	u.RawQuery = url.Values{"client_id": {client}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	welcome, err := read(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if welcome.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("got %q frame, want welcome", welcome.Type)
	}

	if err := send(conn, map[string]any{"type": protocol.TypeSubscribe, "topic": p.topic}); err != nil {
		conn.Close()
		return nil, err
	}
	sub, err := read(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if sub.Type != protocol.TypeSubscribed {
		conn.Close()
		return nil, fmt.Errorf("subscribe: got %q frame (%s)", sub.Type, sub.Message)
	}

	p.logger.Debug("joined", "client", client, "id", welcome.ID)
	return &session{conn: conn, id: welcome.ID}, nil
}

func (p *probe) expect(ctx context.Context, s *session, from string) error {
	var last uint64
	for i := 1; i <= p.messages; i++ {
		out, err := read(ctx, s.conn)
		if err != nil {
			return fmt.Errorf("%s: %w", s.id, err)
		}
		if out.Type != protocol.TypeMessage {
			return fmt.Errorf("%s: got %q frame, want message", s.id, out.Type)
		}
		if out.From != from {
			return fmt.Errorf("%s: message from %s, want %s", s.id, out.From, from)
		}
		if out.Seq <= last {
			return fmt.Errorf("%s: seq %d after %d", s.id, out.Seq, last)
		}
		last = out.Seq
		if got := string(out.Payload); got != fmt.Sprint(i) {
			return fmt.Errorf("%s: payload %s, want %d", s.id, got, i)
		}
	}
	return nil
}

func send(conn *websocket.Conn, frame map[string]any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func read(ctx context.Context, conn *websocket.Conn) (*protocol.Outbound, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeOutbound(data)
}
