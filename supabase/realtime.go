package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 25 * time.Second
	redialBase        = time.Second
	redialCap         = 30 * time.Second
)

// RealtimeClient handles realtime change subscriptions over websocket.
type RealtimeClient struct {
	client *Client
	mu     sync.Mutex

	subscriptions map[string]*Subscription
}

// RealtimeHandler handles change events.
type RealtimeHandler func(event RealtimeEvent)

// Subscription is an active channel subscription to one table.
type Subscription struct {
	client *RealtimeClient
	topic  string
	schema string
	table  string

	handler RealtimeHandler
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	ref    int
	closed bool
}

// phxMessage is the phoenix-channel wire frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// changePayload is the payload of a data event.
type changePayload struct {
	Type            string                 `json:"type"`
	Schema          string                 `json:"schema"`
	Table           string                 `json:"table"`
	CommitTimestamp time.Time              `json:"commit_timestamp"`
	Record          map[string]interface{} `json:"record"`
	OldRecord       map[string]interface{} `json:"old_record"`
}

// Subscribe opens a websocket, joins the channel for schema.table and
// dispatches every change event to handler until Unsubscribe or ctx end.
// The connection is redialed with backoff after transport failures.
func (r *RealtimeClient) Subscribe(ctx context.Context, schema, table string, handler RealtimeHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if schema == "" {
		schema = "public"
	}

	topic := fmt.Sprintf("realtime:%s:%s", schema, table)

	r.mu.Lock()
	if r.subscriptions == nil {
		r.subscriptions = make(map[string]*Subscription)
	}
	if _, exists := r.subscriptions[topic]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", topic)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		client:  r,
		topic:   topic,
		schema:  schema,
		table:   table,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.subscriptions[topic] = sub
	r.mu.Unlock()

	if err := sub.dial(subCtx); err != nil {
		r.remove(topic)
		cancel()
		return nil, err
	}

	go sub.run(subCtx)
	return sub, nil
}

// Unsubscribe leaves the channel and closes the connection.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.conn != nil {
		_ = s.send(s.conn, "phx_leave", nil)
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.client.remove(s.topic)
}

func (r *RealtimeClient) remove(topic string) {
	r.mu.Lock()
	delete(r.subscriptions, topic)
	r.mu.Unlock()
}

func (s *Subscription) dial(ctx context.Context) error {
	wsURL := fmt.Sprintf("%s/websocket?apikey=%s&vsn=1.0.0", s.client.client.realtimeURL, s.client.client.config.AnonKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}

	// The join races a heartbeat tick on redial, so it holds the lock
	// like every other send.
	s.mu.Lock()
	if err := s.send(conn, "phx_join", map[string]interface{}{}); err != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("join channel: %w", err)
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// send writes one phoenix frame on conn. Callers hold s.mu.
func (s *Subscription) send(conn *websocket.Conn, event string, payload interface{}) error {
	s.ref++
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	topic := s.topic
	if event == "heartbeat" {
		topic = "phoenix"
	}
	return conn.WriteJSON(phxMessage{
		Topic:   topic,
		Event:   event,
		Payload: body,
		Ref:     strconv.Itoa(s.ref),
	})
}

// run owns the read loop, heartbeats and reconnection.
func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				s.mu.Lock()
				conn := s.conn
				if conn != nil {
					if err := s.send(conn, "heartbeat", map[string]interface{}{}); err != nil {
						log.Println("realtime heartbeat error:", err)
					}
				}
				s.mu.Unlock()
			}
		}
	}()

	redial := redialBase
	for {
		s.mu.Lock()
		conn := s.conn
		closed := s.closed
		s.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		if conn != nil {
			s.readLoop(conn)
		}

		// Connection lost. Redial with backoff until it sticks.
		for {
			s.mu.Lock()
			closed = s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(redial):
			}
			if err := s.dial(ctx); err != nil {
				log.Println("realtime redial error:", err)
				redial *= 2
				if redial > redialCap {
					redial = redialCap
				}
				continue
			}
			redial = redialBase
			break
		}
	}
}

// readLoop reads frames until the connection breaks.
func (s *Subscription) readLoop(conn *websocket.Conn) {
	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Println("realtime read error:", err)
			}
			return
		}

		switch msg.Event {
		case EventInsert, EventUpdate, EventDelete:
			var payload changePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				log.Println("realtime payload decode error:", err)
				continue
			}
			ts := payload.CommitTimestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			s.handler(RealtimeEvent{
				Type:      msg.Event,
				Table:     s.table,
				Schema:    s.schema,
				Record:    payload.Record,
				OldRecord: payload.OldRecord,
				Timestamp: ts,
			})
		case "phx_reply", "phx_close", "heartbeat":
			// Channel bookkeeping, nothing to dispatch.
		}
	}
}
