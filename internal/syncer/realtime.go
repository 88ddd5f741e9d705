package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	realtimeHeartbeatInterval = 25 * time.Second
	realtimeReconnectDelay    = 2 * time.Second
)

// phoenixMessage is the wire frame of a Phoenix channel connection, which is
// what hosted Postgres realtime gateways speak.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// RealtimeClient subscribes to row-change broadcasts for the shared state
// table and forwards new revisions to a callback. It reconnects forever
// until the context is cancelled; push delivery is best-effort because the
// revision poll catches anything the socket misses.
type RealtimeClient struct {
	url    string
	apiKey string
	schema string
	table  string
	log    zerolog.Logger

	// OnRevision receives the revision carried by each change broadcast;
	// 0 when the broadcast did not include one.
	OnRevision func(revision int64)
}

func NewRealtimeClient(url, apiKey, schema, table string, log zerolog.Logger) *RealtimeClient {
	if strings.TrimSpace(schema) == "" {
		schema = "public"
	}
	return &RealtimeClient{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		schema: schema,
		table:  table,
		log:    log.With().Str("component", "realtime").Logger(),
	}
}

func (c *RealtimeClient) topic() string {
	return fmt.Sprintf("realtime:%s:%s", c.schema, c.table)
}

// Run connects and listens until the context is cancelled, reconnecting
// after transient failures.
func (c *RealtimeClient) Run(ctx context.Context) {
	if c.url == "" {
		return
	}
	for {
		if err := c.listen(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("realtime connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(realtimeReconnectDelay):
		}
	}
}

func (c *RealtimeClient) listen(ctx context.Context) error {
	dialURL := c.url
	if c.apiKey != "" {
		separator := "?"
		if strings.Contains(dialURL, "?") {
			separator = "&"
		}
		dialURL += separator + "apikey=" + c.apiKey
	}
	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	join := phoenixMessage{
		Topic:   c.topic(),
		Event:   "phx_join",
		Payload: json.RawMessage(`{}`),
		Ref:     "1",
	}
	if err := wsjson.Write(ctx, conn, join); err != nil {
		return err
	}
	c.log.Info().Str("topic", c.topic()).Msg("subscribed to realtime changes")

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go c.heartbeat(heartbeatCtx, conn)

	for {
		var message phoenixMessage
		if err := wsjson.Read(ctx, conn, &message); err != nil {
			return err
		}
		switch message.Event {
		case "INSERT", "UPDATE":
			revision := extractRevision(message.Payload)
			c.log.Debug().Int64("revision", revision).Str("event", message.Event).Msg("change broadcast received")
			if c.OnRevision != nil {
				c.OnRevision(revision)
			}
		case "phx_reply", "phx_error", "heartbeat":
		}
	}
}

func (c *RealtimeClient) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(realtimeHeartbeatInterval)
	defer ticker.Stop()
	ref := 2
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			message := phoenixMessage{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: json.RawMessage(`{}`),
				Ref:     fmt.Sprintf("%d", ref),
			}
			ref++
			if err := wsjson.Write(ctx, conn, message); err != nil {
				return
			}
		}
	}
}

// extractRevision digs the revision column out of a change broadcast
// payload. Gateways differ on nesting, so both the flat record form and the
// record-under-payload form are accepted.
func extractRevision(payload json.RawMessage) int64 {
	if len(payload) == 0 {
		return 0
	}
	var outer struct {
		Record map[string]json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(payload, &outer); err != nil {
		return 0
	}
	record := outer.Record
	if record == nil {
		if err := json.Unmarshal(payload, &record); err != nil {
			return 0
		}
	}
	raw, ok := record["revision"]
	if !ok {
		return 0
	}
	var revision int64
	if err := json.Unmarshal(raw, &revision); err != nil {
		return 0
	}
	return revision
}
