package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"

	"github.com/nawkwoo/voice-chat/internal/conn"
	"github.com/nawkwoo/voice-chat/internal/observability"
	"github.com/nawkwoo/voice-chat/internal/pipeline"
	"github.com/nawkwoo/voice-chat/internal/protocol"
	"github.com/nawkwoo/voice-chat/internal/storage"
	"github.com/nawkwoo/voice-chat/internal/vector"
)

// Dispatcher routes parsed client frames to their handlers. A frame never
// crashes the connection's read loop; anything unparseable is answered with
// an error frame.
type Dispatcher struct {
	Pipeline *pipeline.Orchestrator
	Store    storage.Store
	Index    vector.Index
	Metrics  *observability.Metrics
}

// HandleFrame processes one inbound text frame for c.
func (d *Dispatcher) HandleFrame(ctx context.Context, c *conn.Conn, raw []byte) {
	msg, err := protocol.ParseClientMessage(raw)
	if err != nil {
		d.countInbound("invalid")
		switch {
		case errors.Is(err, protocol.ErrUnsupportedType):
			d.sendError(c, "unknown message type")
		case errors.Is(err, protocol.ErrInvalidMessage):
			d.sendError(c, "invalid message")
		default:
			d.sendError(c, err.Error())
		}
		return
	}

	switch m := msg.(type) {
	case protocol.Audio:
		d.countInbound(string(protocol.TypeAudio))
		d.handleAudio(ctx, c, m)
	case protocol.GetStats:
		d.countInbound(string(protocol.TypeGetStats))
		d.handleGetStats(ctx, c)
	default:
		d.sendError(c, "unknown message type")
	}
}

func (d *Dispatcher) handleAudio(ctx context.Context, c *conn.Conn, m protocol.Audio) {
	data, err := base64.StdEncoding.DecodeString(m.Payload())
	if err != nil {
		d.sendError(c, "audio payload is not valid base64")
		return
	}

	// One in-flight turn per connection. A second utterance while busy is
	// rejected immediately, not queued.
	if !c.TryAcquireTurn() {
		d.sendError(c, "busy")
		return
	}

	turn := pipeline.Turn{
		UserID:    c.UserID,
		SessionID: c.SessionID,
		Audio:     data,
		Send:      c.Send,
	}
	go func() {
		defer c.ReleaseTurn()
		res := d.Pipeline.Run(ctx, turn)
		log.Printf("dispatch: turn for session %s finished outcome=%s total=%dms",
			c.SessionID, res.Outcome, res.Timings.TotalMS)
	}()
}

func (d *Dispatcher) handleGetStats(ctx context.Context, c *conn.Conn) {
	sessionStats, err := d.Store.SessionStats(ctx, c.SessionID)
	if err != nil {
		log.Printf("dispatch: session stats for %s failed: %v", c.SessionID, err)
		d.sendError(c, "could not load session stats")
		return
	}
	userStats, err := d.Store.UserStats(ctx, c.UserID)
	if err != nil {
		log.Printf("dispatch: user stats for %s failed: %v", c.UserID, err)
		d.sendError(c, "could not load user stats")
		return
	}

	indexStats := map[string]any{}
	if d.Index != nil {
		if s, err := d.Index.Stats(ctx); err != nil {
			log.Printf("dispatch: index stats failed: %v", err)
		} else {
			indexStats = toMap(s)
		}
	}

	frame := protocol.Stats{
		Type:    protocol.TypeStats,
		Session: toMap(sessionStats),
		User:    toMap(userStats),
		Index:   indexStats,
	}
	if err := c.Send(frame); err != nil {
		log.Printf("dispatch: sending stats to session %s failed: %v", c.SessionID, err)
	}
	d.countOutbound(string(protocol.TypeStats))
}

func (d *Dispatcher) sendError(c *conn.Conn, msg string) {
	err := c.Send(protocol.Error{Type: protocol.TypeError, Message: msg})
	if err != nil {
		log.Printf("dispatch: sending error %q failed: %v", msg, err)
	}
	d.countOutbound(string(protocol.TypeError))
}

func (d *Dispatcher) countInbound(msgType string) {
	if d.Metrics != nil {
		d.Metrics.WSMessages.WithLabelValues("in", msgType).Inc()
	}
}

func (d *Dispatcher) countOutbound(msgType string) {
	if d.Metrics != nil {
		d.Metrics.WSMessages.WithLabelValues("out", msgType).Inc()
	}
}

// toMap flattens a stats struct through its JSON form so the wire frame stays
// schema-free for older clients.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
