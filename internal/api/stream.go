package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
)

const (
	streamBufSize  = 64
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	topicSeparator = ","
)

// eventEnvelope is the wire form of a bus event on the websocket stream.
type eventEnvelope struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Key       string `json:"key"`
	Timestamp int64  `json:"ts"`
	Payload   any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon listens on a local unix socket; browsers never reach it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and forwards bus events as JSON
// envelopes. The optional topics query parameter is a comma-separated
// list of namespace prefixes ("message.,typing."); empty means all
// events. A slow consumer loses events rather than stalling publishers.
func (h *Handlers) streamEvents(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	topics := []string{""}
	if raw := c.Query("topics"); raw != "" {
		topics = strings.Split(raw, topicSeparator)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("event stream opened",
		zap.String("user_id", caller),
		zap.Strings("topics", topics))

	events := make(chan bus.Event, streamBufSize)
	done := make(chan struct{})
	for _, topic := range topics {
		ch, unsub := h.bus.Subscribe(strings.TrimSpace(topic), streamBufSize)
		defer unsub()
		go func() {
			for {
				select {
				case evt, open := <-ch:
					if !open {
						return
					}
					select {
					case events <- evt:
					case <-done:
						return
					default:
						// Merged buffer full, drop like the bus does.
					}
				case <-done:
					return
				}
			}
		}()
	}

	// Reader detects the peer closing; we never expect data frames.
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("event stream closed", zap.String("user_id", caller))
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(envelope(evt)); err != nil {
				h.logger.Warn("event stream write failed",
					zap.String("user_id", caller), zap.Error(err))
				return
			}
		}
	}
}

func envelope(evt bus.Event) eventEnvelope {
	return eventEnvelope{
		ID:        uuid.New().String(),
		Kind:      evt.Kind,
		Key:       evt.Key,
		Timestamp: evt.Timestamp.UnixMilli(),
		Payload:   payloadView(evt.Payload),
	}
}

// payloadView maps the typed bus payloads onto the snake_case JSON the
// rest of the API speaks.
func payloadView(p any) any {
	switch v := p.(type) {
	case bus.MessageCreated:
		return gin.H{
			"conversation_id": v.ConversationID,
			"message_id":      v.MessageID,
			"sender_id":       v.SenderID,
			"preview":         v.Preview,
			"created_at":      v.CreatedAt.UnixMilli(),
		}
	case bus.TypingChanged:
		return gin.H{
			"conversation_id": v.ConversationID,
			"user_id":         v.UserID,
			"is_typing":       v.IsTyping,
		}
	case bus.PresenceChanged:
		return gin.H{
			"user_id":   v.UserID,
			"is_online": v.IsOnline,
		}
	case bus.ReadUpdated:
		return gin.H{
			"conversation_id": v.ConversationID,
			"user_id":         v.UserID,
			"message_id":      v.UptoMessageID,
		}
	default:
		return v
	}
}
