// Package api exposes the messaging core over HTTP: a gin router with
// JSON command endpoints and a websocket event stream. The daemon serves
// it on a unix socket; the caller's identity arrives in the X-User-ID
// header set by the local client.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/conversation"
	"github.com/pfraquete/EKKLE-sub009/internal/domain"
	"github.com/pfraquete/EKKLE-sub009/internal/message"
	"github.com/pfraquete/EKKLE-sub009/internal/presence"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
	"github.com/pfraquete/EKKLE-sub009/internal/typing"
	"github.com/pfraquete/EKKLE-sub009/internal/unread"
)

const userHeader = "X-User-ID"

// Handlers binds the HTTP surface to the domain services.
type Handlers struct {
	db            *store.DB
	bus           *bus.Bus
	conversations *conversation.Registry
	messages      *message.Service
	typing        *typing.Coordinator
	presence      *presence.Tracker
	unread        *unread.Counter
	logger        *zap.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(
	db *store.DB,
	b *bus.Bus,
	conversations *conversation.Registry,
	messages *message.Service,
	coordinator *typing.Coordinator,
	tracker *presence.Tracker,
	counter *unread.Counter,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		db:            db,
		bus:           b,
		conversations: conversations,
		messages:      messages,
		typing:        coordinator,
		presence:      tracker,
		unread:        counter,
		logger:        logger,
	}
}

// Router builds the gin engine with every route mounted under /v1.
func (h *Handlers) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	{
		v1.PUT("/presence/:user", h.putPresence)
		v1.GET("/presence/:user", h.getPresence)

		v1.POST("/conversations", h.createConversation)
		v1.GET("/conversations", h.listConversations)
		v1.GET("/conversations/:id", h.getConversation)
		v1.POST("/conversations/:id/typing", h.postTyping)
		v1.POST("/conversations/:id/read", h.postRead)
		v1.POST("/conversations/:id/messages", h.postMessage)
		v1.GET("/conversations/:id/messages", h.listMessages)

		v1.DELETE("/messages/:id", h.deleteMessage)
		v1.GET("/unread", h.getUnread)
		v1.GET("/events", h.streamEvents)
	}
	return r
}

// callerID extracts the authenticated user from the request. The socket is
// mode 0600, so the header is trusted.
func callerID(c *gin.Context) (string, bool) {
	id := c.GetHeader(userHeader)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + userHeader + " header"})
		return "", false
	}
	return id, true
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidReference):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	}
}

type presenceRequest struct {
	Online *bool `json:"online"`
}

func (h *Handlers) putPresence(c *gin.Context) {
	userID := c.Param("user")
	caller, ok := callerID(c)
	if !ok {
		return
	}
	if caller != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "presence can only be set for yourself"})
		return
	}

	// Body is optional: a bare PUT is a heartbeat.
	var req presenceRequest
	_ = c.ShouldBindJSON(&req)

	if req.Online != nil && !*req.Online {
		h.presence.SetOffline(userID)
	} else {
		h.presence.SetOnline(userID)
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": h.presence.IsOnline(userID)})
}

func (h *Handlers) getPresence(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	userID := c.Param("user")

	p, err := h.db.GetPresence(userID)
	if err != nil {
		h.writeError(c, domain.Transient("get presence", err))
		return
	}
	resp := gin.H{"user_id": userID, "online": h.presence.IsOnline(userID)}
	if p != nil {
		resp["last_heartbeat_at"] = p.LastHeartbeatAt
	}
	c.JSON(http.StatusOK, resp)
}

type createConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1"`
}

func (h *Handlers) createConversation(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.conversations.Create(append(req.ParticipantIDs, caller))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conversationView(conv))
}

func (h *Handlers) listConversations(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	summaries, err := h.conversations.List(caller)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		row := conversationView(&s.Conversation)
		row["last_message_preview"] = s.LastMessagePreview
		row["last_message_at"] = s.LastMessageAt
		row["unread_count"] = s.UnreadCount
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (h *Handlers) getConversation(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	detail, err := h.conversations.Get(c.Param("id"), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}

	parts := make([]gin.H, 0, len(detail.Participants))
	for _, p := range detail.Participants {
		parts = append(parts, gin.H{
			"user_id":              p.UserID,
			"joined_at":            p.JoinedAt,
			"last_read_message_id": p.LastReadMessageID,
			"online":               h.presence.IsOnline(p.UserID),
			"typing":               h.typing.IsTyping(detail.ID, p.UserID),
		})
	}
	resp := conversationView(&detail.Conversation)
	resp["participants"] = parts
	c.JSON(http.StatusOK, resp)
}

type typingRequest struct {
	Typing *bool `json:"typing" binding:"required"`
}

func (h *Handlers) postTyping(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")

	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if member, err := h.db.IsParticipant(conversationID, caller); err != nil {
		h.writeError(c, domain.Transient("participant check", err))
		return
	} else if !member {
		h.writeError(c, domain.ErrForbidden)
		return
	}

	if *req.Typing {
		h.typing.Signal(conversationID, caller)
	} else {
		h.typing.Stop(conversationID, caller)
	}
	c.Status(http.StatusNoContent)
}

type readRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
}

func (h *Handlers) postRead(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversations.MarkRead(c.Param("id"), caller, req.MessageID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content     string   `json:"content" binding:"required"`
	ReplyToID   int64    `json:"reply_to_id"`
	Attachments []string `json:"attachments"`
	ClientKey   string   `json:"client_key"`
}

func (h *Handlers) postMessage(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.messages.Send(message.SendInput{
		ConversationID: c.Param("id"),
		SenderID:       caller,
		Content:        req.Content,
		ReplyToID:      req.ReplyToID,
		Attachments:    req.Attachments,
		ClientKey:      req.ClientKey,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageView(m))
}

func (h *Handlers) listMessages(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	page, err := h.messages.List(c.Param("id"), caller, c.Query("cursor"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	msgs := make([]gin.H, 0, len(page.Messages))
	for i := range page.Messages {
		msgs = append(msgs, messageView(&page.Messages[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "next_cursor": page.NextCursor})
}

func (h *Handlers) deleteMessage(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id must be an integer"})
		return
	}

	if err := h.messages.Delete(id, caller); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) getUnread(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	total, err := h.unread.Total(caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	byConv, err := h.unread.ByConversation(caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "by_conversation": byConv})
}

func conversationView(conv *store.Conversation) gin.H {
	return gin.H{
		"id":               conv.ID,
		"is_direct":        conv.IsDirect,
		"created_at":       conv.CreatedAt,
		"last_activity_at": conv.LastActivityAt,
	}
}

func messageView(m *store.Message) gin.H {
	v := gin.H{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"content":         m.Content,
		"created_at":      m.CreatedAt,
		"deleted":         m.Deleted,
	}
	if m.SenderID != "" {
		v["sender_id"] = m.SenderID
	}
	if m.ReplyToID != 0 {
		v["reply_to_id"] = m.ReplyToID
	}
	if len(m.Attachments) > 0 {
		v["attachments"] = m.Attachments
	}
	return v
}
