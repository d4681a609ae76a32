// ABOUTME: REST API handlers for thread listing, thread creation, history, attachments and presence
// ABOUTME: Every thread-scoped route checks membership first and denies uniformly

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/tandem/internal/attachments"
	"github.com/2389/tandem/internal/auth"
	"github.com/2389/tandem/internal/conversation"
	"github.com/2389/tandem/internal/store"
)

// uploadContent is the message text recorded for attachment uploads.
const uploadContent = "Sent a file"

// multipartOverhead is the allowance on top of the attachment limit for
// multipart framing and form fields.
const multipartOverhead = 1 << 20

var validate = validator.New()

// ThreadResponse is a thread in API responses.
type ThreadResponse struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// ThreadListResponse is the response for GET /api/threads.
type ThreadListResponse struct {
	Threads []ThreadResponse `json:"threads"`
}

// StartThreadRequest is the body for POST /api/threads.
type StartThreadRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

// MessageResponse is a stored message in API responses.
type MessageResponse struct {
	ID            int64                      `json:"id"`
	ThreadID      string                     `json:"thread_id"`
	SenderID      string                     `json:"sender_id"`
	Sender        string                     `json:"sender"`
	Content       string                     `json:"content"`
	AttachmentURL *string                    `json:"attachment_url"`
	ReplyTo       *conversation.ReplyPreview `json:"reply_to"`
	Timestamp     string                     `json:"timestamp"`
	CreatedAt     string                     `json:"created_at"`
	IsDelivered   bool                       `json:"is_delivered"`
	DeliveredAt   *string                    `json:"delivered_at,omitempty"`
	IsRead        bool                       `json:"is_read"`
	ReadAt        *string                    `json:"read_at,omitempty"`
	IsEdited      bool                       `json:"is_edited"`
}

// ThreadMessagesResponse is the response for GET /api/threads/{id}/messages.
type ThreadMessagesResponse struct {
	ThreadID string            `json:"thread_id"`
	Messages []MessageResponse `json:"messages"`
}

// UploadResponse is the direct response to the uploading client.
type UploadResponse struct {
	MessageID     int64   `json:"message_id"`
	TempID        *string `json:"temp_id"`
	AttachmentURL string  `json:"attachment_url"`
	Timestamp     string  `json:"timestamp"`
}

// PresenceResponse lists actors with a live session on a thread.
type PresenceResponse struct {
	ThreadID string   `json:"thread_id"`
	Online   []string `json:"online"`
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	authMiddleware := auth.HTTPAuthMiddleware(g.verifier, g.logger)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}

	handle("GET /api/threads", g.handleListThreads)
	handle("POST /api/threads", g.handleStartThread)
	handle("GET /api/threads/{id}/messages", g.handleThreadMessages)
	handle("POST /api/threads/{id}/attachments", g.handleUploadAttachment)
	handle("GET /api/threads/{id}/presence", g.handlePresence)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseLimit reads the optional limit query parameter. Zero means the store default.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, false
	}
	return limit, true
}

// authorize checks membership and writes the denial itself when it fails.
func (g *Gateway) authorize(w http.ResponseWriter, r *http.Request, actor *auth.Actor, threadID string) bool {
	err := g.guard.Authorize(r.Context(), actor.ID, threadID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, conversation.ErrForbidden):
		g.sendJSONError(w, http.StatusForbidden, conversation.ErrForbidden.Error())
	default:
		g.logger.Error("failed to check membership", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toThreadResponse(t *store.Thread, _ int) ThreadResponse {
	return ThreadResponse{
		ID:           t.ID,
		Participants: t.Participants,
		CreatedAt:    formatTime(t.CreatedAt),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
}

func toMessageResponse(m *store.Message, _ int) MessageResponse {
	resp := MessageResponse{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		SenderID:    m.SenderID,
		Sender:      m.SenderName,
		Content:     m.Content,
		Timestamp:   conversation.ClockTime(m.CreatedAt),
		CreatedAt:   formatTime(m.CreatedAt),
		IsDelivered: m.Delivered,
		IsRead:      m.Read,
		IsEdited:    m.Edited,
	}
	if m.AttachmentURL != "" {
		resp.AttachmentURL = lo.ToPtr(m.AttachmentURL)
	}
	if m.ReplyTo != nil {
		resp.ReplyTo = &conversation.ReplyPreview{
			ID:       m.ReplyTo.ID,
			Content:  m.ReplyTo.Content,
			Sender:   m.ReplyTo.SenderName,
			SenderID: m.ReplyTo.SenderID,
		}
	}
	if m.DeliveredAt != nil {
		resp.DeliveredAt = lo.ToPtr(formatTime(*m.DeliveredAt))
	}
	if m.ReadAt != nil {
		resp.ReadAt = lo.ToPtr(formatTime(*m.ReadAt))
	}
	return resp
}

// handleListThreads handles GET /api/threads.
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	limit, ok := parseLimit(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	threads, err := g.registry.List(r.Context(), actor.ID, limit)
	if err != nil {
		g.logger.Error("failed to list threads", "actor_id", actor.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ThreadListResponse{Threads: lo.Map(threads, toThreadResponse)})
}

// handleStartThread handles POST /api/threads.
func (g *Gateway) handleStartThread(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req StartThreadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validate.Struct(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "participant_id is required")
		return
	}

	thread, err := g.registry.GetOrCreate(r.Context(), actor.ID, req.ParticipantID)
	if errors.Is(err, store.ErrInvalidOperation) {
		g.sendJSONError(w, http.StatusBadRequest, "cannot start a thread with yourself")
		return
	}
	if err != nil {
		g.logger.Error("failed to start thread", "actor_id", actor.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toThreadResponse(thread, 0))
}

// handleThreadMessages handles GET /api/threads/{id}/messages. Opening the
// history marks the other participants' messages read.
func (g *Gateway) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())
	threadID := r.PathValue("id")

	limit, ok := parseLimit(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if !g.authorize(w, r, actor, threadID) {
		return
	}

	if _, err := g.messages.MarkThreadRead(r.Context(), threadID, actor.ID); err != nil {
		g.logger.Error("failed to mark thread read", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	messages, err := g.messages.History(r.Context(), threadID, limit)
	if err != nil {
		g.logger.Error("failed to get messages", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ThreadMessagesResponse{
		ThreadID: threadID,
		Messages: lo.Map(messages, toMessageResponse),
	})
}

// handleUploadAttachment handles POST /api/threads/{id}/attachments. The
// uploader gets a direct response and the thread group gets message_created.
func (g *Gateway) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())
	threadID := r.PathValue("id")

	if !g.authorize(w, r, actor, threadID) {
		return
	}

	if limit := g.attachments.MaxSize(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, attachments.ErrTooLarge.Error())
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	stored, err := g.attachments.Save(r.Context(), threadID, header.Filename, file)
	switch {
	case errors.Is(err, attachments.ErrTooLarge):
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, attachments.ErrEmpty):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to store attachment", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.metrics.UploadBytes.Observe(float64(stored.Size))

	msg, err := g.messages.Create(r.Context(), conversation.CreateParams{
		ThreadID:      threadID,
		SenderID:      actor.ID,
		SenderName:    actor.DisplayName(),
		Content:       uploadContent,
		AttachmentURL: stored.URL,
	})
	if err != nil {
		g.logger.Error("failed to record attachment message", "thread_id", threadID, "error", err)
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
		if derr := g.attachments.Discard(cleanupCtx, stored); derr != nil {
			g.logger.Warn("orphaned attachment left in storage", "key", stored.Key, "error", derr)
		}
		cancel()
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var tempID *string
	rawTempID := json.RawMessage("null")
	if v := r.FormValue("temp_id"); v != "" {
		tempID = &v
		rawTempID, _ = json.Marshal(v)
	}
	g.broadcaster.Publish(threadID, conversation.NewMessageCreated(msg, rawTempID), "")

	writeJSON(w, http.StatusOK, UploadResponse{
		MessageID:     msg.ID,
		TempID:        tempID,
		AttachmentURL: stored.URL,
		Timestamp:     conversation.ClockTime(msg.CreatedAt),
	})
}

// handlePresence handles GET /api/threads/{id}/presence.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())
	threadID := r.PathValue("id")

	if !g.authorize(w, r, actor, threadID) {
		return
	}

	online, err := g.presence.Online(r.Context(), threadID)
	if err != nil {
		g.logger.Error("failed to read presence", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if online == nil {
		online = []string{}
	}

	writeJSON(w, http.StatusOK, PresenceResponse{ThreadID: threadID, Online: online})
}
