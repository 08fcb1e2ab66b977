// internal/messaging/handlers.go

package messaging

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Mawa444/conso-gab-sub006/internal/auth"
	"github.com/Mawa444/conso-gab-sub006/internal/common/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the reverse proxy.
		return true
	},
}

type Handler struct {
	service Service
	hub     *Hub
	rt      Realtime
	storage AttachmentStorage
}

func NewHandler(service Service, hub *Hub, rt Realtime, storage AttachmentStorage) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		rt:      rt,
		storage: storage,
	}
}

// HandleWebSocket upgrades the connection and registers a session-backed
// client with the hub.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := NewSession(userID, h.service, h.rt)
	client := NewClient(h.hub, conn, session)

	h.hub.register <- client
	client.Start()
}

// CreateConversation creates a new conversation
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	conversation, err := h.service.CreateConversation(r.Context(), userID, &req)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, conversation, http.StatusCreated)
}

// GetConversations gets the caller's conversations with unread counts
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversations, err := h.service.FetchConversations(r.Context(), userID)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, conversations, http.StatusOK)
}

// GetMessages gets one page of conversation messages, oldest first
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID := mux.Vars(r)["id"]

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}

	messages, err := h.service.FetchConversationMessages(r.Context(), userID, conversationID, page)
	if err != nil {
		if errors.Is(err, ErrStaleFetch) {
			// A burst of REST fetches from one caller can race; retry once.
			messages, err = h.service.FetchConversationMessages(r.Context(), userID, conversationID, page)
		}
		if err != nil {
			utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	utils.SuccessResponse(w, messages, http.StatusOK)
}

// SendMessage sends a message (REST fallback for non-websocket clients)
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	req.SenderID = userID

	message, err := h.service.SendMessage(r.Context(), &req)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, message, http.StatusCreated)
}

// MarkRead resets the caller's unread count for a conversation
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID := mux.Vars(r)["id"]
	if err := h.service.MarkConversationRead(r.Context(), conversationID, userID); err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, map[string]string{"status": "read"}, http.StatusOK)
}

// UpdateMessageStatus advances a message's delivery status
func (h *Handler) UpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	err := h.service.AdvanceMessageStatus(r.Context(), vars["id"], vars["messageId"], ParseMessageStatus(req.Status))
	if err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, map[string]string{"status": "updated"}, http.StatusOK)
}

// DeleteMessage removes a message from a conversation
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	if err := h.service.DeleteMessage(r.Context(), vars["id"], vars["messageId"], userID); err != nil {
		utils.ErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	utils.SuccessResponse(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

// UploadAttachment stores out-of-band media and returns its URL
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.storage == nil {
		utils.ErrorResponse(w, "Attachment storage not configured", http.StatusServiceUnavailable)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.ErrorResponse(w, "Invalid upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := h.storage.UploadMultipartFile(r.Context(), file, header)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, map[string]string{"attachment_url": url}, http.StatusCreated)
}

// HealthCheck reports hub liveness
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]interface{}{
		"status":      "ok",
		"connections": h.hub.ActiveConnections(),
	}, http.StatusOK)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
