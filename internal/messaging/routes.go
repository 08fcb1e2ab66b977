// internal/messaging/routes.go

package messaging

import (
	"net/http"

	"github.com/gorilla/mux"
)

// AuthMiddleware type for the authentication middleware function
type AuthMiddleware func(http.HandlerFunc) http.HandlerFunc

// RegisterRoutes registers all messaging routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware AuthMiddleware) {
	// WebSocket endpoint - requires authentication
	router.HandleFunc("/ws", authMiddleware(handler.HandleWebSocket)).Methods("GET")

	// REST API endpoints
	api := router.PathPrefix("/api/v1/messaging").Subrouter()

	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authMiddleware(next.ServeHTTP)(w, r)
		})
	})

	// Conversation endpoints
	api.HandleFunc("/conversations", handler.GetConversations).Methods("GET")
	api.HandleFunc("/conversations", handler.CreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}/read", handler.MarkRead).Methods("POST")

	// Message endpoints
	api.HandleFunc("/conversations/{id}/messages", handler.GetMessages).Methods("GET")
	api.HandleFunc("/messages", handler.SendMessage).Methods("POST")
	api.HandleFunc("/conversations/{id}/messages/{messageId}", handler.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/conversations/{id}/messages/{messageId}/status", handler.UpdateMessageStatus).Methods("POST")

	// Attachment upload endpoint
	api.HandleFunc("/attachments", handler.UploadAttachment).Methods("POST")
}

// RegisterHealthCheck exposes hub liveness outside the authed API prefix
func RegisterHealthCheck(router *mux.Router, handler *Handler) {
	router.HandleFunc("/health/messaging", handler.HealthCheck).Methods("GET")
}
