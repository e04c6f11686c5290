package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests from spectators
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleConnection handles GET /ws. The optional account query parameter only labels the
// connection in logs.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")

	if err := h.connectionManager.UpgradeConnection(w, r, account); err != nil {
		// Upgrade has already written the HTTP error
		log.Debug().Err(err).Msg("websocket upgrade rejected")
	}
}

// RegisterRoutes registers the WebSocket route
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
}
