package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mcdev12/potgame/go/internal/game"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider interface defines how the gateway reads the game
type StateProvider interface {
	Snapshot(ctx context.Context) (game.Snapshot, error)
}

// GameStateResponse represents the state sent to clients on connect or reconnect
type GameStateResponse struct {
	GameID           string         `json:"game_id"`
	Round            uint64         `json:"round"`
	BeneficiaryToken models.Token   `json:"beneficiary_token"`
	LastBuyer        models.Account `json:"last_buyer"`
	KeyPrice         models.Amount  `json:"key_price"`
	NextKeyPrice     models.Amount  `json:"next_key_price"`
	KeysSold         models.Amount  `json:"keys_sold"`
	Pot              models.Amount  `json:"pot"`
	Started          bool           `json:"started"`
	Expired          bool           `json:"expired"`
	TimeRemaining    uint64         `json:"time_remaining_sec"`
	ServerTime       time.Time      `json:"server_time"`
}

// NewGameStateResponse converts a snapshot for the wire
func NewGameStateResponse(snap game.Snapshot) GameStateResponse {
	st := snap.State
	return GameStateResponse{
		GameID:           st.GameID.String(),
		Round:            st.Round,
		BeneficiaryToken: st.BeneficiaryToken,
		LastBuyer:        st.LastBuyer,
		KeyPrice:         st.KeyPrice,
		NextKeyPrice:     snap.NextKeyPrice,
		KeysSold:         st.KeysSold,
		Pot:              st.Pot,
		Started:          st.Started(),
		Expired:          snap.Expired,
		TimeRemaining:    snap.TimeRemaining,
		ServerTime:       time.Unix(int64(snap.At), 0).UTC(),
	}
}

// StateHandler handles HTTP requests for game state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetGameState handles GET /api/game/state
func (h *StateHandler) HandleGetGameState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := h.stateProvider.Snapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get game state")
		http.Error(w, "Failed to get game state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(NewGameStateResponse(snap)); err != nil {
		log.Error().Err(err).Msg("failed to encode game state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/game/state", h.HandleGetGameState)
}
