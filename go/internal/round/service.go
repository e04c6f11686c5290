package round

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/game"
	"github.com/mcdev12/potgame/go/internal/ledger"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/mcdev12/potgame/go/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	// GameServiceName is the fully-qualified name of the game service.
	GameServiceName = "potgame.v1.GameService"

	BuyKeyProcedure        = "/" + GameServiceName + "/BuyKey"
	GetStateProcedure      = "/" + GameServiceName + "/GetState"
	GetServerTimeProcedure = "/" + GameServiceName + "/GetServerTime"

	// AccountHeader carries the identity of the requesting account.
	AccountHeader = "X-Account-Id"

	OutcomeKeyBought  = "KEY_BOUGHT"
	OutcomeRoundEnded = "ROUND_ENDED"
)

// GameApp defines what the service layer needs from the round host
type GameApp interface {
	BuyKey(ctx context.Context, buyer models.Account) (game.Outcome, error)
	Snapshot(ctx context.Context) (game.Snapshot, error)
}

// Service implements potgame.v1.GameService over Connect using well-known protobuf types
type Service struct {
	app     GameApp
	clock   clockwork.Clock
	limiter *accountLimiter
}

func NewService(app GameApp, clock clockwork.Clock) *Service {
	return &Service{
		app:   app,
		clock: clock,
	}
}

// WithBuyRateLimit caps how often a single account may call BuyKey. A zero limit disables it.
func (s *Service) WithBuyRateLimit(limit rate.Limit, burst int) *Service {
	if limit <= 0 {
		s.limiter = nil
		return s
	}
	s.limiter = newAccountLimiter(limit, burst)
	return s
}

// Handler returns the mount path and handler for every procedure of the service.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(BuyKeyProcedure, connect.NewUnaryHandler(BuyKeyProcedure, s.BuyKey, opts...))
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, s.GetState, opts...))
	mux.Handle(GetServerTimeProcedure, connect.NewUnaryHandler(GetServerTimeProcedure, s.GetServerTime, opts...))
	return "/" + GameServiceName + "/", mux
}

// BuyKey buys the next key for the account named in AccountHeader
func (s *Service) BuyKey(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	// The account header is taken as-is. The server expects an upstream proxy to
	// authenticate the caller and set it; it must not be exposed to clients directly.
	buyer := models.Account(req.Header().Get(AccountHeader))
	if buyer == models.NoAccount {
		return nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("missing %s header", AccountHeader))
	}

	if s.limiter != nil && !s.limiter.allow(buyer, s.clock.Now()) {
		return nil, connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("too many purchases from %s", buyer))
	}

	out, err := s.app.BuyKey(ctx, buyer)
	if err != nil {
		log.Warn().Err(err).Str("buyer", string(buyer)).Msg("buy key failed")
		return nil, toConnectError(err)
	}

	msg, err := outcomeToProto(out)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// GetState returns the current game state with the live countdown
func (s *Service) GetState(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	snap, err := s.app.Snapshot(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}

	msg, err := snapshotToProto(snap)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// GetServerTime lets clients align their countdown display with the server clock
func (s *Service) GetServerTime(_ context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[timestamppb.Timestamp], error) {
	return connect.NewResponse(timestamppb.New(s.clock.Now())), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, game.ErrNoBuyer):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, game.ErrTransferFailed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, game.ErrOverflow):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, store.ErrGameNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func outcomeToProto(out game.Outcome) (*structpb.Struct, error) {
	switch o := out.(type) {
	case game.KeyBought:
		return structpb.NewStruct(map[string]any{
			"outcome":       OutcomeKeyBought,
			"buyer":         string(o.Buyer),
			"price":         o.Price.String(),
			"keys_sold":     o.KeysSold.String(),
			"pot":           o.Pot.String(),
			"time_left_sec": float64(o.TimeLeft),
			"round":         float64(o.Round),
			"at":            formatUnix(o.At),
		})
	case game.RoundEnded:
		return structpb.NewStruct(map[string]any{
			"outcome":   OutcomeRoundEnded,
			"winner":    string(o.Winner),
			"payout":    o.Payout.String(),
			"keys_sold": o.KeysSold.String(),
			"round":     float64(o.Round),
			"at":        formatUnix(o.At),
		})
	default:
		return nil, fmt.Errorf("unexpected outcome %T", out)
	}
}

func snapshotToProto(snap game.Snapshot) (*structpb.Struct, error) {
	st := snap.State
	return structpb.NewStruct(map[string]any{
		"game_id":           st.GameID.String(),
		"beneficiary_token": string(st.BeneficiaryToken),
		"escrow_account":    string(st.EscrowAccount),
		"last_buyer":        string(st.LastBuyer),
		"key_price":         st.KeyPrice.String(),
		"keys_sold":         st.KeysSold.String(),
		"pot":               st.Pot.String(),
		"last_update":       float64(st.LastUpdate),
		"time_left_sec":     float64(st.TimeLeft),
		"round":             float64(st.Round),
		"time_remaining":    float64(snap.TimeRemaining),
		"expired":           snap.Expired,
		"next_key_price":    snap.NextKeyPrice.String(),
		"at":                formatUnix(snap.At),
	})
}

func formatUnix(sec uint64) string {
	return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339)
}
