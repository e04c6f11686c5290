package ledger_client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/potgame/go/internal/ledger"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerClient_Transfer(t *testing.T) {
	var got TransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, TransfersEndpoint, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(APIKeyHeader))
		assert.Equal(t, "potgame/g/round/1/payout", r.Header.Get(IdempotencyKeyHeader))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(TransferResponse{TransferID: "t-1", Status: "settled"})
	}))
	defer srv.Close()

	c := NewLedgerClient(srv.URL, "secret")
	err := c.Transfer(context.Background(), "potgame/g/round/1/payout", "VARA", "alice", "escrow", models.NewAmount(1_000_000_000_000))
	require.NoError(t, err)

	assert.Equal(t, "potgame/g/round/1/payout", got.Reference)
	assert.Equal(t, models.Token("VARA"), got.Token)
	assert.Equal(t, models.Account("alice"), got.From)
	assert.Equal(t, models.Account("escrow"), got.To)
	assert.Equal(t, "1000000000000", got.Amount.String())
}

func TestLedgerClient_TransferInsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "balance too low", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	err := NewLedgerClient(srv.URL, "").Transfer(context.Background(), "", "VARA", "alice", "escrow", models.NewAmount(1))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestLedgerClient_TransferNotSettled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(TransferResponse{TransferID: "t-2", Status: "pending"})
	}))
	defer srv.Close()

	err := NewLedgerClient(srv.URL, "").Transfer(context.Background(), "", "VARA", "alice", "escrow", models.NewAmount(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not settled")
}

func TestLedgerClient_TransferReferenceConflict(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(IdempotencyKeyHeader))
		http.Error(w, "reference already used", http.StatusConflict)
	}))
	defer srv.Close()

	err := NewLedgerClient(srv.URL, "").Transfer(context.Background(), "ref-1", "VARA", "alice", "escrow", models.NewAmount(1))
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer)
	assert.Equal(t, []string{"ref-1"}, keys)
}

func TestLedgerClient_EmptyReferenceGetsFreshKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(IdempotencyKeyHeader))
		_ = json.NewEncoder(w).Encode(TransferResponse{TransferID: "t-3", Status: "settled"})
	}))
	defer srv.Close()

	c := NewLedgerClient(srv.URL, "")
	require.NoError(t, c.Transfer(context.Background(), "", "VARA", "alice", "escrow", models.NewAmount(1)))
	require.NoError(t, c.Transfer(context.Background(), "", "VARA", "alice", "escrow", models.NewAmount(1)))
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEqual(t, keys[0], keys[1])
}

func TestLedgerClient_Balance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("account"))
		_, _ = w.Write([]byte(`{"token":"VARA","account":"alice","balance":"42"}`))
	}))
	defer srv.Close()

	bal, err := NewLedgerClient(srv.URL, "").Balance(context.Background(), "VARA", "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", bal.String())
}
