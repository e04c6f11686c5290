package ledger_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/mcdev12/potgame/go/clients"
	"github.com/mcdev12/potgame/go/internal/ledger"
	"github.com/mcdev12/potgame/go/internal/models"
)

// LedgerClient talks to an external token ledger over HTTP.
type LedgerClient struct {
	*clients.BaseClient
}

func NewLedgerClient(baseURL, apiKey string) *LedgerClient {
	client := &LedgerClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(ContentTypeHeader, ContentTypeJSON)
	if apiKey != "" {
		client.SetHeader(APIKeyHeader, apiKey)
	}

	return client
}

type TransferRequest struct {
	Reference string         `json:"reference"`
	Token     models.Token   `json:"token"`
	From      models.Account `json:"from"`
	To        models.Account `json:"to"`
	Amount    models.Amount  `json:"amount"`
}

type TransferResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}

type BalanceResponse struct {
	Token   models.Token   `json:"token"`
	Account models.Account `json:"account"`
	Balance models.Amount  `json:"balance"`
}

// Transfer asks the ledger to move amount. ref is sent as the idempotency key, so the ledger
// settles a repeated ref once. An empty ref gets a fresh key.
func (c *LedgerClient) Transfer(ctx context.Context, ref string, token models.Token, from, to models.Account, amount models.Amount) error {
	if ref == "" {
		ref = uuid.NewString()
	}
	body, err := json.Marshal(TransferRequest{Reference: ref, Token: token, From: from, To: to, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to marshal transfer: %w", err)
	}

	respBody, err := c.Post(ctx, TransfersEndpoint, bytes.NewReader(body), map[string]string{
		IdempotencyKeyHeader: ref,
	})
	if err != nil {
		var apiErr *clients.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusPaymentRequired:
				return fmt.Errorf("%w: %s", ledger.ErrInsufficientFunds, apiErr.Body)
			case http.StatusConflict:
				return fmt.Errorf("%w: reference %s: %s", ledger.ErrInvalidTransfer, ref, apiErr.Body)
			}
		}
		return fmt.Errorf("failed to transfer %s from %s to %s: %w", amount, from, to, err)
	}

	var response TransferResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(respBody))
	}
	if response.Status != "settled" {
		return fmt.Errorf("transfer %s not settled: %s", response.TransferID, response.Status)
	}
	return nil
}

// Balance returns the balance of account in token.
func (c *LedgerClient) Balance(ctx context.Context, token models.Token, account models.Account) (models.Amount, error) {
	q := url.Values{}
	q.Set("token", string(token))
	q.Set("account", string(account))

	body, err := c.Get(ctx, BalancesEndpoint+"?"+q.Encode())
	if err != nil {
		return models.Amount{}, fmt.Errorf("failed to get balance: %w", err)
	}

	var response BalanceResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.Amount{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return response.Balance, nil
}
