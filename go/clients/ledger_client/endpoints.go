package ledger_client

const (
	// API Endpoints
	TransfersEndpoint = "/v1/transfers"
	BalancesEndpoint  = "/v1/balances"

	// Headers
	APIKeyHeader         = "X-Ledger-Key"
	IdempotencyKeyHeader = "Idempotency-Key"
	ContentTypeHeader    = "Content-Type"
	ContentTypeJSON      = "application/json"
)
