package payops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Khalil2008k/guild-payops/internal/apierror"
	"github.com/Khalil2008k/guild-payops/internal/request"
	"github.com/Khalil2008k/guild-payops/model"
)

// PSPLedger is the read side of the payment service provider: the external
// source of truth the reconciliation engine compares the platform ledger
// against.
type PSPLedger interface {
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetTransactions(ctx context.Context, currency string, since time.Time) ([]*model.LedgerEntry, error)
}

// PSPClient talks to the provider's reporting API over HTTP.
type PSPClient struct {
	baseURL string
	apiKey  string
}

// NewPSPClient builds a provider client. An empty base URL yields a client
// whose calls fail loudly, which keeps reconciliation from silently comparing
// against nothing.
func NewPSPClient(baseURL, apiKey string) *PSPClient {
	return &PSPClient{baseURL: baseURL, apiKey: apiKey}
}

type pspBalanceResponse struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type pspTransaction struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	JobID         string          `json:"job_id"`
	UserID        string          `json:"user_id"`
	PostedAt      time.Time       `json:"posted_at"`
}

type pspTransactionsResponse struct {
	Transactions []pspTransaction `json:"transactions"`
}

func (c *PSPClient) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// GetBalance fetches the provider-side balance for a currency.
func (c *PSPClient) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	if c.baseURL == "" {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Provider base URL is not configured", nil)
	}
	req, err := c.newRequest(ctx, fmt.Sprintf("%s/v1/balance?currency=%s", c.baseURL, currency))
	if err != nil {
		return decimal.Zero, err
	}

	var body pspBalanceResponse
	resp, err := request.Call(req, &body)
	if err != nil {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Provider balance request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Provider returned status %d for balance", resp.StatusCode), nil)
	}
	return body.Balance, nil
}

// GetTransactions fetches provider transactions posted since the given time.
func (c *PSPClient) GetTransactions(ctx context.Context, currency string, since time.Time) ([]*model.LedgerEntry, error) {
	if c.baseURL == "" {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Provider base URL is not configured", nil)
	}
	url := fmt.Sprintf("%s/v1/transactions?currency=%s&since=%s", c.baseURL, currency, since.UTC().Format(time.RFC3339))
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	var body pspTransactionsResponse
	resp, err := request.Call(req, &body)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Provider transactions request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Provider returned status %d for transactions", resp.StatusCode), nil)
	}

	entries := make([]*model.LedgerEntry, 0, len(body.Transactions))
	for _, txn := range body.Transactions {
		entries = append(entries, &model.LedgerEntry{
			TransactionID: txn.TransactionID,
			Reference:     txn.Reference,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			JobID:         txn.JobID,
			UserID:        txn.UserID,
			PostedAt:      txn.PostedAt,
			Source:        "psp",
		})
	}
	return entries, nil
}

// RecordPlatformEntry writes a settled payment into the platform ledger so
// reconciliation sees it on the next run.
func (p *Payops) RecordPlatformEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	if entry.Amount.IsZero() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Ledger entry amount cannot be zero", nil)
	}
	return p.datasource.RecordLedgerEntry(ctx, entry)
}
