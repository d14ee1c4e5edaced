package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"staybook/internal/app/policies"
	"staybook/internal/domain/shared/money"
)

var ErrGatewayNotConfigured = errors.New("payments: gateway not configured")

// HTTPGateway charges through a processor speaking JSON over HTTP. The booking reference
// is sent as Idempotency-Key so the processor collapses accidental duplicates.
type HTTPGateway struct {
	Client   *http.Client
	Endpoint string
	APIKey   string
	Logger   *slog.Logger
}

type chargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}

type chargeResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req policies.ChargeRequest) (policies.ChargeReceipt, error) {
	var zero policies.ChargeReceipt
	if g == nil || g.Client == nil || g.Endpoint == "" {
		return zero, ErrGatewayNotConfigured
	}
	body, err := json.Marshal(chargeRequest{
		Amount:      req.Amount.Amount,
		Currency:    req.Amount.Currency,
		Source:      req.Source,
		Destination: req.Destination,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		return zero, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Reference != "" {
		httpReq.Header.Set("Idempotency-Key", req.Reference)
	}
	if g.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		g.logError("charge request failed", req.Reference, err)
		return zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr errorResponse
		if resp.StatusCode < http.StatusInternalServerError && json.Unmarshal(snippet, &apiErr) == nil && apiErr.Error.Message != "" {
			return zero, &policies.ChargeError{Code: apiErr.Error.Code, Message: apiErr.Error.Message}
		}
		err := fmt.Errorf("payments: processor returned status %d: %s", resp.StatusCode, string(snippet))
		g.logError("charge rejected", req.Reference, err)
		return zero, err
	}

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		g.logError("charge decode failed", req.Reference, err)
		return zero, err
	}
	if out.ID == "" {
		return zero, errors.New("payments: processor response without charge id")
	}
	amount := req.Amount
	if out.Currency != "" {
		amount = money.Money{Amount: out.Amount, Currency: out.Currency}
	}
	return policies.ChargeReceipt{ID: out.ID, Amount: amount}, nil
}

func (g *HTTPGateway) logError(msg, reference string, err error) {
	if g.Logger == nil {
		return
	}
	g.Logger.Error(msg, "reference", reference, "error", err)
}

var _ policies.ChargeGateway = (*HTTPGateway)(nil)
