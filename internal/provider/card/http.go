package card

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPProvider talks to a card gateway exposing POST /charges.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p *HTTPProvider) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	body, err := json.Marshal(map[string]any{
		"source":      req.Token,
		"amount":      req.Amount,
		"currency":    currency,
		"description": req.Description,
	})
	if err != nil {
		return ChargeResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return ChargeResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChargeResult{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return ChargeResult{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	defer resp.Body.Close()

	var out chargeResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	switch {
	case resp.StatusCode >= 500:
		return ChargeResult{}, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired:
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrDeclined, out.Message)
	case resp.StatusCode >= 400:
		return ChargeResult{}, fmt.Errorf("%w: status %d %s", ErrClient, resp.StatusCode, out.Message)
	}

	// error bodies are optional, a success body is not
	if decodeErr != nil {
		return ChargeResult{}, fmt.Errorf("%w: unreadable response: %w", ErrServer, decodeErr)
	}

	if out.Status != "succeeded" {
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrDeclined, out.Message)
	}

	return ChargeResult{ProviderTxID: out.ID}, nil
}
