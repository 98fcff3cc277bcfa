package card

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_Idempotent(t *testing.T) {
	sandbox := NewSandbox()
	ctx := context.Background()

	first, err := sandbox.Charge(ctx, ChargeRequest{Token: "tok_visa", Amount: 8750, IdempotencyKey: "key-1"})
	require.NoError(t, err)

	again, err := sandbox.Charge(ctx, ChargeRequest{Token: "tok_visa", Amount: 8750, IdempotencyKey: "key-1"})
	require.NoError(t, err)
	require.Equal(t, first.ProviderTxID, again.ProviderTxID)

	other, err := sandbox.Charge(ctx, ChargeRequest{Token: "tok_visa", Amount: 8750, IdempotencyKey: "key-2"})
	require.NoError(t, err)
	require.NotEqual(t, first.ProviderTxID, other.ProviderTxID)

	_, err = sandbox.Charge(ctx, ChargeRequest{Token: "tok_decline_insufficient", Amount: 8750, IdempotencyKey: "key-3"})
	require.ErrorIs(t, err, ErrDeclined)
}

func TestHTTPProvider_Charge(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    chargeResponse
		wantErr error
		wantTx  string
	}{
		{name: "succeeded", status: http.StatusOK, body: chargeResponse{ID: "ch_1", Status: "succeeded"}, wantTx: "ch_1"},
		{name: "declined", status: http.StatusPaymentRequired, body: chargeResponse{Status: "failed", Message: "insufficient funds"}, wantErr: ErrDeclined},
		{name: "bad request", status: http.StatusBadRequest, body: chargeResponse{Message: "bad token"}, wantErr: ErrClient},
		{name: "gateway down", status: http.StatusBadGateway, wantErr: ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/charges", r.URL.Path)
				assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

				var in map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				assert.Equal(t, float64(8750), in["amount"])

				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			provider := NewHTTPProvider(server.URL, "secret", time.Second)
			res, err := provider.Charge(context.Background(), ChargeRequest{Token: "tok_visa", Amount: 8750, IdempotencyKey: "idem-1"})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantTx, res.ProviderTxID)
		})
	}
}

func TestHTTPProvider_MalformedSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id": "ch_1", "status":`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "secret", time.Second)
	_, err := provider.Charge(context.Background(), ChargeRequest{Token: "tok_visa", Amount: 8750})
	require.ErrorIs(t, err, ErrServer)
	require.NotErrorIs(t, err, ErrDeclined)
}

func TestHTTPProvider_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	provider := NewHTTPProvider(server.URL, "secret", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := provider.Charge(ctx, ChargeRequest{Token: "tok_visa", Amount: 100})
	require.ErrorIs(t, err, ErrTimeout)
}

type stubProvider struct {
	err   error
	calls int
}

func (s *stubProvider) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	s.calls++
	if s.err != nil {
		return ChargeResult{}, s.err
	}
	return ChargeResult{ProviderTxID: "tx"}, nil
}

func TestBreaker(t *testing.T) {
	stub := &stubProvider{err: ErrServer}
	breaker := NewBreaker(stub, BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})

	now := time.Now()
	breaker.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := breaker.Charge(ctx, ChargeRequest{Amount: 100})
		require.ErrorIs(t, err, ErrServer)
	}

	_, err := breaker.Charge(ctx, ChargeRequest{Amount: 100})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 2, stub.calls)

	now = now.Add(2 * time.Minute)
	stub.err = nil
	res, err := breaker.Charge(ctx, ChargeRequest{Amount: 100})
	require.NoError(t, err)
	require.Equal(t, "tx", res.ProviderTxID)
}

func TestBreaker_DeclinesDoNotTrip(t *testing.T) {
	stub := &stubProvider{err: ErrDeclined}
	breaker := NewBreaker(stub, BreakerConfig{FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := breaker.Charge(context.Background(), ChargeRequest{Amount: 100})
		require.True(t, errors.Is(err, ErrDeclined))
	}
	require.Equal(t, 3, stub.calls)
}
