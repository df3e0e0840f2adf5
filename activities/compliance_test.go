package activities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/paysaga"
)

func complianceInput() paysaga.ComplianceInput {
	return paysaga.ComplianceInput{
		SagaID: "payment-1",
		Request: paysaga.PaymentRequest{
			Amount:             decimal.RequireFromString("1000"),
			ChargeCurrency:     "CAD",
			SettlementCurrency: "USD",
			Customer:           paysaga.Customer{BusinessName: "Maple Corp", Email: "ap@maple.example"},
			Merchant:           paysaga.Merchant{Name: "Acme", Country: "XZ"},
		},
		SettlementAmount: decimal.RequireFromString("750.00"),
	}
}

func TestComplianceClient_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body checkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1000.0, body.Amount)
		assert.Equal(t, "Maple Corp", body.Customer.BusinessName)

		switch r.URL.Path {
		case "/api/checks/fraud":
			_, _ = w.Write([]byte(`{"success":true,"result":"passed","risk_score":12.5}`))
		case "/api/checks/aml":
			_, _ = w.Write([]byte(`{"success":true,"result":"passed","aml_score":20}`))
		case "/api/checks/sanctions":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"result":"failed","reason":"Sanctioned country detected","details":"Transactions to XZ are not permitted"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewComplianceClient(ServiceOptions{BaseURL: srv.URL, RatePerSecond: 100, Burst: 3})
	ctx := context.Background()

	fraud, err := client.Check(ctx, paysaga.CheckFraud, complianceInput())
	require.NoError(t, err)
	assert.True(t, fraud.Approved)
	assert.Equal(t, 12.5, fraud.Score)

	aml, err := client.Activity(paysaga.CheckAML)(ctx, complianceInput())
	require.NoError(t, err)
	assert.True(t, aml.Approved)
	assert.Equal(t, 20.0, aml.Score)

	sanctions, err := client.Check(ctx, paysaga.CheckSanctions, complianceInput())
	require.NoError(t, err)
	assert.False(t, sanctions.Approved)
	assert.Equal(t, paysaga.CheckSanctions, sanctions.Check)
	assert.Equal(t, "Sanctioned country detected", sanctions.Reason)
}

func TestComplianceClient_BadRequestWithoutResultIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"amount is missing"}`))
	}))
	defer srv.Close()

	_, err := NewComplianceClient(ServiceOptions{BaseURL: srv.URL}).Check(context.Background(), paysaga.CheckFraud, complianceInput())
	require.Error(t, err)
	assert.Equal(t, paysaga.KindFatal, paysaga.Classify(err))
	assert.Contains(t, err.Error(), "amount is missing")
}

func TestComplianceClient_UnavailableIsNeverApproved(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"service unavailable", http.StatusServiceUnavailable},
		{"internal error", http.StatusInternalServerError},
		{"too many requests", http.StatusTooManyRequests},
		{"request timeout", http.StatusRequestTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"try again later"}`))
			}))
			defer srv.Close()

			result, err := NewComplianceClient(ServiceOptions{BaseURL: srv.URL}).Check(context.Background(), paysaga.CheckAML, complianceInput())
			require.Error(t, err)
			assert.False(t, result.Approved)
			assert.Equal(t, paysaga.KindTransient, paysaga.Classify(err))
			assert.True(t, paysaga.Retryable(err))
		})
	}
}
