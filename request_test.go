package paysaga

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() PaymentRequest {
	return PaymentRequest{
		Amount:             decimal.RequireFromString("1000"),
		ChargeCurrency:     "CAD",
		SettlementCurrency: "USD",
		Customer:           Customer{BusinessName: "Maple Corp", Email: "ap@maple.example"},
		Merchant:           Merchant{Name: "Acme", Country: "US"},
	}
}

func TestPaymentRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*PaymentRequest)
		want   string
	}{
		{"valid", func(*PaymentRequest) {}, ""},
		{"zero amount", func(r *PaymentRequest) { r.Amount = decimal.Zero }, "Amount must be positive"},
		{"negative amount", func(r *PaymentRequest) { r.Amount = decimal.NewFromInt(-1) }, "Amount must be positive"},
		{"ceiling is inclusive", func(r *PaymentRequest) { r.Amount = decimal.NewFromInt(50000) }, ""},
		{"over ceiling", func(r *PaymentRequest) { r.Amount = decimal.RequireFromString("50000.01") }, "Amount exceeds maximum allowed (50000)"},
		{"missing currency", func(r *PaymentRequest) { r.ChargeCurrency = "" }, "Currency must be specified"},
		{"unknown currency", func(r *PaymentRequest) { r.ChargeCurrency = "XYZ" }, `Currency "XYZ" is not an ISO-4217 code`},
		{"missing settlement currency", func(r *PaymentRequest) { r.SettlementCurrency = "" }, "Settlement currency must be specified"},
		{"missing email", func(r *PaymentRequest) { r.Customer.Email = "" }, "Customer information incomplete"},
		{"bad email", func(r *PaymentRequest) { r.Customer.Email = "not-an-email" }, "Customer information incomplete"},
		{"missing merchant", func(r *PaymentRequest) { r.Merchant.Name = "" }, "Merchant information incomplete"},
		{"long reference", func(r *PaymentRequest) { r.Reference = strings.Repeat("x", 129) }, "Reference is too long"},
		{
			"reasons are joined once each",
			func(r *PaymentRequest) {
				r.Amount = decimal.NewFromInt(60000)
				r.Customer = Customer{}
			},
			"Customer information incomplete, Amount exceeds maximum allowed (50000)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.modify(&req)

			err := req.Validate(DefaultAmountCeiling)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, KindValidation, Classify(err))
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(strings.NewReader(`{
		"amount": "1000.50",
		"charge_currency": "CAD",
		"settlement_currency": "USD",
		"customer": {"business_name": "Maple Corp", "email": "ap@maple.example"},
		"merchant": {"name": "Acme", "country": "US"},
		"reference": "inv-42"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "1000.5", req.Amount.String())
	assert.Equal(t, "inv-42", req.Reference)

	_, err = ParseRequestBytes([]byte(`{"amount": "1", "colour": "red"}`))
	assert.ErrorContains(t, err, "unknown field")

	_, err = ParseRequestBytes([]byte(`{"amount": "1"} {"amount": "2"}`))
	assert.ErrorContains(t, err, "trailing data")
}

func TestSettlementAndFee(t *testing.T) {
	settlement := SettlementAmount(decimal.RequireFromString("1000"), decimal.RequireFromString("0.75"))
	assert.Equal(t, "750.00", settlement.StringFixed(2))
	assert.Equal(t, "7.50", Fee(settlement, DefaultFeeRate).StringFixed(2))

	// Rounded to cents, half away from zero.
	assert.Equal(t, "0.01", SettlementAmount(decimal.RequireFromString("0.01"), decimal.RequireFromString("0.85")).StringFixed(2))
	assert.Equal(t, "123.46", SettlementAmount(decimal.RequireFromString("123.456"), decimal.NewFromInt(1)).StringFixed(2))
}
