package activities

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fortressi/paysaga"
)

// ComplianceClient runs screening checks against the compliance API.
type ComplianceClient struct {
	svc *serviceClient
}

// NewComplianceClient creates a client for the compliance API at
// opts.BaseURL.
func NewComplianceClient(opts ServiceOptions) *ComplianceClient {
	return &ComplianceClient{svc: newServiceClient("compliance_api", opts)}
}

type checkParty struct {
	BusinessName string `json:"business_name,omitempty"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	Country      string `json:"country,omitempty"`
}

type checkRequest struct {
	Amount             float64    `json:"amount"`
	ChargeCurrency     string     `json:"charge_currency"`
	SettlementCurrency string     `json:"settlement_currency"`
	Customer           checkParty `json:"customer"`
	Merchant           checkParty `json:"merchant"`
}

type checkResponse struct {
	Success   bool     `json:"success"`
	Result    string   `json:"result"`
	Reason    string   `json:"reason,omitempty"`
	Details   string   `json:"details,omitempty"`
	RiskScore *float64 `json:"risk_score,omitempty"`
	AMLScore  *float64 `json:"aml_score,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (r checkResponse) score() float64 {
	switch {
	case r.RiskScore != nil:
		return *r.RiskScore
	case r.AMLScore != nil:
		return *r.AMLScore
	}
	return 0
}

// Check runs one check. A 400 answer is the service failing the payment and
// comes back as an unapproved result; any other refusal is an error.
func (c *ComplianceClient) Check(ctx context.Context, check paysaga.CheckType, in paysaga.ComplianceInput) (paysaga.ComplianceResult, error) {
	req := in.Request
	body := checkRequest{
		Amount:             req.Amount.InexactFloat64(),
		ChargeCurrency:     req.ChargeCurrency,
		SettlementCurrency: req.SettlementCurrency,
		Customer:           checkParty{BusinessName: req.Customer.BusinessName, Email: req.Customer.Email},
		Merchant:           checkParty{Name: req.Merchant.Name, Country: req.Merchant.Country},
	}

	var resp checkResponse
	status, err := c.svc.post(ctx, "/api/checks/"+string(check), body, &resp)
	if err != nil {
		return paysaga.ComplianceResult{}, err
	}

	result := paysaga.ComplianceResult{Check: check, Score: resp.score()}
	switch {
	case success(status):
		result.Approved = true
	case status == http.StatusBadRequest && resp.Result == "failed":
		result.Reason = resp.Reason
		if result.Reason == "" {
			result.Reason = resp.Details
		}
	default:
		msg := resp.Error
		if msg == "" {
			msg = resp.Reason
		}
		return paysaga.ComplianceResult{}, paysaga.Fatal(paysaga.CheckActivity(check), 1,
			fmt.Errorf("compliance_api rejected %s check request (%d): %s", check, status, msg))
	}
	return result, nil
}

// Activity returns the check as an activity function.
func (c *ComplianceClient) Activity(check paysaga.CheckType) func(context.Context, paysaga.ComplianceInput) (paysaga.ComplianceResult, error) {
	return func(ctx context.Context, in paysaga.ComplianceInput) (paysaga.ComplianceResult, error) {
		return c.Check(ctx, check, in)
	}
}
