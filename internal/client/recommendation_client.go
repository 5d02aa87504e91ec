package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// RecommendationHTTPClient calls the external rate recommendation service for
// counter-proposal suggestions. Callers treat any failure as "no suggestion";
// the client only reports errors, it never retries.
type RecommendationHTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewRecommendationHTTPClient builds a client with a bounded per-call
// timeout.
func NewRecommendationHTTPClient(baseURL string, timeout time.Duration) *RecommendationHTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RecommendationHTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type suggestRequest struct {
	RateID         string `json:"rate_id"`
	AttorneyID     string `json:"attorney_id"`
	CurrentAmount  string `json:"current_amount"`
	ProposedAmount string `json:"proposed_amount"`
	Currency       string `json:"currency"`
	IsClient       bool   `json:"is_client"`
}

type suggestResponse struct {
	Amount decimal.Decimal `json:"amount"`
}

// SuggestCounterRate requests a suggested counter amount for a rate.
func (c *RecommendationHTTPClient) SuggestCounterRate(
	ctx context.Context,
	rateID, attorneyID string,
	currentAmount, proposedAmount decimal.Decimal,
	currency string,
	isClient bool,
) (decimal.Decimal, error) {
	if c.baseURL == "" {
		return decimal.Zero, fmt.Errorf("recommendation service not configured")
	}

	body, err := json.Marshal(suggestRequest{
		RateID:         rateID,
		AttorneyID:     attorneyID,
		CurrentAmount:  currentAmount.String(),
		ProposedAmount: proposedAmount.String(),
		Currency:       currency,
		IsClient:       isClient,
	})
	if err != nil {
		return decimal.Zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/suggestions/counter-rate", bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("recommendation service returned %d", resp.StatusCode)
	}

	var out suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, err
	}
	return out.Amount, nil
}
