package types

import (
	"encoding/json"
	"time"
)

// Market represents a market from the Gamma API.
//
// Outcome tokens are always selected by their outcome string; the API does
// not guarantee array ordering.
type Market struct {
	ID            string    `json:"id"`
	ConditionID   string    `json:"conditionId"`
	Question      string    `json:"question"`
	Slug          string    `json:"slug"`
	Closed        bool      `json:"closed"`
	Active        bool      `json:"active"`
	Tokens        []Token   `json:"-"` // Populated from outcomes + clobTokenIds
	CreatedAt     time.Time `json:"createdAt"`
	EndDate       time.Time `json:"endDate"`
	Volume        float64   `json:"volumeNum"`
	Liquidity     float64   `json:"liquidityNum"`
	Outcomes      string    `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	ClobTokens    string    `json:"clobTokenIds"`  // JSON string: "[\"token1\", \"token2\"]"
	OutcomePrices string    `json:"outcomePrices"` // JSON string: "[\"0.52\", \"0.48\"]"
}

// UnmarshalJSON custom unmarshaler to parse outcomes, clobTokenIds and
// outcomePrices into Tokens.
func (m *Market) UnmarshalJSON(data []byte) error {
	type Alias Market
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if m.Outcomes != "" && m.ClobTokens != "" {
		var outcomes []string
		var tokenIDs []string
		var prices []string

		if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err == nil {
			if err := json.Unmarshal([]byte(m.ClobTokens), &tokenIDs); err == nil {
				if m.OutcomePrices != "" {
					_ = json.Unmarshal([]byte(m.OutcomePrices), &prices)
				}
				m.Tokens = make([]Token, 0, len(outcomes))
				for i, outcome := range outcomes {
					if i < len(tokenIDs) {
						tok := Token{
							TokenID: tokenIDs[i],
							Outcome: outcome,
						}
						if i < len(prices) {
							tok.Price = PriceLevel{Price: prices[i]}.PriceFloat()
						}
						m.Tokens = append(m.Tokens, tok)
					}
				}
			}
		}
	}

	return nil
}

// Token represents a market outcome token.
type Token struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price,omitempty"`
}

// TokenByOutcome returns the token for a specific outcome string.
// Case-insensitive on the common YES/Yes, NO/No variants.
func (m *Market) TokenByOutcome(outcome string) *Token {
	for i := range m.Tokens {
		tokenOutcome := m.Tokens[i].Outcome
		if tokenOutcome == outcome ||
			(outcome == "YES" && tokenOutcome == "Yes") ||
			(outcome == "NO" && tokenOutcome == "No") {
			return &m.Tokens[i]
		}
	}
	return nil
}

// IsBinary reports whether the market has exactly two outcome tokens.
func (m *Market) IsBinary() bool {
	return len(m.Tokens) == 2
}

// Resolved reports whether the market has settled: it is closed and one
// outcome's price has converged to 1.
func (m *Market) Resolved() bool {
	if !m.Closed {
		return false
	}
	for i := range m.Tokens {
		if m.Tokens[i].Price >= 0.999 {
			return true
		}
	}
	return false
}

// WinningOutcome returns the outcome string whose token settled at 1, or ""
// if the market has not resolved.
func (m *Market) WinningOutcome() string {
	if !m.Closed {
		return ""
	}
	for i := range m.Tokens {
		if m.Tokens[i].Price >= 0.999 {
			return m.Tokens[i].Outcome
		}
	}
	return ""
}
