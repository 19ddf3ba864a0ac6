package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DataClient fetches wallet holdings from the Data API. Any address can be
// queried, which is what whale tracking relies on.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDataClient creates a Data API client.
func NewDataClient(baseURL string, logger *zap.Logger) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// dataAPIPosition is one row of GET /positions.
type dataAPIPosition struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CurPrice     float64 `json:"curPrice"`
	Outcome      string  `json:"outcome"`
}

// WalletPositions returns the current holdings of an address.
func (d *DataClient) WalletPositions(ctx context.Context, addr string) ([]*WalletPosition, error) {
	url := fmt.Sprintf("%s/positions?user=%s&sizeThreshold=0.01", d.baseURL, addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	var raw []dataAPIPosition
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	positions := make([]*WalletPosition, 0, len(raw))
	for _, pos := range raw {
		if pos.Size <= 0 {
			continue
		}
		positions = append(positions, &WalletPosition{
			MarketID:     pos.ConditionID,
			TokenID:      pos.Asset,
			Outcome:      pos.Outcome,
			Shares:       pos.Size,
			AvgPrice:     pos.AvgPrice,
			CurrentValue: pos.CurrentValue,
			CurPrice:     pos.CurPrice,
		})
	}

	d.logger.Debug("fetched-wallet-positions",
		zap.String("address", addr),
		zap.Int("count", len(positions)))

	return positions, nil
}
