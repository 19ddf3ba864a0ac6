package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// GammaClient fetches market metadata from the Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGammaClient creates a Gamma API client.
func NewGammaClient(baseURL string, logger *zap.Logger) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ActiveMarkets fetches open markets ordered by 24h volume, highest first.
func (g *GammaClient) ActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error) {
	if limit <= 0 {
		limit = 50
	}

	params := url.Values{}
	params.Add("closed", "false")
	params.Add("active", "true")
	params.Add("limit", strconv.Itoa(limit))
	params.Add("order", "volume24hr")
	params.Add("ascending", "false")

	requestURL := fmt.Sprintf("%s/markets?%s", g.baseURL, params.Encode())

	markets, err := g.fetch(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("fetched-active-markets", zap.Int("count", len(markets)))
	return markets, nil
}

// Market fetches one market by condition ID.
func (g *GammaClient) Market(ctx context.Context, conditionID string) (*types.Market, error) {
	params := url.Values{}
	params.Add("condition_ids", conditionID)

	requestURL := fmt.Sprintf("%s/markets?%s", g.baseURL, params.Encode())

	markets, err := g.fetch(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("market %s not found", conditionID)
	}
	return markets[0], nil
}

func (g *GammaClient) fetch(ctx context.Context, requestURL string) ([]*types.Market, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polymarket-bot/1.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	// Gamma returns a direct array, not wrapped in an object.
	var markets []*types.Market
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return markets, nil
}
