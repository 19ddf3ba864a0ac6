package exchange

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

const polygonChainID = 137

// CLOBClient signs and submits orders to the CLOB REST API and queries order
// and book state. Requests carry L2 HMAC auth headers derived from the API
// credentials; orders themselves are EIP-712 signed with the wallet key.
type CLOBClient struct {
	baseURL       string
	apiKey        string
	secret        string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       string // EOA address (signer)
	proxyAddress  string // proxy/funder address (maker)
	signatureType model.SignatureType
	orderBuilder  builder.ExchangeOrderBuilder
	httpClient    *http.Client
	logger        *zap.Logger
}

// CLOBConfig holds configuration for the CLOB client.
type CLOBConfig struct {
	BaseURL       string
	APIKey        config.Secret
	Secret        config.Secret
	Passphrase    config.Secret
	PrivateKey    config.Secret
	ProxyAddress  string
	SignatureType int
	Logger        *zap.Logger
}

// NewCLOBClient creates a CLOB client. With a private key the client can
// sign and submit orders; without one only the public market-data endpoints
// (midpoint, book) work.
func NewCLOBClient(cfg *CLOBConfig) (*CLOBClient, error) {
	var privateKey *ecdsa.PrivateKey
	var address string
	if !cfg.PrivateKey.Empty() {
		var err error
		privateKey, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey.Reveal(), "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}

		publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("derive public key")
		}
		address = crypto.PubkeyToAddress(*publicKey).Hex()
	}

	chainID := big.NewInt(polygonChainID)

	return &CLOBClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey.Reveal(),
		secret:        cfg.Secret.Reveal(),
		passphrase:    cfg.Passphrase.Reveal(),
		privateKey:    privateKey,
		address:       address,
		proxyAddress:  cfg.ProxyAddress,
		signatureType: model.SignatureType(cfg.SignatureType),
		orderBuilder:  builder.NewExchangeOrderBuilderImpl(chainID, nil),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        cfg.Logger,
	}, nil
}

// PlaceOrder signs and submits one order.
func (c *CLOBClient) PlaceOrder(ctx context.Context, args *OrderArgs) (*PlaceResult, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("order signing requires a wallet private key")
	}

	makerAddress := c.address
	if c.proxyAddress != "" {
		makerAddress = c.proxyAddress
	}

	// Raw amounts use 6 decimals. For a BUY the maker amount is USDC and the
	// taker amount is shares; a SELL is the mirror image.
	usd := args.SizeShares * args.Price
	var side model.Side
	var makerAmount, takerAmount string
	if args.Side == types.SideBuy {
		side = model.BUY
		makerAmount = toRawAmount(usd)
		takerAmount = toRawAmount(args.SizeShares)
	} else {
		side = model.SELL
		makerAmount = toRawAmount(args.SizeShares)
		takerAmount = toRawAmount(usd)
	}

	orderData := &model.OrderData{
		Maker:         makerAddress,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenId:       args.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Side:          side,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.address,
		Expiration:    "0",
		SignatureType: c.signatureType,
	}

	signedOrder, err := c.orderBuilder.BuildSignedOrder(c.privateKey, orderData, model.CTFExchange)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}

	sideStr := types.SideBuy
	if signedOrder.Side.Uint64() == uint64(model.SELL) {
		sideStr = types.SideSell
	}

	jsonOrder := types.SignedOrderJSON{
		Salt:          signedOrder.Salt.Int64(),
		Maker:         signedOrder.Maker.Hex(),
		Signer:        signedOrder.Signer.Hex(),
		Taker:         signedOrder.Taker.Hex(),
		TokenID:       signedOrder.TokenId.String(),
		MakerAmount:   signedOrder.MakerAmount.String(),
		TakerAmount:   signedOrder.TakerAmount.String(),
		Side:          sideStr,
		Expiration:    signedOrder.Expiration.String(),
		Nonce:         signedOrder.Nonce.String(),
		FeeRateBps:    signedOrder.FeeRateBps.String(),
		SignatureType: int(signedOrder.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(signedOrder.Signature),
	}

	reqBody := types.OrderSubmissionRequest{
		Order:     jsonOrder,
		Owner:     c.apiKey, // owner is the API key, not the maker address
		OrderType: args.Type,
	}

	var submitResp types.OrderSubmissionResponse
	if err := c.do(ctx, http.MethodPost, "/order", reqBody, &submitResp); err != nil {
		return nil, err
	}

	if !submitResp.Success {
		return &PlaceResult{
			Status:   "unmatched",
			ErrorMsg: submitResp.ErrorMsg,
		}, nil
	}

	c.logger.Debug("order-submitted",
		zap.String("exchange-order-id", submitResp.OrderID),
		zap.String("status", submitResp.Status),
		zap.String("side", args.Side),
		zap.String("type", args.Type))

	return &PlaceResult{
		ExchangeOrderID: submitResp.OrderID,
		Status:          submitResp.Status,
	}, nil
}

// CancelOrder cancels one resting order.
func (c *CLOBClient) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	body := map[string]string{"orderID": exchangeOrderID}
	return c.do(ctx, http.MethodDelete, "/order", body, nil)
}

// CancelAll cancels every resting order, or only those on one market when
// marketID is non-empty.
func (c *CLOBClient) CancelAll(ctx context.Context, marketID string) error {
	if marketID == "" {
		return c.do(ctx, http.MethodDelete, "/cancel-all", nil, nil)
	}
	body := map[string]string{"market": marketID}
	return c.do(ctx, http.MethodDelete, "/cancel-market-orders", body, nil)
}

// GetOrder queries the state of one order.
func (c *CLOBClient) GetOrder(ctx context.Context, exchangeOrderID string) (*OrderStatus, error) {
	var resp types.OrderQueryResponse
	if err := c.do(ctx, http.MethodGet, "/data/order/"+exchangeOrderID, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &types.OrderError{Code: types.ErrCodeUnknownStatus, Message: resp.Error, OrderID: exchangeOrderID}
	}

	return &OrderStatus{
		ExchangeOrderID: resp.OrderID,
		Status:          resp.Status,
		SizeShares:      resp.Size,
		FilledShares:    resp.SizeFilled,
		AvgFillPrice:    resp.Price,
	}, nil
}

// OpenOrders lists resting orders for the authenticated account.
func (c *CLOBClient) OpenOrders(ctx context.Context) ([]*OpenOrder, error) {
	var raw []types.OrderQueryResponse
	if err := c.do(ctx, http.MethodGet, "/data/orders", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]*OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, &OpenOrder{
			ExchangeOrderID: o.OrderID,
			MarketID:        o.MarketID,
			TokenID:         o.TokenID,
			Side:            o.Side,
			Price:           o.Price,
			SizeShares:      o.Size,
			FilledShares:    o.SizeFilled,
		})
	}
	return out, nil
}

// tradeRecord is one row of GET /data/trades.
type tradeRecord struct {
	ID        string `json:"id"`
	OrderID   string `json:"taker_order_id"`
	Market    string `json:"market"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	FeeRate   string `json:"fee_rate_bps"`
	MatchTime string `json:"match_time"`
}

// OrderFills lists the trades executed against one order, used to reconcile
// the fee actually charged.
func (c *CLOBClient) OrderFills(ctx context.Context, exchangeOrderID string) ([]*types.Fill, error) {
	path := "/data/trades?" + url.Values{"taker_order_id": {exchangeOrderID}}.Encode()
	var raw []tradeRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]*types.Fill, 0, len(raw))
	for _, tr := range raw {
		price, _ := strconv.ParseFloat(tr.Price, 64)
		size, _ := strconv.ParseFloat(tr.Size, 64)
		feeBps, _ := strconv.ParseFloat(tr.FeeRate, 64)
		ts := time.Time{}
		if unix, err := strconv.ParseInt(tr.MatchTime, 10, 64); err == nil {
			ts = time.Unix(unix, 0)
		}
		out = append(out, &types.Fill{
			ExchangeTradeID: tr.ID,
			ExchangeOrderID: exchangeOrderID,
			MarketID:        tr.Market,
			TokenID:         tr.AssetID,
			Side:            tr.Side,
			Price:           price,
			Shares:          size,
			Fee:             price * size * feeBps / 10000,
			Timestamp:       ts,
		})
	}
	return out, nil
}

// Price returns the midpoint price for a token.
func (c *CLOBClient) Price(ctx context.Context, tokenID string) (float64, error) {
	path := "/midpoint?" + url.Values{"token_id": {tokenID}}.Encode()
	var resp struct {
		Mid string `json:"mid"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	p, err := strconv.ParseFloat(resp.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("parse midpoint %q: %w", resp.Mid, err)
	}
	return p, nil
}

// Orderbook returns the current book for a token.
func (c *CLOBClient) Orderbook(ctx context.Context, tokenID string) (*types.Orderbook, error) {
	path := "/book?" + url.Values{"token_id": {tokenID}}.Encode()
	var book types.Orderbook
	if err := c.do(ctx, http.MethodGet, path, nil, &book); err != nil {
		return nil, err
	}
	book.FetchedAt = time.Now()
	return &book, nil
}

// do executes one authenticated request against the CLOB API.
func (c *CLOBClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(string(reqBody)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	signature, timestamp, err := c.sign(method, path, reqBody)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.address)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited (429): %s", string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// sign computes the L2 HMAC signature over timestamp + method + path + body.
// The secret is URL-safe base64, matching the official clients.
func (c *CLOBClient) sign(method, path string, body []byte) (signature, timestamp string, err error) {
	timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	payload := timestamp + method + path + string(body)

	secretBytes, err := base64.URLEncoding.DecodeString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("decode secret: %w", err)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(payload))
	signature = base64.URLEncoding.EncodeToString(h.Sum(nil))
	return signature, timestamp, nil
}

func toRawAmount(v float64) string {
	return strconv.FormatInt(int64(v*1e6), 10)
}
