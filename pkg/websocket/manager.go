package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Manager maintains the market-data WebSocket connection. It tracks
// subscriptions so that every one of them is re-issued after a reconnect,
// converts raw feed messages into PriceEvents, and caches the last price per
// token for snapshot consumers.
type Manager struct {
	url          string
	conn         *websocket.Conn
	logger       *zap.Logger
	reconnectMgr *ReconnectManager
	config       Config
	priceChan    chan types.PriceEvent
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.RWMutex
	subscribed   map[string]bool
	lastPrices   map[string]float64
	connected    atomic.Bool
	lastPongTime atomic.Int64
	connStart    atomic.Int64
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// New creates a WebSocket manager.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	reconnectCfg := ReconnectConfig{
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		BackoffMultiplier: cfg.ReconnectBackoffMult,
		JitterPercent:     0.2,
	}

	bufSize := cfg.MessageBufferSize
	if bufSize <= 0 {
		bufSize = 1000
	}

	return &Manager{
		url:          cfg.URL,
		logger:       cfg.Logger,
		reconnectMgr: NewReconnectManager(reconnectCfg, cfg.Logger),
		config:       cfg,
		priceChan:    make(chan types.PriceEvent, bufSize),
		ctx:          ctx,
		cancel:       cancel,
		subscribed:   make(map[string]bool),
		lastPrices:   make(map[string]float64),
	}
}

// Start connects and launches the read, ping and reconnect loops.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

// connect establishes the WebSocket connection.
func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connStart.Store(now.Unix())
	ActiveConnections.Set(1)

	m.logger.Info("websocket-connected")

	return nil
}

// Subscribe subscribes to price updates for token IDs.
func (m *Manager) Subscribe(tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	m.mu.Lock()

	newTokens := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if !m.subscribed[tokenID] {
			newTokens = append(newTokens, tokenID)
			m.subscribed[tokenID] = true
		}
	}

	if len(newTokens) == 0 {
		m.mu.Unlock()
		return nil
	}

	var subscribeMsg map[string]interface{}
	if len(m.subscribed) == len(newTokens) {
		subscribeMsg = map[string]interface{}{
			"assets_ids": newTokens,
			"type":       "market",
		}
	} else {
		subscribeMsg = map[string]interface{}{
			"assets_ids": newTokens,
			"operation":  "subscribe",
		}
	}

	totalSubscribed := len(m.subscribed)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		// Not connected yet; the reconnect path replays the whole set.
		return nil
	}

	// Network I/O without holding the lock.
	err := conn.WriteJSON(subscribeMsg)
	if err != nil {
		m.mu.Lock()
		for _, tokenID := range newTokens {
			delete(m.subscribed, tokenID)
		}
		totalSubscribed = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(totalSubscribed))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(totalSubscribed))

	m.logger.Info("subscribed-to-tokens",
		zap.Int("new-count", len(newTokens)),
		zap.Int("total-count", totalSubscribed))

	return nil
}

// LastPrice returns the most recent price seen for a token.
func (m *Manager) LastPrice(tokenID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.lastPrices[tokenID]
	return price, ok
}

// readLoop reads and converts feed messages.
func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("read-error", zap.Error(err))

			startTime := m.connStart.Load()
			if startTime > 0 {
				ConnectionDuration.Observe(time.Since(time.Unix(startTime, 0)).Seconds())
			}

			m.connected.Store(false)
			ActiveConnections.Set(0)
			return
		}

		m.handleMessage(message)
	}
}

// handleMessage parses one frame. The feed sends arrays of event objects;
// anything unparseable is logged at debug and skipped.
func (m *Manager) handleMessage(message []byte) {
	var msgs []types.OrderbookMessage
	if err := json.Unmarshal(message, &msgs); err != nil {
		if len(message) < 10 || string(message) == "[]" {
			return // heartbeat
		}
		preview := string(message)
		if len(preview) > 100 {
			preview = preview[:100]
		}
		m.logger.Debug("websocket-unparseable-message",
			zap.Error(err),
			zap.String("preview", preview))
		return
	}

	for i := range msgs {
		msg := &msgs[i]
		MessagesReceivedTotal.WithLabelValues(msg.EventType).Inc()

		price, ok := priceFromMessage(msg)
		if !ok {
			continue
		}

		m.mu.Lock()
		m.lastPrices[msg.AssetID] = price
		m.mu.Unlock()

		event := types.PriceEvent{
			TokenID:   msg.AssetID,
			Price:     price,
			Timestamp: time.UnixMilli(msg.Timestamp),
		}

		select {
		case m.priceChan <- event:
		default:
			m.logger.Warn("price-channel-full", zap.String("token-id", msg.AssetID))
			MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
		}
	}
}

// priceFromMessage extracts a tradeable price from a feed event: the traded
// price for last_trade_price, the book midpoint for book snapshots.
func priceFromMessage(msg *types.OrderbookMessage) (float64, bool) {
	switch msg.EventType {
	case "last_trade_price":
		p := types.PriceLevel{Price: msg.Price}.PriceFloat()
		return p, p > 0
	case "book":
		book := types.Orderbook{Bids: msg.Bids, Asks: msg.Asks}
		return book.Mid()
	}
	return 0, false
}

// pingLoop sends periodic PING messages.
func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop re-establishes a dropped connection with backoff and then
// replays every subscription.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.connected.Load() {
			time.Sleep(time.Second)
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.reconnectMgr.Reconnect(m.ctx, m.connect)
		if err != nil {
			if err == context.Canceled {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		err = m.resubscribeAll()
		if err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.connected.Store(false)
			continue
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		m.wg.Add(1)
		go m.readLoop()
	}
}

// resubscribeAll re-issues every prior subscription on the new connection.
func (m *Manager) resubscribeAll() error {
	m.mu.RLock()
	tokenIDs := make([]string, 0, len(m.subscribed))
	for tokenID := range m.subscribed {
		tokenIDs = append(tokenIDs, tokenID)
	}
	conn := m.conn
	m.mu.RUnlock()

	if len(tokenIDs) == 0 || conn == nil {
		return nil
	}

	subscribeMsg := map[string]interface{}{
		"assets_ids": tokenIDs,
		"type":       "market",
	}

	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-tokens", zap.Int("count", len(tokenIDs)))

	return nil
}

// PriceEvents returns the channel of decoded price updates.
func (m *Manager) PriceEvents() <-chan types.PriceEvent {
	return m.priceChan
}

// Connected reports whether the connection is currently up. The position
// manager falls back to REST price polls while this is false.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Close shuts the manager down.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	m.cancel()

	m.mu.RLock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()

	close(m.priceChan)

	ActiveConnections.Set(0)

	m.logger.Info("websocket-manager-closed")

	return nil
}
