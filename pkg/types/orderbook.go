package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// OrderbookMessage represents a message from the market-data WebSocket.
type OrderbookMessage struct {
	EventType string       `json:"event_type"` // "book", "price_change", "last_trade_price"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp int64        `json:"-"` // Parsed from string via UnmarshalJSON
	Hash      string       `json:"hash,omitempty"`
	Price     string       `json:"price,omitempty"` // last_trade_price events
	Bids      []PriceLevel `json:"bids,omitempty"`
	Asks      []PriceLevel `json:"asks,omitempty"`
}

// UnmarshalJSON custom unmarshaler to handle string timestamp.
func (o *OrderbookMessage) UnmarshalJSON(data []byte) error {
	type Alias OrderbookMessage
	aux := &struct {
		TimestampStr string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(o),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TimestampStr != "" {
		timestamp, err := strconv.ParseInt(aux.TimestampStr, 10, 64)
		if err != nil {
			return err
		}
		o.Timestamp = timestamp
	}

	return nil
}

// PriceChangeMessage represents a price_change event carrying best bid/ask
// updates for one or more assets in a market.
type PriceChangeMessage struct {
	EventType    string        `json:"event_type"`
	Market       string        `json:"market"`
	Timestamp    int64         `json:"-"`
	PriceChanges []PriceChange `json:"price_changes"`
}

// PriceChange is one asset's best bid/ask update within a PriceChangeMessage.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// UnmarshalJSON custom unmarshaler to handle string timestamp.
func (p *PriceChangeMessage) UnmarshalJSON(data []byte) error {
	type Alias PriceChangeMessage
	aux := &struct {
		TimestampStr string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TimestampStr != "" {
		timestamp, err := strconv.ParseInt(aux.TimestampStr, 10, 64)
		if err != nil {
			return err
		}
		p.Timestamp = timestamp
	}

	return nil
}

// PriceLevel represents a single price level in the orderbook.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceFloat returns the level's price as a float64, or 0 on parse failure.
func (l PriceLevel) PriceFloat() float64 {
	p, err := strconv.ParseFloat(l.Price, 64)
	if err != nil {
		return 0
	}
	return p
}

// SizeFloat returns the level's size as a float64, or 0 on parse failure.
func (l PriceLevel) SizeFloat() float64 {
	s, err := strconv.ParseFloat(l.Size, 64)
	if err != nil {
		return 0
	}
	return s
}

// Orderbook holds both sides of the book for one token, as returned by the
// CLOB REST API. Bids are sorted best (highest) first, asks best (lowest)
// first by the exchange.
type Orderbook struct {
	MarketID  string       `json:"market"`
	TokenID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	FetchedAt time.Time    `json:"-"`
}

// BestBid returns the highest bid price and its size, or ok=false on an
// empty side.
func (b *Orderbook) BestBid() (price, size float64, ok bool) {
	if len(b.Bids) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].PriceFloat(), b.Bids[0].SizeFloat(), true
}

// BestAsk returns the lowest ask price and its size, or ok=false on an
// empty side.
func (b *Orderbook) BestAsk() (price, size float64, ok bool) {
	if len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Asks[0].PriceFloat(), b.Asks[0].SizeFloat(), true
}

// Mid returns the midpoint of best bid and best ask. Falls back to the
// populated side when one side is empty; ok=false when both are.
func (b *Orderbook) Mid() (float64, bool) {
	bid, _, bidOK := b.BestBid()
	ask, _, askOK := b.BestAsk()
	switch {
	case bidOK && askOK:
		return (bid + ask) / 2, true
	case bidOK:
		return bid, true
	case askOK:
		return ask, true
	}
	return 0, false
}
