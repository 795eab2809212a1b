package model

// Timestamp layouts used across the bus documents and durable logs. The
// long form matches what the downstream UI already parses.
const (
	TimeLayoutFull  = "2006-01-02 15:04:05"
	TimeLayoutShort = "15:04:05"
	HourBucketFmt   = "2006-01-02_15"
)

// MinMoveDelta is the smallest price change that counts as a move.
const MinMoveDelta = 0.01

// RawRow is one row extracted from the upstream quote table, before
// filtering and rounding.
type RawRow struct {
	Symbol string  `json:"sym"`
	LTP    float64 `json:"ltp"`
	Pct    float64 `json:"pct"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"vol"`
}

// StockTick is the per-symbol state carried in a MarketSnapshot.
type StockTick struct {
	LTP       float64 `json:"ltp"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	PctChange float64 `json:"pct_change"`
	Time      string  `json:"time"`
}

// MarketSnapshot is the full symbol table published every scan cycle. It is
// owned by the scanner and replaced wholesale, never patched in place.
type MarketSnapshot struct {
	Timestamp string               `json:"timestamp"`
	Total     int                  `json:"total"`
	Stocks    map[string]StockTick `json:"stocks"`
}

// Move directions.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// MoveEvent records a price change of at least MinMoveDelta between
// consecutive observations of a symbol.
type MoveEvent struct {
	Timestamp string  `json:"timestamp"`
	Time      string  `json:"time"`
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	FromPrice float64 `json:"from_price"`
	ToPrice   float64 `json:"to_price"`
	Change    float64 `json:"change"`
	Volume    int64   `json:"volume"`
	PctChange float64 `json:"pct_change"`
}

// MovesFeed is the bounded recent-moves document consumed by UI readers.
// Moves are in insertion order, oldest first, capped at the feed capacity.
type MovesFeed struct {
	Timestamp string      `json:"timestamp"`
	Moves     []MoveEvent `json:"moves"`
	Count     int         `json:"count"`
}
