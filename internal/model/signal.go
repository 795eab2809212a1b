package model

import "encoding/json"

// Signal actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Order types.
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// Execution outcomes.
const (
	OutcomeSent   = "SENT"
	OutcomeFailed = "FAILED"
)

// Signal is one trading instruction derived from a trigger rule. Reason
// carries the exact comparison that fired, for audit.
type Signal struct {
	UserID      string  `json:"user_id"`
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"`
	Price       float64 `json:"price"`
	Qty         int64   `json:"qty"`
	MinQty      int64   `json:"min_qty"`
	OrderType   string  `json:"order_type"`
	PartialFill bool    `json:"partial_fill"`
	Reason      string  `json:"reason"`
	CreatedAt   string  `json:"timestamp"`
}

// LegacySignal is the reduced shape older readers of the signal feed expect.
type LegacySignal struct {
	Symbol string  `json:"symbol"`
	Action string  `json:"action"`
	Price  float64 `json:"price"`
	Qty    int64   `json:"qty"`
	Reason string  `json:"reason"`
}

// Legacy strips a Signal down to the legacy feed shape.
func (s Signal) Legacy() LegacySignal {
	return LegacySignal{
		Symbol: s.Symbol,
		Action: s.Action,
		Price:  s.Price,
		Qty:    s.Qty,
		Reason: s.Reason,
	}
}

// SignalBatch is the ordered set of signals produced in one evaluation
// cycle. The document is published all-or-nothing, but each element is
// independently actionable by the executor. A bare object (a single signal
// written by hand or by an older producer) unmarshals as a one-element
// batch.
type SignalBatch []Signal

// UnmarshalJSON accepts either a JSON array of signals or a single object.
func (b *SignalBatch) UnmarshalJSON(data []byte) error {
	var list []Signal
	if err := json.Unmarshal(data, &list); err == nil {
		*b = list
		return nil
	}
	var one Signal
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*b = SignalBatch{one}
	return nil
}

// ExecutionRecord is a Signal plus its processing outcome. Records are
// appended to the outcome-keyed archive and never mutated afterward.
type ExecutionRecord struct {
	Signal
	ProcessedAt string `json:"processed_at"`
	Outcome     string `json:"outcome"`
}
