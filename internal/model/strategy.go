package model

// Triggers holds the per-stock price thresholds evaluated each cycle.
type Triggers struct {
	BuyTrigger         float64 `json:"buy_trigger"`
	SellTrigger        float64 `json:"sell_trigger"`
	StopLoss           float64 `json:"stop_loss"`
	PartialFillEnabled bool    `json:"partial_fill_enabled"`
	MinFillQty         int64   `json:"min_fill_qty"`
}

// StockStrategy is one user's configuration for one symbol.
type StockStrategy struct {
	Category        string   `json:"category,omitempty"`
	PurchasePrice   float64  `json:"purchase_price"`
	TargetSellPrice float64  `json:"target_sell_price"`
	CurrentPrice    float64  `json:"current_price,omitempty"`
	PurchaseQty     int64    `json:"purchase_qty"`
	SellingQty      int64    `json:"selling_qty"`
	Weight          float64  `json:"weight,omitempty"`
	OrderType       string   `json:"order_type"`
	Triggers        Triggers `json:"triggers"`
	Status          string   `json:"status,omitempty"`
}

// Portfolio carries the user-level risk envelope.
type Portfolio struct {
	TotalBudget     float64 `json:"total_budget"`
	RiskTolerance   float64 `json:"risk_tolerance"`
	MaxLossPerTrade float64 `json:"max_loss_per_trade"`
}

// UserStrategy is the full strategy document for one user.
type UserStrategy struct {
	Email     string                   `json:"email,omitempty"`
	FullName  string                   `json:"full_name,omitempty"`
	Portfolio Portfolio                `json:"portfolio"`
	Stocks    map[string]StockStrategy `json:"stocks"`
}

// StrategySet is the document produced by the external configuration
// authority. The evaluator treats it as read-only and replaces its in-memory
// copy wholesale on every reload; entries removed upstream disappear with
// the next reload, never linger.
type StrategySet struct {
	GeneratedAt    string                  `json:"generated_at,omitempty"`
	ReloadInterval int                     `json:"reload_interval,omitempty"`
	TotalUsers     int                     `json:"total_users,omitempty"`
	Users          map[string]UserStrategy `json:"users"`
}

// StockCount returns the total number of (user, symbol) pairs configured.
func (s *StrategySet) StockCount() int {
	n := 0
	for _, u := range s.Users {
		n += len(u.Stocks)
	}
	return n
}

// MinQty resolves the minimum acceptable fill for an order of qty shares:
// the configured minimum when partial fills are allowed, otherwise the full
// quantity. An unset minimum defaults to half the purchase quantity, floor 1.
func (s StockStrategy) MinQty(qty int64) int64 {
	if !s.Triggers.PartialFillEnabled {
		return qty
	}
	if s.Triggers.MinFillQty > 0 {
		return s.Triggers.MinFillQty
	}
	half := s.PurchaseQty / 2
	if half < 1 {
		half = 1
	}
	return half
}
