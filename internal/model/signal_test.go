package model

import (
	"encoding/json"
	"testing"
)

func TestSignalBatchUnmarshalArray(t *testing.T) {
	data := []byte(`[{"symbol":"NABIL","action":"BUY","qty":10},{"symbol":"NICA","action":"SELL","qty":5}]`)
	var b SignalBatch
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(b) != 2 || b[0].Symbol != "NABIL" || b[1].Action != ActionSell {
		t.Fatalf("unexpected batch %+v", b)
	}
}

func TestSignalBatchUnmarshalSingleObject(t *testing.T) {
	data := []byte(`{"symbol":"NABIL","action":"BUY","qty":10}`)
	var b SignalBatch
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(b) != 1 || b[0].Symbol != "NABIL" || b[0].Qty != 10 {
		t.Fatalf("expected one-element batch, got %+v", b)
	}
}

func TestSignalBatchUnmarshalGarbage(t *testing.T) {
	var b SignalBatch
	if err := json.Unmarshal([]byte(`"not a batch"`), &b); err == nil {
		t.Fatalf("expected error for non-batch content")
	}
}

func TestLegacyShape(t *testing.T) {
	sig := Signal{
		UserID: "u1", Symbol: "NABIL", Action: ActionBuy,
		Price: 510.5, Qty: 10, MinQty: 5, OrderType: OrderTypeLimit,
		Reason: "Buy trigger hit: 510.5 <= 512",
	}
	l := sig.Legacy()
	if l.Symbol != sig.Symbol || l.Action != sig.Action || l.Price != sig.Price || l.Qty != sig.Qty || l.Reason != sig.Reason {
		t.Fatalf("legacy mismatch: %+v", l)
	}

	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, dropped := range []string{"user_id", "min_qty", "order_type", "partial_fill"} {
		if _, ok := fields[dropped]; ok {
			t.Fatalf("legacy shape must not carry %s", dropped)
		}
	}
}
