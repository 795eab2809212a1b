package executor

import (
	"context"
	"fmt"

	"tradepipe/internal/model"
	"tradepipe/pkg/kafka"
	"tradepipe/pkg/logger"
)

// Submitter places one order downstream. Implementations must be safe to
// call sequentially from the executor loop; they are never called
// concurrently.
type Submitter interface {
	Name() string
	Submit(ctx context.Context, sig model.Signal) error
}

// LogSubmitter records orders without placing them. Default in environments
// without a broker connection; the rest of the pipeline behaves identically.
type LogSubmitter struct {
	log *logger.Logger
}

// NewLogSubmitter creates the dry-run submitter.
func NewLogSubmitter(log *logger.Logger) *LogSubmitter {
	return &LogSubmitter{log: log}
}

func (s *LogSubmitter) Name() string { return "log" }

func (s *LogSubmitter) Submit(_ context.Context, sig model.Signal) error {
	s.log.Info("dry-run order",
		logger.String("action", sig.Action),
		logger.String("symbol", sig.Symbol),
		logger.Float64("price", sig.Price),
		logger.Int64("qty", sig.Qty),
		logger.Int64("min_qty", sig.MinQty),
		logger.String("order_type", sig.OrderType),
		logger.Bool("partial_fill", sig.PartialFill))
	return nil
}

// KafkaSubmitter hands orders to the brokerage gateway via the orders
// topic, keyed by symbol so per-symbol ordering is preserved.
type KafkaSubmitter struct {
	producer  *kafka.Producer
	topic     string
	accountID string
}

// NewKafkaSubmitter creates the streaming submitter.
func NewKafkaSubmitter(producer *kafka.Producer, topic, accountID string) *KafkaSubmitter {
	return &KafkaSubmitter{producer: producer, topic: topic, accountID: accountID}
}

func (s *KafkaSubmitter) Name() string { return "kafka" }

// orderMessage is the wire shape the gateway consumes.
type orderMessage struct {
	AccountID string `json:"account_id"`
	model.Signal
}

func (s *KafkaSubmitter) Submit(ctx context.Context, sig model.Signal) error {
	msg := orderMessage{AccountID: s.accountID, Signal: sig}
	if err := s.producer.Publish(ctx, s.topic, []byte(sig.Symbol), msg); err != nil {
		return fmt.Errorf("order publish %s %s: %w", sig.Action, sig.Symbol, err)
	}
	return nil
}

// Close releases the producer.
func (s *KafkaSubmitter) Close() error {
	return s.producer.Close()
}
