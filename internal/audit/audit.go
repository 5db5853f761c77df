// Package audit publishes a write-only ledger of load-management actions to
// Kafka (A6), grounded on services/mape/internal/kafkaio/io.go's
// segmentio/kafka-go writer-construction and WriteMessages pattern. The
// ledger is not authoritative and nothing reads it back into the
// controller: it exists purely as an external audit trail, gated off by
// default per AppConfig.AuditEnabled.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nickw444/da-automation-nk-sub000/internal/loadmanager"
)

// LedgerEvent is one shed/add decision, published verbatim as JSON.
type LedgerEvent struct {
	Timestamp time.Time            `json:"timestamp"`
	Device    string               `json:"device"`
	Kind      loadmanager.ActionKind `json:"kind"`
	DeltaW    float64              `json:"delta_w"`
}

// Publisher writes one LedgerEvent per action taken to
// "<topicPrefix><deviceName>". It implements loadmanager.Hooks so it can be
// handed straight to loadmanager.New as the ticker's observer.
type Publisher struct {
	writer       *kafka.Writer
	topicPrefix  string
	logger       *slog.Logger
}

// New constructs a Publisher against brokers. The writer has no fixed
// Topic: every WriteMessages call carries the destination topic per
// message, since each device gets its own ledger topic.
func New(brokers []string, topicPrefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireOne,
		},
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error { return p.writer.Close() }

// TickCompleted implements loadmanager.Hooks. The ledger only records
// actions, not every tick, so this is a no-op.
func (p *Publisher) TickCompleted(ticks uint64, gridW float64, gridPresent bool) {}

// ShedBudgetRemaining implements loadmanager.Hooks; not recorded in the
// ledger.
func (p *Publisher) ShedBudgetRemaining(w float64) {}

// ActionTaken implements loadmanager.Hooks, publishing one ledger event per
// shed/add action to the device's own topic.
func (p *Publisher) ActionTaken(a loadmanager.Action) {
	evt := LedgerEvent{Timestamp: time.Now(), Device: a.Device, Kind: a.Kind, DeltaW: a.DeltaW}
	b, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("audit: marshal ledger event", "device", a.Device, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := p.topicPrefix + a.Device
	if err := p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: b, Time: evt.Timestamp}); err != nil {
		p.logger.Warn("audit: ledger publish failed", "topic", topic, "error", err)
	}
}
