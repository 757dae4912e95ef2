package egress

import (
	"context"
	"sync/atomic"
	"time"

	qdb "github.com/questdb/go-questdb-client/v3"
	"github.com/veloce-lang/csp/internal"
	"go.opentelemetry.io/otel/attribute"
)

// Sample is one per-channel throughput observation.
type Sample struct {
	Channel   string
	Sends     int64
	Receives  int64
	Depth     int64
	Timestamp time.Time
}

type QuestDBConfig struct {
	Address string
	Table   string
}

func NewDefaultQuestDBConfig() *QuestDBConfig {
	return &QuestDBConfig{
		Address: "localhost:9000",
		Table:   "channel_stats",
	}
}

// QuestDB ships channel throughput samples to QuestDB over ILP.
type QuestDB struct {
	tel *internal.Telemetry

	cfg *QuestDBConfig

	senderPool *qdb.LineSenderPool
	sender     qdb.LineSender

	deliveredRows atomic.Int64
}

func NewQuestDB(cfg *QuestDBConfig) *QuestDB {
	return &QuestDB{
		tel: internal.NewTelemetry("egress", "quest_db"),

		cfg: cfg,
	}
}

func (e *QuestDB) Init(ctx context.Context) error {
	senderPool, err := qdb.PoolFromOptions(
		qdb.WithAddress(e.cfg.Address),
		qdb.WithHttp(),
		qdb.WithAutoFlushRows(1_000),
		qdb.WithRetryTimeout(time.Second),
	)
	if err != nil {
		return err
	}

	sender, err := senderPool.Sender(ctx)
	if err != nil {
		return err
	}

	e.senderPool = senderPool
	e.sender = sender

	return nil
}

// Deliver writes one sample row.
func (e *QuestDB) Deliver(ctx context.Context, sample *Sample) error {
	ctx, span := e.tel.NewTrace(ctx, "insert channel sample")
	defer span.End()

	span.SetAttributes(attribute.String("channel", sample.Channel))

	err := e.sender.Table(e.cfg.Table).
		Symbol("channel", sample.Channel).
		Int64Column("sends", sample.Sends).
		Int64Column("receives", sample.Receives).
		Int64Column("depth", sample.Depth).
		At(ctx, sample.Timestamp)
	if err != nil {
		return err
	}

	e.deliveredRows.Add(1)

	return nil
}

func (e *QuestDB) Stop() {
	ctx := context.Background()

	if e.sender != nil {
		if err := e.sender.Close(ctx); err != nil {
			e.tel.LogError("failed to close sender", err)
		}
	}

	if e.senderPool != nil {
		if err := e.senderPool.Close(ctx); err != nil {
			e.tel.LogError("failed to close sender pool", err)
		}
	}

	e.tel.LogInfo("egress stopped", "delivered_rows", e.deliveredRows.Load())
}
