package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/engine"
)

// PostgresWriter batches settled fills into the trades table for long-term
// price history. Inserts are idempotent on the settlement tx hash, so
// replays after a retry dedupe server-side.
type PostgresWriter struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	batchSize     int
	flushInterval time.Duration

	mu    sync.Mutex
	batch []engine.Trade

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgresWriter connects a pool and verifies it with a ping.
func NewPostgresWriter(ctx context.Context, databaseURL string, batchSize int, flushInterval time.Duration, log *zap.Logger) (*PostgresWriter, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresWriter{
		pool:          pool,
		log:           log,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		batch:         make([]engine.Trade, 0, batchSize),
	}, nil
}

// Start runs the periodic flush loop.
func (w *PostgresWriter) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.flush(context.Background())
			}
		}
	}()
	w.log.Info("price history writer started",
		zap.Int("batch_size", w.batchSize),
		zap.Duration("flush_interval", w.flushInterval))
}

// Stop flushes what is pending and closes the pool.
func (w *PostgresWriter) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.flush(ctx)
	w.pool.Close()
	w.log.Info("price history writer stopped")
}

// RecordTrade queues one fill. Implements engine.TradeLog; never blocks the
// matching path on the database.
func (w *PostgresWriter) RecordTrade(t engine.Trade) {
	w.mu.Lock()
	w.batch = append(w.batch, t)
	full := len(w.batch) >= w.batchSize
	w.mu.Unlock()
	if full {
		go w.flush(context.Background())
	}
}

func (w *PostgresWriter) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.batch) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]engine.Trade, 0, w.batchSize)
	w.mu.Unlock()

	b := &pgx.Batch{}
	for _, t := range batch {
		b.Queue(`
			INSERT INTO trades (market_id, outcome_id, maker_order_id, taker_order_id, price, size, taker_side, tx_hash, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tx_hash) DO NOTHING
		`, t.MarketID, t.OutcomeID, t.MakerOrderID, t.TakerOrderID, t.Price, t.Size.String(), t.TakerSide.String(), t.TxHash.Hex(), t.ExecutedAt)
	}

	results := w.pool.SendBatch(ctx, b)
	defer results.Close()
	for range batch {
		if _, err := results.Exec(); err != nil {
			w.log.Error("trade batch insert failed", zap.Int("count", len(batch)), zap.Error(err))
			return
		}
	}
	w.log.Debug("flushed trades", zap.Int("count", len(batch)))
}
