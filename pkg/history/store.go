// Package history persists executed fills: a local pebble trade log serving
// the trades API, and an optional batched Postgres writer for long-term
// price history.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/engine"
)

// Store is the local trade log. Keys are time-ordered per book, so recent
// trades are a bounded reverse scan.
//
// keys: t:<market>/<outcome>:<8-byte big-endian unix-nano>
type Store struct {
	db  *pebble.DB
	log *zap.Logger

	mu   sync.Mutex
	last time.Time // monotonic key tiebreak within one nanosecond
}

func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func tradePrefix(marketID string, outcomeID int) []byte {
	return fmt.Appendf(nil, "t:%s/%d:", marketID, outcomeID)
}

func tradeKey(marketID string, outcomeID int, at time.Time) []byte {
	key := tradePrefix(marketID, outcomeID)
	return binary.BigEndian.AppendUint64(key, uint64(at.UnixNano()))
}

// RecordTrade appends a settled fill to the log. Implements engine.TradeLog;
// persistence errors are logged, never propagated into the matching path.
func (s *Store) RecordTrade(t engine.Trade) {
	s.mu.Lock()
	at := time.Now()
	if !at.After(s.last) {
		at = s.last.Add(time.Nanosecond)
	}
	s.last = at
	s.mu.Unlock()

	val, err := json.Marshal(t)
	if err != nil {
		s.log.Error("encode trade", zap.Error(err))
		return
	}
	if err := s.db.Set(tradeKey(t.MarketID, t.OutcomeID, at), val, pebble.Sync); err != nil {
		s.log.Error("persist trade", zap.String("market", t.MarketID), zap.Error(err))
	}
}

// Recent returns up to limit trades of one book, newest first.
func (s *Store) Recent(marketID string, outcomeID, limit int) ([]engine.Trade, error) {
	prefix := tradePrefix(marketID, outcomeID)
	upper := append(append([]byte(nil), prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("trade iterator: %w", err)
	}
	defer iter.Close()

	var out []engine.Trade
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var t engine.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			s.log.Warn("skip undecodable trade record", zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// LastTradePrice returns the most recent fill price of one book.
func (s *Store) LastTradePrice(marketID string, outcomeID int) (int64, bool) {
	trades, err := s.Recent(marketID, outcomeID, 1)
	if err != nil || len(trades) == 0 {
		return 0, false
	}
	return trades[0].Price, true
}
