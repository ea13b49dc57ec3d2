package book

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Key identifies one order book.
type Key struct {
	MarketID  string
	OutcomeID int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.MarketID, k.OutcomeID)
}

type shard struct {
	mu   sync.Mutex
	book *Book
}

// Store owns every order book and the global order index. Each (market,
// outcome) book is guarded by its own mutex, so different books proceed in
// parallel while mutations within one book are serialized. Terminal orders
// stay in the index for historical lookup; they are only unlinked from the
// book levels.
type Store struct {
	mu      sync.RWMutex
	shards  map[Key]*shard
	orders  map[string]*Order
	byHash  map[common.Hash]string
	byMaker map[common.Address][]string
	seq     uint64

	now      func() int64 // injectable for expiry tests
	onExpire func(marketID string, outcomeID int)
}

func NewStore() *Store {
	return &Store{
		shards:  make(map[Key]*shard),
		orders:  make(map[string]*Order),
		byHash:  make(map[common.Hash]string),
		byMaker: make(map[common.Address][]string),
		now:     func() int64 { return time.Now().Unix() },
	}
}

// Register validates and indexes an order, assigning its ID and monotonic
// insertion sequence. It does not rest the order on a book; use AddOrder or
// Update+Insert for that. Orders whose hash was already seen are rejected,
// which prevents replay of identical signed terms.
func (s *Store) Register(o *Order, isMarket bool) error {
	if err := o.Validate(isMarket, s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if o.OrderHash != (common.Hash{}) {
		if prev, ok := s.byHash[o.OrderHash]; ok {
			return fmt.Errorf("%w: hash %s already placed as %s", ErrDuplicateOrder, o.OrderHash.Hex(), prev)
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("%w: id %s already registered", ErrDuplicateOrder, o.ID)
	}
	if o.Filled == nil {
		o.Filled = new(big.Int)
	}
	o.Status = Open
	s.seq++
	o.Sequence = s.seq

	s.orders[o.ID] = o
	if o.OrderHash != (common.Hash{}) {
		s.byHash[o.OrderHash] = o.ID
	}
	s.byMaker[o.Maker] = append(s.byMaker[o.Maker], o.ID)
	return nil
}

// AddOrder registers a pre-authenticated order and rests it on its book.
// Returns the assigned order ID.
func (s *Store) AddOrder(o *Order) (string, error) {
	if err := s.Register(o, false); err != nil {
		return "", err
	}
	s.Update(o.MarketID, o.OutcomeID, func(b *Book) {
		b.Insert(o)
	})
	return o.ID, nil
}

// Update runs fn with exclusive access to one book. The "read book, decide,
// apply" sequence of the matching path happens entirely inside one Update
// call, so concurrent operations never observe a half-applied plan.
func (s *Store) Update(marketID string, outcomeID int, fn func(b *Book)) {
	sh := s.shard(Key{MarketID: marketID, OutcomeID: outcomeID})
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.book)
}

// NotifyExpiry registers a callback fired whenever a lazy expiry unlinks an
// order from its book, so subscribers see the depth change. Set once at
// wiring time, before the store serves traffic. The callback runs outside the
// book's section and may read depth.
func (s *Store) NotifyExpiry(fn func(marketID string, outcomeID int)) {
	s.onExpire = fn
}

// CancelOrder cancels an open order. Only the maker may cancel; canceling an
// already-terminal order is a benign no-op that reports the terminal status,
// so a cancel racing a fill resolves first-writer-wins on both sides.
func (s *Store) CancelOrder(id string, requester common.Address) (Status, error) {
	o, sh, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	sh.mu.Lock()

	if o.Maker != requester {
		status := o.Status
		sh.mu.Unlock()
		return status, fmt.Errorf("%w: order %s", ErrNotMaker, id)
	}
	expired := s.expireLocked(sh.book, o)
	if o.Status.Terminal() {
		status := o.Status
		sh.mu.Unlock()
		s.expiryFired(expired, o)
		return status, nil
	}
	o.Status = Canceled
	sh.book.Remove(o)
	sh.mu.Unlock()
	return Canceled, nil
}

// FillOrder advances an order's filled counter by size. Filling an
// already-terminal order is absorbed as a no-op (legitimate race); a fill
// exceeding the remaining size is ErrOverfill, an internal invariant breach.
func (s *Store) FillOrder(id string, size *big.Int) (Status, error) {
	o, sh, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	sh.mu.Lock()

	expired := s.expireLocked(sh.book, o)
	if o.Status.Terminal() {
		status := o.Status
		sh.mu.Unlock()
		s.expiryFired(expired, o)
		return status, nil
	}
	err = sh.book.Fill(o, size, o.Price)
	status := o.Status
	sh.mu.Unlock()
	return status, err
}

// Get returns a copy of the order, after lazily expiring it if its deadline
// has passed.
func (s *Store) Get(id string) (*Order, error) {
	o, sh, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	sh.mu.Lock()
	expired := s.expireLocked(sh.book, o)
	clone := o.Clone()
	sh.mu.Unlock()
	s.expiryFired(expired, o)
	return clone, nil
}

// Depth returns the top-N aggregated price levels of one book.
func (s *Store) Depth(marketID string, outcomeID, depth int) Snapshot {
	sh := s.shard(Key{MarketID: marketID, OutcomeID: outcomeID})
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.book.Snapshot(depth)
}

// UserOrders returns copies of all orders by one maker, optionally filtered
// to a market. Most recent registration last.
func (s *Store) UserOrders(maker common.Address, marketID string) []*Order {
	s.mu.RLock()
	ids := append([]string(nil), s.byMaker[maker]...)
	s.mu.RUnlock()

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.Get(id)
		if err != nil {
			continue
		}
		if marketID != "" && o.MarketID != marketID {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Books returns the keys of every book created so far, sorted for stable
// sweep iteration.
func (s *Store) Books() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.shards))
	for k := range s.shards {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].MarketID != keys[j].MarketID {
			return keys[i].MarketID < keys[j].MarketID
		}
		return keys[i].OutcomeID < keys[j].OutcomeID
	})
	return keys
}

// Now returns the store's current unix time. The matching path uses it so
// expiry decisions inside one plan are consistent.
func (s *Store) Now() int64 { return s.now() }

func (s *Store) shard(k Key) *shard {
	s.mu.RLock()
	sh, ok := s.shards[k]
	s.mu.RUnlock()
	if ok {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[k]; ok {
		return sh
	}
	sh = &shard{book: newBook(k.MarketID, k.OutcomeID)}
	s.shards[k] = sh
	return sh
}

func (s *Store) lookup(id string) (*Order, *shard, error) {
	s.mu.RLock()
	o, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o, s.shard(Key{MarketID: o.MarketID, OutcomeID: o.OutcomeID}), nil
}

// expireLocked transitions a past-deadline order to Expired and unlinks it,
// reporting whether it did. Caller holds the order's book section.
func (s *Store) expireLocked(b *Book, o *Order) bool {
	if !o.Status.Terminal() && o.ExpiredAt(s.now()) {
		o.Status = Expired
		b.Remove(o)
		return true
	}
	return false
}

// expiryFired invokes the expiry callback outside the book's section.
func (s *Store) expiryFired(fired bool, o *Order) {
	if fired && s.onExpire != nil {
		s.onExpire(o.MarketID, o.OutcomeID)
	}
}
