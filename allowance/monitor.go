// Package allowance tracks ERC-20 spending authorizations. Sufficiency
// checks always read the chain; the cache exists only for display and
// explicit invalidation.
package allowance

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ittarek/swap-engine/asset"
	"github.com/ittarek/swap-engine/chain"
	"github.com/ittarek/swap-engine/registry"
	"github.com/ittarek/swap-engine/swaperr"
)

// Record is one observed allowance. AsOfRequestID orders reads issued by the
// same monitor, so callers can tell which of two records is newer.
type Record struct {
	Owner         common.Address
	Spender       common.Address
	Token         asset.Token
	Amount        *big.Int
	AsOfRequestID uint64
	CheckedAt     time.Time
}

// Monitor reads allowances through a chain reader, deduplicating concurrent
// identical reads.
type Monitor struct {
	reader chain.Reader
	log    *zap.Logger
	now    func() time.Time

	group  singleflight.Group
	readID atomic.Uint64

	mu       sync.RWMutex
	records  map[string]Record
	epochs   map[string]uint64
	purgeGen uint64
}

// NewMonitor builds a monitor over one chain's reader. A nil logger disables
// logging.
func NewMonitor(reader chain.Reader, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		reader:  reader,
		log:     log.Named("allowance"),
		now:     time.Now,
		records: make(map[string]Record),
		epochs:  make(map[string]uint64),
	}
}

// IsSufficient reads the current allowance and compares it to required. The
// comparison never uses a cached value.
func (m *Monitor) IsSufficient(ctx context.Context, owner, spender common.Address, token asset.Token, required *big.Int) (bool, Record, error) {
	if required == nil || required.Sign() <= 0 {
		return false, Record{}, swaperr.New(swaperr.CodeValidation, "required allowance must be positive")
	}
	rec, err := m.Current(ctx, owner, spender, token)
	if err != nil {
		return false, Record{}, err
	}
	return rec.Amount.Cmp(required) >= 0, rec, nil
}

// Current reads the allowance from the chain. Concurrent calls for the same
// owner, spender, and token share one read.
func (m *Monitor) Current(ctx context.Context, owner, spender common.Address, token asset.Token) (Record, error) {
	key := recordKey(owner, spender, token)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.fetch(ctx, owner, spender, token, key)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

// Cached returns the last observed record without touching the chain. It is
// for display only; sufficiency decisions go through IsSufficient.
func (m *Monitor) Cached(owner, spender common.Address, token asset.Token) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(owner, spender, token)]
	return rec, ok
}

// Invalidate drops the cached record and detaches any in-flight read so the
// next Current starts fresh. Advancing the key's epoch bars the detached
// read from re-populating the cache when it completes.
func (m *Monitor) Invalidate(owner, spender common.Address, token asset.Token) {
	key := recordKey(owner, spender, token)
	m.group.Forget(key)
	m.mu.Lock()
	m.epochs[key]++
	delete(m.records, key)
	m.mu.Unlock()
}

// Purge drops every cached record, for account or chain changes. Reads in
// flight across a purge complete for their callers but are never cached.
func (m *Monitor) Purge() {
	m.mu.Lock()
	m.records = make(map[string]Record)
	m.epochs = make(map[string]uint64)
	m.purgeGen++
	m.mu.Unlock()
}

func (m *Monitor) fetch(ctx context.Context, owner, spender common.Address, token asset.Token, key string) (Record, error) {
	// Captured before the chain call: an invalidation arriving while the
	// read is in flight advances these, and store drops the write.
	epoch, purgeGen := m.generation(key)
	id := m.readID.Add(1)
	data, err := registry.ERC20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return Record{}, swaperr.Wrap(swaperr.CodeUnknown, "pack allowance calldata", err)
	}
	raw, err := m.reader.Call(ctx, token.Address, data)
	if err != nil {
		return Record{}, err
	}
	values, err := registry.ERC20ABI.Unpack("allowance", raw)
	if err != nil || len(values) != 1 {
		return Record{}, swaperr.Wrap(swaperr.CodeUnknown, "decode allowance", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return Record{}, swaperr.New(swaperr.CodeUnknown, "allowance response is not an integer")
	}
	rec := Record{
		Owner:         owner,
		Spender:       spender,
		Token:         token,
		Amount:        amount,
		AsOfRequestID: id,
		CheckedAt:     m.now().UTC(),
	}
	m.store(key, rec, epoch, purgeGen)
	m.log.Debug("allowance read",
		zap.Stringer("owner", owner),
		zap.Stringer("spender", spender),
		zap.String("token", token.String()),
		zap.Stringer("amount", amount),
		zap.Uint64("request_id", rec.AsOfRequestID))
	return rec, nil
}

func (m *Monitor) generation(key string) (epoch, purgeGen uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epochs[key], m.purgeGen
}

// store keeps the newest record per key even when reads complete out of
// order. A read issued before the key (or the whole cache) was invalidated
// is dropped rather than cached.
func (m *Monitor) store(key string, rec Record, epoch, purgeGen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epochs[key] != epoch || m.purgeGen != purgeGen {
		return
	}
	if existing, ok := m.records[key]; ok && existing.AsOfRequestID > rec.AsOfRequestID {
		return
	}
	m.records[key] = rec
}

func recordKey(owner, spender common.Address, token asset.Token) string {
	return owner.Hex() + "/" + spender.Hex() + "/" + token.String() + "/" + token.Address.Hex()
}
