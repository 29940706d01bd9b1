package allowance

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ittarek/swap-engine/asset"
	"github.com/ittarek/swap-engine/chain"
	"github.com/ittarek/swap-engine/registry"
	"github.com/ittarek/swap-engine/swaperr"
)

var (
	testOwner   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSpender = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	testToken   = asset.Token{
		ChainID:  1,
		Address:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Symbol:   "USDC",
		Decimals: 6,
	}
)

type fakeReader struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, to common.Address, input []byte) ([]byte, error)
}

var _ chain.Reader = (*fakeReader)(nil)

func (f *fakeReader) Call(_ context.Context, to common.Address, input []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, to, input)
}

func (f *fakeReader) ReceiptStatus(context.Context, common.Hash) (chain.TxStatus, error) {
	return chain.TxStatusPending, nil
}

func (f *fakeReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func packAllowanceResult(t *testing.T, amount *big.Int) []byte {
	t.Helper()
	out, err := registry.ERC20ABI.Methods["allowance"].Outputs.Pack(amount)
	if err != nil {
		t.Fatalf("pack allowance output: %v", err)
	}
	return out
}

func constantAllowance(t *testing.T, amount *big.Int) *fakeReader {
	t.Helper()
	return &fakeReader{fn: func(_ int, to common.Address, input []byte) ([]byte, error) {
		require.Equal(t, testToken.Address, to)
		want, err := registry.ERC20ABI.Pack("allowance", testOwner, testSpender)
		require.NoError(t, err)
		require.Equal(t, want, input)
		return packAllowanceResult(t, amount), nil
	}}
}

func TestIsSufficientReadsFreshAllowance(t *testing.T) {
	reader := constantAllowance(t, big.NewInt(150))
	mon := NewMonitor(reader, zaptest.NewLogger(t))

	ok, rec, err := mon.IsSufficient(context.Background(), testOwner, testSpender, testToken, big.NewInt(100))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "150", rec.Amount.String())

	ok, rec2, err := mon.IsSufficient(context.Background(), testOwner, testSpender, testToken, big.NewInt(200))
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, rec2.AsOfRequestID, rec.AsOfRequestID)
	require.Equal(t, 2, reader.callCount())
}

func TestIsSufficientRequiresPositiveAmount(t *testing.T) {
	mon := NewMonitor(constantAllowance(t, big.NewInt(150)), zaptest.NewLogger(t))

	_, _, err := mon.IsSufficient(context.Background(), testOwner, testSpender, testToken, big.NewInt(0))
	require.Equal(t, swaperr.CodeValidation, swaperr.CodeOf(err))
	_, _, err = mon.IsSufficient(context.Background(), testOwner, testSpender, testToken, nil)
	require.Equal(t, swaperr.CodeValidation, swaperr.CodeOf(err))
}

func TestCachedReflectsLastRead(t *testing.T) {
	mon := NewMonitor(constantAllowance(t, big.NewInt(75)), zaptest.NewLogger(t))

	_, cached := mon.Cached(testOwner, testSpender, testToken)
	require.False(t, cached)

	rec, err := mon.Current(context.Background(), testOwner, testSpender, testToken)
	require.NoError(t, err)

	got, cached := mon.Cached(testOwner, testSpender, testToken)
	require.True(t, cached)
	require.Equal(t, rec.AsOfRequestID, got.AsOfRequestID)
	require.Equal(t, "75", got.Amount.String())
}

func TestInvalidateDropsRecordAndRefetches(t *testing.T) {
	amounts := []*big.Int{big.NewInt(0), big.NewInt(500)}
	reader := &fakeReader{fn: func(call int, _ common.Address, _ []byte) ([]byte, error) {
		return packAllowanceResult(t, amounts[call-1]), nil
	}}
	mon := NewMonitor(reader, zaptest.NewLogger(t))

	rec, err := mon.Current(context.Background(), testOwner, testSpender, testToken)
	require.NoError(t, err)
	require.Equal(t, "0", rec.Amount.String())

	mon.Invalidate(testOwner, testSpender, testToken)
	_, cached := mon.Cached(testOwner, testSpender, testToken)
	require.False(t, cached)

	rec, err = mon.Current(context.Background(), testOwner, testSpender, testToken)
	require.NoError(t, err)
	require.Equal(t, "500", rec.Amount.String())
	require.Equal(t, 2, reader.callCount())
}

func TestPurgeDropsAllRecords(t *testing.T) {
	mon := NewMonitor(constantAllowance(t, big.NewInt(75)), zaptest.NewLogger(t))

	_, err := mon.Current(context.Background(), testOwner, testSpender, testToken)
	require.NoError(t, err)

	mon.Purge()
	_, cached := mon.Cached(testOwner, testSpender, testToken)
	require.False(t, cached)
}

// gatedReader blocks the first chain read until released, so a test can act
// while the read is in flight.
func gatedReader(t *testing.T, amount *big.Int) (*fakeReader, chan struct{}, chan struct{}) {
	t.Helper()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	reader := &fakeReader{fn: func(_ int, _ common.Address, _ []byte) ([]byte, error) {
		once.Do(func() { close(entered) })
		<-release
		return packAllowanceResult(t, amount), nil
	}}
	return reader, entered, release
}

func TestInvalidateBarsInFlightRead(t *testing.T) {
	reader, entered, release := gatedReader(t, big.NewInt(25))
	mon := NewMonitor(reader, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		_, err := mon.Current(context.Background(), testOwner, testSpender, testToken)
		done <- err
	}()
	<-entered
	mon.Invalidate(testOwner, testSpender, testToken)
	close(release)
	require.NoError(t, <-done)

	_, cached := mon.Cached(testOwner, testSpender, testToken)
	require.False(t, cached, "read in flight across Invalidate must not re-populate the cache")
	require.Equal(t, 1, reader.callCount())
}

func TestPurgeBarsInFlightRead(t *testing.T) {
	reader, entered, release := gatedReader(t, big.NewInt(25))
	mon := NewMonitor(reader, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		_, err := mon.Current(context.Background(), testOwner, testSpender, testToken)
		done <- err
	}()
	<-entered
	mon.Purge()
	close(release)
	require.NoError(t, <-done)

	_, cached := mon.Cached(testOwner, testSpender, testToken)
	require.False(t, cached, "read in flight across Purge must not re-populate the cache")
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	reader, entered, release := gatedReader(t, big.NewInt(300))
	mon := NewMonitor(reader, zaptest.NewLogger(t))

	const readers = 4
	var wg sync.WaitGroup
	errs := make([]error, readers)
	oks := make([]bool, readers)
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			defer wg.Done()
			oks[i], _, errs[i] = mon.IsSufficient(context.Background(), testOwner, testSpender, testToken, big.NewInt(100))
		}(i)
	}
	<-entered
	// Give the remaining readers time to join the in-flight read.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		require.True(t, oks[i])
	}
	require.Equal(t, 1, reader.callCount())
}

func TestReadFailurePropagates(t *testing.T) {
	reader := &fakeReader{fn: func(int, common.Address, []byte) ([]byte, error) {
		return nil, swaperr.New(swaperr.CodeNetworkUnavailable, "endpoint unreachable")
	}}
	mon := NewMonitor(reader, zaptest.NewLogger(t))

	_, _, err := mon.IsSufficient(context.Background(), testOwner, testSpender, testToken, big.NewInt(1))
	require.Equal(t, swaperr.CodeNetworkUnavailable, swaperr.CodeOf(err))
	_, cached := mon.Cached(testOwner, testSpender, testToken)
	require.False(t, cached)
}
