package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ittarek/swap-engine/swaperr"
)

const (
	defaultGasMultiplier = 1.2
	fallbackTipCapWei    = 2_000_000_000
)

// Config selects the signing key and tunes submission. Exactly one key
// source must be set: PrivateKeyHex, PrivateKeyFile, or KeystorePath.
type Config struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string

	// MaxFeeGwei and MaxPriorityFeeGwei cap EIP-1559 fees. Empty values use
	// the node's suggestions.
	MaxFeeGwei         string
	MaxPriorityFeeGwei string

	// GasMultiplier pads gas estimates. Values below 1 fall back to the
	// default of 1.2.
	GasMultiplier float64

	// Simulate runs an eth_call preflight before broadcasting.
	Simulate bool
}

// Local is a Session backed by an in-process private key. Its identity is
// fixed for the lifetime of the session, so registered OnChange callbacks
// never fire.
type Local struct {
	key     *ecdsa.PrivateKey
	address common.Address
	rpc     *ethclient.Client
	chainID *big.Int
	cfg     Config
	log     *zap.Logger

	// mu serializes SignAndSend so pending-nonce reads stay consistent.
	mu sync.Mutex
}

// NewLocal loads the configured key, dials the endpoint, and pins the
// session to the chain the endpoint reports.
func NewLocal(ctx context.Context, endpoint string, cfg Config, log *zap.Logger) (*Local, error) {
	if log == nil {
		log = zap.NewNop()
	}
	key, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.GasMultiplier < 1 {
		cfg.GasMultiplier = defaultGasMultiplier
	}
	rpc, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeNetworkUnavailable, "dial endpoint", err)
	}
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, swaperr.Wrap(swaperr.CodeNetworkUnavailable, "fetch chain id", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	log.Info("local wallet session ready",
		zap.Stringer("address", address),
		zap.Int64("chain_id", chainID.Int64()))
	return &Local{
		key:     key,
		address: address,
		rpc:     rpc,
		chainID: chainID,
		cfg:     cfg,
		log:     log.Named("wallet"),
	}, nil
}

// Account reports the signer address. A loaded Local is always unlocked.
func (l *Local) Account() (common.Address, bool) {
	return l.address, true
}

// ChainID reports the chain the session was dialed against.
func (l *Local) ChainID() int64 {
	return l.chainID.Int64()
}

// OnChange is a no-op for Local: the key and endpoint are fixed at
// construction.
func (l *Local) OnChange(func()) {}

// Close releases the underlying RPC connection.
func (l *Local) Close() {
	l.rpc.Close()
}

// SignAndSend estimates fees and gas, signs an EIP-1559 transaction with the
// local key, and broadcasts it.
func (l *Local) SignAndSend(ctx context.Context, req TxRequest) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	msg := ethereum.CallMsg{From: l.address, To: &req.To, Value: value, Data: req.Data}

	if l.cfg.Simulate {
		if _, err := l.rpc.CallContract(ctx, msg, nil); err != nil {
			return common.Hash{}, swaperr.Classify(err)
		}
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		estimated, err := l.rpc.EstimateGas(ctx, msg)
		if err != nil {
			return common.Hash{}, swaperr.Classify(err)
		}
		gasLimit = uint64(float64(estimated) * l.cfg.GasMultiplier)
	}

	tipCap, err := l.resolveTipCap(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	feeCap, err := l.resolveFeeCap(ctx, tipCap)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := l.rpc.PendingNonceAt(ctx, l.address)
	if err != nil {
		return common.Hash{}, swaperr.Classify(err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &req.To,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return common.Hash{}, swaperr.Wrap(swaperr.CodeUnknown, "sign transaction", err)
	}
	if err := l.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, swaperr.Classify(err)
	}
	l.log.Info("transaction broadcast",
		zap.Stringer("hash", signed.Hash()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))
	return signed.Hash(), nil
}

func (l *Local) resolveTipCap(ctx context.Context) (*big.Int, error) {
	if l.cfg.MaxPriorityFeeGwei != "" {
		tip, err := parseGwei(l.cfg.MaxPriorityFeeGwei)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeValidation, "parse max priority fee", err)
		}
		return tip, nil
	}
	tip, err := l.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		// Some endpoints do not expose the tip suggestion; fall back.
		return big.NewInt(fallbackTipCapWei), nil
	}
	return tip, nil
}

func (l *Local) resolveFeeCap(ctx context.Context, tipCap *big.Int) (*big.Int, error) {
	if l.cfg.MaxFeeGwei != "" {
		feeCap, err := parseGwei(l.cfg.MaxFeeGwei)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeValidation, "parse max fee", err)
		}
		if feeCap.Cmp(tipCap) < 0 {
			return nil, swaperr.New(swaperr.CodeValidation, "max fee below priority fee")
		}
		return feeCap, nil
	}
	header, err := l.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, swaperr.Classify(err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func loadPrivateKey(cfg Config) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.PrivateKeyHex != "":
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeValidation, "parse private key", err)
		}
		return key, nil
	case cfg.PrivateKeyFile != "":
		raw, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeValidation, "read private key file", err)
		}
		hex := strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x")
		key, err := crypto.HexToECDSA(hex)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeValidation, "parse private key file", err)
		}
		return key, nil
	case cfg.KeystorePath != "":
		password, err := keystorePassword(cfg)
		if err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeValidation, "read keystore", err)
		}
		key, err := keystore.DecryptKey(raw, password)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeValidation, "decrypt keystore", err)
		}
		return key.PrivateKey, nil
	default:
		return nil, swaperr.New(swaperr.CodeValidation, "no signing key configured")
	}
}

func keystorePassword(cfg Config) (string, error) {
	if cfg.KeystorePassword != "" {
		return cfg.KeystorePassword, nil
	}
	if cfg.KeystorePasswordFile == "" {
		return "", swaperr.New(swaperr.CodeValidation, "keystore password not provided")
	}
	raw, err := os.ReadFile(cfg.KeystorePasswordFile)
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeValidation, "read keystore password file", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// parseGwei converts a decimal gwei string to wei, rejecting sub-wei
// precision.
func parseGwei(value string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, swaperr.New(swaperr.CodeValidation, "invalid gwei value "+value)
	}
	if r.Sign() < 0 {
		return nil, swaperr.New(swaperr.CodeValidation, "negative gwei value "+value)
	}
	r.Mul(r, new(big.Rat).SetInt64(1_000_000_000))
	if !r.IsInt() {
		return nil, swaperr.New(swaperr.CodeValidation, "gwei value "+value+" has sub-wei precision")
	}
	return new(big.Int).Set(r.Num()), nil
}
