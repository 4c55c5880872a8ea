package fetcher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	probeABIJSON = `[{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"}],"name":"transfer","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},{"inputs":[],"name":"owner","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

	probeSinkHex = "0x000000000000000000000000000000000000dEaD"
)

var (
	probeABI abi.ABI
	weiPerGwei = decimal.NewFromInt(1_000_000_000)
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(probeABIJSON))
	if err != nil {
		panic("failed to parse probe ABI: " + err.Error())
	}
	probeABI = parsed
}

// PackTotalSupply builds the calldata for a plain read probe.
func PackTotalSupply() []byte {
	payload, err := probeABI.Pack("totalSupply")
	if err != nil {
		panic("pack totalSupply: " + err.Error())
	}
	return payload
}

// PackTransferProbe builds the calldata for a zero-value transfer probe.
func PackTransferProbe() []byte {
	payload, err := probeABI.Pack("transfer", common.HexToAddress(probeSinkHex), big.NewInt(0))
	if err != nil {
		panic("pack transfer: " + err.Error())
	}
	return payload
}

// PackOwnerCall builds the calldata for an owner() read.
func PackOwnerCall() []byte {
	payload, err := probeABI.Pack("owner")
	if err != nil {
		panic("pack owner: " + err.Error())
	}
	return payload
}

// UnpackOwner decodes the owner() return value.
func UnpackOwner(data []byte) (common.Address, error) {
	outputs, err := probeABI.Unpack("owner", data)
	if err != nil {
		return common.Address{}, err
	}
	if len(outputs) != 1 {
		return common.Address{}, errors.New("unexpected owner() response")
	}
	addr, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("failed to decode owner() output")
	}
	return addr, nil
}

// NormalizeAddress validates and checksums a hex address.
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(address).Hex(), nil
}

// RPCOptions parameterise the Ethereum RPC reader.
type RPCOptions struct {
	RPCURL  string
	Chain   string
	Timeout time.Duration
}

// RPC reads chain state via Ethereum JSON-RPC.
type RPC struct {
	opts      RPCOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewRPC builds a new RPC chain reader.
func NewRPC(opts RPCOptions, logger zerolog.Logger) *RPC {
	return &RPC{opts: opts, logger: logger.With().Str("component", "rpc_reader").Logger()}
}

// CurrentFee returns the suggested gas price in gwei.
func (r *RPC) CurrentFee(ctx context.Context) (decimal.Decimal, error) {
	if r.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	wei, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return decimal.NewFromBigInt(wei, 0).Div(weiPerGwei), nil
}

// ContractMeta reports bytecode presence and hash for an address.
func (r *RPC) ContractMeta(ctx context.Context, address string) (ContractMeta, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return ContractMeta{}, err
	}
	if r.opts.RPCURL == "" {
		return ContractMeta{}, errors.New("ethereum rpc url not configured")
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return ContractMeta{}, err
	}

	code, err := client.CodeAt(ctx, common.HexToAddress(normalized), nil)
	if err != nil {
		return ContractMeta{}, err
	}

	meta := ContractMeta{Address: normalized, HasCode: len(code) > 0}
	if meta.HasCode {
		meta.BytecodeHash = crypto.Keccak256Hash(code).Hex()
	}
	return meta, nil
}

// SimulateCall executes a read-only call and classifies reverts.
func (r *RPC) SimulateCall(ctx context.Context, address string, payload []byte) (SimulationOutcome, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return SimulationOutcome{}, err
	}
	if r.opts.RPCURL == "" {
		return SimulationOutcome{}, errors.New("ethereum rpc url not configured")
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return SimulationOutcome{}, err
	}

	addr := common.HexToAddress(normalized)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		if reason, reverted := revertReason(err); reverted {
			return SimulationOutcome{Reverted: true, Reason: reason}, nil
		}
		return SimulationOutcome{}, err
	}

	return SimulationOutcome{ReturnData: res}, nil
}

func (r *RPC) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *RPC) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

// revertReason distinguishes an EVM revert from a transport failure.
func revertReason(err error) (string, bool) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "execution reverted") || strings.Contains(lower, "revert") {
		if idx := strings.Index(lower, "execution reverted"); idx >= 0 {
			reason := strings.TrimSpace(msg[idx+len("execution reverted"):])
			reason = strings.TrimPrefix(reason, ":")
			return strings.TrimSpace(reason), true
		}
		return "", true
	}
	return "", false
}

var _ ChainReader = (*RPC)(nil)
