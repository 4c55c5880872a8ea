package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrDataUnavailable marks a collaborator failure with no usable cached value.
	ErrDataUnavailable = errors.New("fetcher: data unavailable")
	// ErrInvalidAddress marks input that is not a valid contract address.
	ErrInvalidAddress = errors.New("fetcher: invalid address")
)

// ContractMeta carries bytecode-level facts about a deployed contract.
type ContractMeta struct {
	Address      string
	HasCode      bool
	BytecodeHash string
}

// SimulationOutcome captures the result of a read-only probe call.
type SimulationOutcome struct {
	Reverted   bool
	Reason     string
	ReturnData []byte
}

// GasFeeProvider returns the current network fee in gwei.
type GasFeeProvider interface {
	CurrentFee(ctx context.Context) (decimal.Decimal, error)
}

// ChainReader answers point-in-time queries against the chain.
type ChainReader interface {
	GasFeeProvider
	ContractMeta(ctx context.Context, address string) (ContractMeta, error)
	SimulateCall(ctx context.Context, address string, payload []byte) (SimulationOutcome, error)
}

// SourceVerifier reports whether a contract's source code is verified.
type SourceVerifier interface {
	SourceVerified(ctx context.Context, address string) (bool, error)
}
