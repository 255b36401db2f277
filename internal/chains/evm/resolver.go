// Package evm resolves chain context for EVM networks over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// ErrNoActionAddress is returned when the contract reports the zero address.
var ErrNoActionAddress = errors.New("contract returned no action address")

const actionABI = `[{"inputs":[],"name":"action","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

var parsedActionABI = mustParseABI(actionABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parsing action ABI: %v", err))
	}
	return parsed
}

// Client is the subset of ethclient.Client the resolver uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC: %w", err)
	}
	return client, nil
}

// Resolver implements domain.ChainContext on top of an RPC client and a
// Foundry project.
type Resolver struct {
	client      Client
	project     *foundry.Project
	libraryName string
	policy      retry.Policy
	logger      *slog.Logger

	mu      sync.Mutex
	chainID string
}

var _ domain.ChainContext = (*Resolver)(nil)

// NewResolver creates a resolver. libraryName is the library looked up in the
// project; empty disables library linking.
func NewResolver(client Client, project *foundry.Project, libraryName string, policy retry.Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:      client,
		project:     project,
		libraryName: libraryName,
		policy:      policy,
		logger:      logger.With("component", "chain-context"),
	}
}

// ChainID returns the chain ID reported by the node. The first successful
// answer is cached so it stays stable for the resolver's lifetime.
func (r *Resolver) ChainID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chainID != "" {
		return r.chainID, nil
	}

	id, err := retry.Do(ctx, r.policy, r.logger, func(ctx context.Context) (*big.Int, error) {
		return r.client.ChainID(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("getting chain ID: %w", err)
	}
	r.chainID = id.String()
	r.logger.Info("resolved chain", "chain_id", r.chainID)
	return r.chainID, nil
}

// Library returns the configured library, or a zero Library when none is linked.
func (r *Resolver) Library(ctx context.Context) (domain.Library, error) {
	if r.libraryName == "" {
		return domain.Library{}, nil
	}
	lib, ok, err := r.project.FindLibrary(r.libraryName)
	if err != nil {
		return domain.Library{}, err
	}
	if !ok {
		return domain.Library{}, nil
	}
	return domain.Library{Path: lib.Path, Name: lib.Name, Address: lib.Address}, nil
}

// ActionAddress calls action() on the primary contract.
func (r *Resolver) ActionAddress(ctx context.Context, primary string) (string, error) {
	if !common.IsHexAddress(primary) {
		return "", fmt.Errorf("%w: %q", retry.ErrInvalidInput, primary)
	}
	to := common.HexToAddress(primary)

	data, err := parsedActionABI.Pack("action")
	if err != nil {
		return "", fmt.Errorf("packing action call: %w", err)
	}

	out, err := retry.Do(ctx, r.policy, r.logger, func(ctx context.Context) ([]byte, error) {
		return r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return "", fmt.Errorf("calling action(): %w", err)
	}

	var action common.Address
	if err := parsedActionABI.UnpackIntoInterface(&action, "action", out); err != nil {
		return "", fmt.Errorf("decoding action(): %w", err)
	}
	if action == (common.Address{}) {
		return "", ErrNoActionAddress
	}
	return action.Hex(), nil
}

// DeployedCode returns the runtime bytecode at address.
func (r *Resolver) DeployedCode(ctx context.Context, address string) ([]byte, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", retry.ErrInvalidInput, address)
	}
	account := common.HexToAddress(address)
	return retry.Do(ctx, r.policy, r.logger, func(ctx context.Context) ([]byte, error) {
		return r.client.CodeAt(ctx, account, nil)
	})
}
