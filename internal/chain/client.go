package chain

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
)

// ErrReceiptTimeout is returned when a transaction is not mined before the
// configured receipt timeout.
var ErrReceiptTimeout = stdErrors.New("transaction receipt not available before timeout")

// PetRecord is the argument tuple written by addPet.
type PetRecord struct {
	Name   string
	Email  string
	Phone  string
	Status string
}

// Submission identifies a transaction accepted by the node.
type Submission struct {
	TxHash   string
	From     string
	Contract string
}

// Confirmation is the outcome of a mined addPet transaction.
type Confirmation struct {
	BlockNumber uint64
	BlockHash   string
	Succeeded   bool
	// PetAdded holds the decoded event emitted by the transaction, if any.
	PetAdded map[string]any
}

// EventLog is a decoded contract log.
type EventLog struct {
	Name        string
	Contract    string
	TxHash      string
	BlockNumber uint64
	BlockHash   string
	LogIndex    uint
	Removed     bool
	Fields      map[string]any
}

// Client talks JSON-RPC to the development chain hosting the adoption
// contract. Transactions are signed by the node from an unlocked account.
type Client struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	cfg      config.ChainConfig
	abi      abi.ABI
	bound    *bind.BoundContract
	contract common.Address
	logg     *logger.Logger
	metrics  *metrics.Metrics

	// mu serializes unlock+send so concurrent approvals never race on the
	// admin account's nonce.
	mu    sync.Mutex
	admin *common.Address
}

// Dial connects to the node, loads the contract artifact and resolves the
// deployed contract address.
func Dial(ctx context.Context, cfg config.ChainConfig, logg *logger.Logger, m *metrics.Metrics) (*Client, error) {
	artifact, parsed, err := LoadArtifact(cfg.ArtifactPath)
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if cfg.RPCTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.RPCTimeout)
		defer cancel()
	}
	rc, err := rpc.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		cfg:     cfg,
		abi:     parsed,
		logg:    logg,
		metrics: m,
	}

	networkID := ""
	if strings.TrimSpace(cfg.ContractAddress) == "" {
		if networkID, err = c.NetworkID(ctx); err != nil {
			rc.Close()
			return nil, err
		}
	}
	c.contract, err = artifact.ResolveAddress(cfg.ContractAddress, networkID)
	if err != nil {
		rc.Close()
		return nil, err
	}
	c.bound = bind.NewBoundContract(c.contract, parsed, nil, nil, nil)

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"rpc_url":  cfg.RPCURL,
			"contract": c.contract.Hex(),
		}), "chain client ready")
	}
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

// ContractAddress returns the resolved contract address.
func (c *Client) ContractAddress() string {
	return c.contract.Hex()
}

// NetworkID returns the node's net_version.
func (c *Client) NetworkID(ctx context.Context) (string, error) {
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	var id string
	if err := c.rpc.CallContext(ctx, &id, "net_version"); err != nil {
		return "", dependencyError(err, "net_version")
	}
	return id, nil
}

// Ping is used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.NetworkID(ctx)
	return err
}

// adminAccount returns the configured signing account, or the node's first
// account when none is configured. Callers hold c.mu.
func (c *Client) adminAccount(ctx context.Context) (common.Address, error) {
	if c.admin != nil {
		return *c.admin, nil
	}
	if configured := strings.TrimSpace(c.cfg.AdminAccount); configured != "" {
		if !common.IsHexAddress(configured) {
			return common.Address{}, fmt.Errorf("invalid admin account %q", configured)
		}
		addr := common.HexToAddress(configured)
		c.admin = &addr
		return addr, nil
	}

	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	var accounts []common.Address
	if err := c.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return common.Address{}, dependencyError(err, "eth_accounts")
	}
	if len(accounts) == 0 {
		return common.Address{}, pkgerrors.New(pkgerrors.CodeDependency, "chain node exposes no accounts")
	}
	c.admin = &accounts[0]
	return accounts[0], nil
}

func (c *Client) unlock(ctx context.Context, account common.Address) error {
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	var ok bool
	seconds := uint64(c.cfg.UnlockDuration / time.Second)
	if err := c.rpc.CallContext(ctx, &ok, "personal_unlockAccount", account, c.cfg.AdminPassphrase, seconds); err != nil {
		return dependencyError(err, "personal_unlockAccount")
	}
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeDependency, "node refused to unlock %s", account.Hex())
	}
	return nil
}

// AddPet unlocks the admin account and submits addPet(name, email, phone,
// status). It returns once the node has accepted the transaction.
func (c *Client) AddPet(ctx context.Context, rec PetRecord) (Submission, error) {
	data, err := c.abi.Pack(methodAddPet, rec.Name, rec.Email, rec.Phone, rec.Status)
	if err != nil {
		return Submission{}, fmt.Errorf("pack %s: %w", methodAddPet, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	from, err := c.adminAccount(ctx)
	if err != nil {
		c.metrics.IncChainTx("error")
		return Submission{}, err
	}
	if err := c.unlock(ctx, from); err != nil {
		c.metrics.IncChainTx("error")
		return Submission{}, err
	}

	tx := map[string]any{
		"from": from,
		"to":   c.contract,
		"gas":  hexutil.Uint64(c.cfg.GasLimit),
		"data": hexutil.Bytes(data),
	}
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	var hash common.Hash
	if err := c.rpc.CallContext(rctx, &hash, "eth_sendTransaction", tx); err != nil {
		c.metrics.IncChainTx("error")
		return Submission{}, dependencyError(err, "eth_sendTransaction")
	}

	c.metrics.IncChainTx("submitted")
	return Submission{TxHash: hash.Hex(), From: from.Hex(), Contract: c.contract.Hex()}, nil
}

type receipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	Status      hexutil.Uint64 `json:"status"`
	Logs        []types.Log    `json:"logs"`
}

// AwaitConfirmation polls for the receipt of txHash until it is mined or the
// receipt timeout elapses.
func (c *Client) AwaitConfirmation(ctx context.Context, txHash string) (Confirmation, error) {
	if !isHexHash(txHash) {
		return Confirmation{}, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	hash := common.HexToHash(txHash)

	timeout, poll := c.cfg.ReceiptTimeout, c.cfg.ReceiptPoll
	if timeout <= 0 {
		timeout = time.Minute
	}
	if poll <= 0 {
		poll = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		var r *receipt
		err := c.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", hash)
		switch {
		case err != nil && ctx.Err() == nil:
			return Confirmation{}, dependencyError(err, "eth_getTransactionReceipt")
		case err == nil && r != nil && r.BlockNumber != nil:
			return c.confirmationFrom(r), nil
		}

		select {
		case <-ctx.Done():
			return Confirmation{}, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash)
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmationFrom(r *receipt) Confirmation {
	conf := Confirmation{
		BlockNumber: r.BlockNumber.ToInt().Uint64(),
		BlockHash:   r.BlockHash.Hex(),
		Succeeded:   r.Status == hexutil.Uint64(types.ReceiptStatusSuccessful),
	}
	if conf.Succeeded {
		c.metrics.IncChainTx("confirmed")
	} else {
		c.metrics.IncChainTx("reverted")
	}
	for _, lg := range r.Logs {
		if lg.Address != c.contract {
			continue
		}
		if fields, err := c.decodePetAdded(lg); err == nil {
			conf.PetAdded = fields
			break
		}
	}
	return conf
}

// Head returns the latest block number.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, dependencyError(err, "eth_blockNumber")
	}
	return n, nil
}

// PetAddedLogs fetches and decodes PetAdded events in [from, to].
func (c *Client) PetAddedLogs(ctx context.Context, from, to uint64) ([]EventLog, error) {
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.abi.Events[eventPetAdded].ID}},
	})
	if err != nil {
		return nil, dependencyError(err, "eth_getLogs")
	}

	out := make([]EventLog, 0, len(logs))
	for _, lg := range logs {
		fields, err := c.decodePetAdded(lg)
		if err != nil {
			return nil, fmt.Errorf("decode %s log %s/%d: %w", eventPetAdded, lg.TxHash.Hex(), lg.Index, err)
		}
		out = append(out, EventLog{
			Name:        eventPetAdded,
			Contract:    lg.Address.Hex(),
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
			BlockHash:   lg.BlockHash.Hex(),
			LogIndex:    lg.Index,
			Removed:     lg.Removed,
			Fields:      fields,
		})
	}
	return out, nil
}

func (c *Client) decodePetAdded(lg types.Log) (map[string]any, error) {
	raw := map[string]any{}
	if err := c.bound.UnpackLogIntoMap(raw, eventPetAdded, lg); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[k] = jsonValue(v)
	}
	return fields, nil
}

func (c *Client) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RPCTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RPCTimeout)
}

// jsonValue turns ABI-decoded values into types that survive a JSON round trip.
func jsonValue(v any) any {
	switch val := v.(type) {
	case *big.Int:
		return val.String()
	case common.Address:
		return val.Hex()
	case common.Hash:
		return val.Hex()
	case [32]byte:
		return hexutil.Encode(val[:])
	case []byte:
		return hexutil.Encode(val)
	default:
		return val
	}
}

func isHexHash(v string) bool {
	b, err := hexutil.Decode(v)
	return err == nil && len(b) == common.HashLength
}

func dependencyError(err error, call string) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("chain rpc %s failed", call))
}
