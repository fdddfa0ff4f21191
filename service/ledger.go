package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/dledger/slipchain/backend/config"
	"github.com/dledger/slipchain/backend/model"
	"github.com/dledger/slipchain/backend/pkg/logger"
)

// contractABI is the WarrantyStorage contract surface. Dates cross this
// boundary as unix timestamps; the device id is the lookup key.
const contractABI = `[
  {"inputs":[{"internalType":"string","name":"_ipfsHash","type":"string"},{"internalType":"uint256","name":"_warrantyEndDate","type":"uint256"},{"internalType":"string","name":"_imei","type":"string"}],"name":"storeWarranty","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"string","name":"_imei","type":"string"},{"internalType":"string","name":"_newIPFSHash","type":"string"}],"name":"updateWarrantyDocument","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"string","name":"_imei","type":"string"},{"internalType":"uint256","name":"_newWarrantyEndDate","type":"uint256"}],"name":"extendWarranty","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"string","name":"_imei","type":"string"},{"internalType":"address","name":"_newOwner","type":"address"}],"name":"transferWarranty","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"string","name":"_imei","type":"string"}],"name":"getWarrantyByIMEI","outputs":[{"components":[{"internalType":"string","name":"ipfsHash","type":"string"},{"internalType":"uint256","name":"warrantyEndDate","type":"uint256"},{"internalType":"string","name":"imeiNumber","type":"string"},{"internalType":"address","name":"issuer","type":"address"},{"internalType":"uint256","name":"issueDate","type":"uint256"}],"internalType":"struct WarrantyStorage.Warranty","name":"","type":"tuple"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"string","name":"_imei","type":"string"}],"name":"isWarrantyValid","outputs":[{"internalType":"bool","name":"isValid","type":"bool"},{"internalType":"uint256","name":"endDate","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getIssuerWarranties","outputs":[{"internalType":"string[]","name":"","type":"string[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getTotalWarrantyCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// Ledger is the contract client as the rest of the system sees it.
// Write calls block until the transaction is confirmed.
type Ledger interface {
	Store(ctx context.Context, contentHash, endDate, deviceID string) error
	UpdateDocument(ctx context.Context, deviceID, newContentHash string) error
	Extend(ctx context.Context, deviceID, newEndDate string) error
	Transfer(ctx context.Context, deviceID, newOwner string) error
	GetByDevice(ctx context.Context, deviceID string) (*model.LedgerRecord, error)
	IsValid(ctx context.Context, deviceID string) (bool, string, error)
	ListIssued(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// ethBackend is the slice of the RPC client the ledger service uses.
// *ethclient.Client satisfies it; tests provide a fake.
type ethBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type LedgerService struct {
	backend  ethBackend
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer

	gasLimit       uint64
	gasPrice       *big.Int
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// warrantyTuple mirrors the getWarrantyByIMEI return struct.
type warrantyTuple struct {
	IpfsHash        string
	WarrantyEndDate *big.Int
	ImeiNumber      string
	Issuer          common.Address
	IssueDate       *big.Int
}

// NewLedgerService builds a ledger client over an already-dialed backend.
func NewLedgerService(backend ethBackend, cfg *config.LedgerConfig) (*LedgerService, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	return &LedgerService{
		backend:        backend,
		abi:            parsed,
		contract:       common.HexToAddress(cfg.ContractAddress),
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		signer:         types.NewEIP155Signer(big.NewInt(cfg.ChainID)),
		gasLimit:       cfg.GasLimit,
		gasPrice:       new(big.Int).Mul(big.NewInt(cfg.GasPriceGwei), big.NewInt(1_000_000_000)),
		confirmTimeout: time.Duration(cfg.ConfirmTimeout) * time.Second,
		pollInterval:   time.Duration(cfg.PollInterval) * time.Second,
	}, nil
}

// DialLedger connects to the RPC endpoint and builds the ledger client.
func DialLedger(cfg *config.LedgerConfig) (*LedgerService, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerConnect, err)
	}
	return NewLedgerService(client, cfg)
}

// From returns the signing identity's address.
func (s *LedgerService) From() string {
	return s.from.Hex()
}

// Store records a new warranty keyed by device id. The contract is the
// authority on duplicate devices; no pre-check is made here.
func (s *LedgerService) Store(ctx context.Context, contentHash, endDate, deviceID string) error {
	ts, err := EncodeDate(endDate)
	if err != nil {
		return err
	}
	return s.submit(ctx, "storeWarranty", contentHash, big.NewInt(ts), deviceID)
}

// UpdateDocument repoints the stored content hash for a device.
func (s *LedgerService) UpdateDocument(ctx context.Context, deviceID, newContentHash string) error {
	return s.submit(ctx, "updateWarrantyDocument", deviceID, newContentHash)
}

// Extend moves the end date forward. A date earlier than the current one
// is rejected before any gas is spent.
func (s *LedgerService) Extend(ctx context.Context, deviceID, newEndDate string) error {
	ts, err := EncodeDate(newEndDate)
	if err != nil {
		return err
	}

	current, err := s.GetByDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	currentTS, err := EncodeDate(current.EndDate)
	if err != nil {
		return fmt.Errorf("stored end date: %w", err)
	}
	if ts < currentTS {
		return fmt.Errorf("%w: new end date %s precedes current %s", ErrLedgerWrite, newEndDate, current.EndDate)
	}

	return s.submit(ctx, "extendWarranty", deviceID, big.NewInt(ts))
}

// Transfer reassigns the warranty issuer. The signing identity must be
// the current issuer; the contract enforces this.
func (s *LedgerService) Transfer(ctx context.Context, deviceID, newOwner string) error {
	if !common.IsHexAddress(newOwner) {
		return fmt.Errorf("%w: invalid owner address %q", ErrLedgerWrite, newOwner)
	}
	return s.submit(ctx, "transferWarranty", deviceID, common.HexToAddress(newOwner))
}

// GetByDevice returns the ledger record for a device, or ErrNotFound.
func (s *LedgerService) GetByDevice(ctx context.Context, deviceID string) (*model.LedgerRecord, error) {
	out, err := s.call(ctx, "getWarrantyByIMEI", deviceID)
	if err != nil {
		if errors.Is(err, ErrLedgerWrite) {
			// Contract reverts the getter for unknown devices.
			return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
		}
		return nil, err
	}

	rec := *abi.ConvertType(out[0], new(warrantyTuple)).(*warrantyTuple)
	if rec.IssueDate.Sign() == 0 && rec.IpfsHash == "" {
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
	}

	return &model.LedgerRecord{
		ContentHash: rec.IpfsHash,
		EndDate:     DecodeDate(rec.WarrantyEndDate.Int64()),
		DeviceID:    rec.ImeiNumber,
		Issuer:      rec.Issuer.Hex(),
		IssueDate:   rec.IssueDate.Int64(),
	}, nil
}

// IsValid reports whether a record exists and has not expired. Unknown
// devices yield (false, "") without an error.
func (s *LedgerService) IsValid(ctx context.Context, deviceID string) (bool, string, error) {
	out, err := s.call(ctx, "isWarrantyValid", deviceID)
	if err != nil {
		if errors.Is(err, ErrLedgerWrite) {
			return false, "", nil
		}
		return false, "", err
	}

	valid := *abi.ConvertType(out[0], new(bool)).(*bool)
	endTS := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	if endTS.Sign() == 0 {
		return valid, "", nil
	}
	return valid, DecodeDate(endTS.Int64()), nil
}

// ListIssued returns the device ids issued by the signing identity.
func (s *LedgerService) ListIssued(ctx context.Context) ([]string, error) {
	out, err := s.call(ctx, "getIssuerWarranties")
	if err != nil {
		return nil, err
	}
	ids := *abi.ConvertType(out[0], new([]string)).(*[]string)
	return ids, nil
}

// Count returns the total number of warranties on the contract.
func (s *LedgerService) Count(ctx context.Context) (int64, error) {
	out, err := s.call(ctx, "getTotalWarrantyCount")
	if err != nil {
		return 0, err
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return n.Int64(), nil
}

// submit packs, signs and sends a write transaction, then blocks until a
// receipt is available or the confirmation window closes.
func (s *LedgerService) submit(ctx context.Context, method string, args ...interface{}) error {
	data, err := s.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return fmt.Errorf("%w: nonce: %v", ErrLedgerConnect, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.contract,
		Gas:      s.gasLimit,
		GasPrice: s.gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", method, err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		if isRevert(err) {
			return fmt.Errorf("%w: %s: %v", ErrLedgerWrite, method, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrLedgerConnect, method, err)
	}

	logger.Info(ctx, "transaction submitted",
		"method", method,
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
	)

	return s.waitConfirmed(ctx, method, signed.Hash())
}

// waitConfirmed polls for the transaction receipt. A receipt with a
// failed status is a contract rejection; running out of time leaves the
// outcome unknown.
func (s *LedgerService) waitConfirmed(ctx context.Context, method string, txHash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("%w: %s: transaction %s reverted", ErrLedgerWrite, method, txHash.Hex())
			}
			logger.Info(ctx, "transaction confirmed",
				"method", method,
				"tx_hash", txHash.Hex(),
				"block", receipt.BlockNumber,
			)
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			logger.Warn(ctx, "receipt poll failed", "tx_hash", txHash.Hex(), "error", err)
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("%w: %s: transaction %s not confirmed after %s",
				ErrLedgerConfirm, method, txHash.Hex(), s.confirmTimeout)
		case <-ticker.C:
		}
	}
}

// call performs a read against the contract.
func (s *LedgerService) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := s.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	raw, err := s.backend.CallContract(ctx, ethereum.CallMsg{
		From: s.from,
		To:   &s.contract,
		Data: data,
	}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrLedgerWrite, method, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLedgerConnect, method, err)
	}

	out, err := s.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

// isRevert distinguishes contract-level rejection from transport failure.
func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "always failing transaction")
}
