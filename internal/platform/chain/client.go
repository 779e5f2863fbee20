// Package chain reads and mutates custodial wallet state on chain: module
// enablement, withdrawal authorization, guard installation, and collateral
// balances, plus delegated-signer execution of wallet transactions.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
)

// collateralDecimals is the decimal precision of the trading collateral
// token (USDC).
const collateralDecimals = 6

// receiptPollInterval is how often a submitted wallet transaction is
// re-checked for a confirmation receipt.
const receiptPollInterval = 2 * time.Second

// fallbackGasLimit is used when gas estimation fails, generous enough for a
// wallet self-call with a single signature.
const fallbackGasLimit = 500_000

// Config holds the chain client's connection and contract addresses.
type Config struct {
	RPCURL           string
	ChainID          int64
	WithdrawalModule string
	TradeGuard       string
	CollateralToken  string
}

// Client implements domain.Chain over a JSON-RPC endpoint.
type Client struct {
	ec         *ethclient.Client
	chainID    *big.Int
	module     common.Address
	guard      common.Address
	collateral common.Address
}

// New dials the RPC endpoint and verifies the reported chain id matches the
// configured one.
func New(ctx context.Context, cfg Config) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	reported, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: query chain id: %w", err)
	}
	if reported.Int64() != cfg.ChainID {
		ec.Close()
		return nil, domain.NewCodedError(domain.CodeConfig,
			"rpc endpoint serves chain %d, configured for %d", reported.Int64(), cfg.ChainID)
	}

	return &Client{
		ec:         ec,
		chainID:    big.NewInt(cfg.ChainID),
		module:     common.HexToAddress(cfg.WithdrawalModule),
		guard:      common.HexToAddress(cfg.TradeGuard),
		collateral: common.HexToAddress(cfg.CollateralToken),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// ModuleEnabled reports whether the withdrawal module is enabled on the
// custodial wallet.
func (c *Client) ModuleEnabled(ctx context.Context, wallet string) (bool, error) {
	out, err := c.callView(ctx, common.HexToAddress(wallet), walletABI, "isModuleEnabled", c.module)
	if err != nil {
		return false, fmt.Errorf("chain: isModuleEnabled on %s: %w", wallet, err)
	}
	return out[0].(bool), nil
}

// WithdrawalAuthorized reports whether the user's primary address is
// authorized for withdrawal from the custodial wallet.
func (c *Client) WithdrawalAuthorized(ctx context.Context, wallet, user string) (bool, error) {
	out, err := c.callView(ctx, c.module, moduleABI, "authorized",
		common.HexToAddress(wallet), common.HexToAddress(user))
	if err != nil {
		return false, fmt.Errorf("chain: withdrawal authorization for %s: %w", wallet, err)
	}
	return out[0].(bool), nil
}

// InstalledGuard returns the guard address installed on the custodial wallet,
// read directly from the wallet's guard storage slot. An empty string means
// no guard is installed.
func (c *Client) InstalledGuard(ctx context.Context, wallet string) (string, error) {
	raw, err := c.ec.StorageAt(ctx, common.HexToAddress(wallet), guardStorageSlot, nil)
	if err != nil {
		return "", fmt.Errorf("chain: read guard slot of %s: %w", wallet, err)
	}
	addr := common.BytesToAddress(raw)
	if addr == (common.Address{}) {
		return "", nil
	}
	return strings.ToLower(addr.Hex()), nil
}

// GuardAddress returns the configured trade guard address in lowercase hex,
// the form InstalledGuard reports.
func (c *Client) GuardAddress() string {
	return strings.ToLower(c.guard.Hex())
}

// ModuleAddress returns the configured withdrawal module address.
func (c *Client) ModuleAddress() string {
	return c.module.Hex()
}

// CollateralBalance returns the wallet's collateral token balance in dollars.
func (c *Client) CollateralBalance(ctx context.Context, wallet string) (float64, error) {
	out, err := c.callView(ctx, c.collateral, erc20ABI, "balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("chain: collateral balance of %s: %w", wallet, err)
	}
	raw := out[0].(*big.Int)

	bal, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		big.NewFloat(1e6),
	).Float64()
	return bal, nil
}

// ExecTransaction executes a transaction through the custodial wallet: the
// wallet-specific digest is signed with the delegated signer's key, then the
// execTransaction call is submitted from the signer's own account, which pays
// gas. It blocks until the transaction confirms or the context expires; a
// timeout returns a CodedError with CodeUnconfirmed carrying the tx hash, so
// the caller can re-check chain state on the next run instead of re-sending.
func (c *Client) ExecTransaction(ctx context.Context, wallet string, signerKeyHex string, to string, data []byte) (string, error) {
	walletAddr := common.HexToAddress(wallet)
	toAddr := common.HexToAddress(to)

	signer, err := crypto.NewSigner(signerKeyHex, int(c.chainID.Int64()), common.Address{}.Hex())
	if err != nil {
		return "", fmt.Errorf("chain: exec transaction: %w", err)
	}

	nonce, err := c.walletNonce(ctx, walletAddr)
	if err != nil {
		return "", err
	}

	digest, err := c.walletTxHash(ctx, walletAddr, toAddr, data, nonce)
	if err != nil {
		return "", err
	}

	sigHex, err := signer.SignWalletDigest(digest)
	if err != nil {
		return "", fmt.Errorf("chain: sign wallet digest: %w", err)
	}
	sigBytes := common.FromHex(sigHex)

	callData, err := walletABI.Pack("execTransaction",
		toAddr, big.NewInt(0), data,
		uint8(0), // CALL
		big.NewInt(0), big.NewInt(0), big.NewInt(0), // safeTxGas, baseGas, gasPrice
		common.Address{}, common.Address{}, // gasToken, refundReceiver
		sigBytes,
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack execTransaction: %w", err)
	}

	txHash, err := c.sendFrom(ctx, signerKeyHex, walletAddr, callData)
	if err != nil {
		return "", err
	}

	if err := c.waitConfirmed(ctx, txHash); err != nil {
		return txHash.Hex(), err
	}
	return txHash.Hex(), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) callView(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contractABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) walletNonce(ctx context.Context, wallet common.Address) (*big.Int, error) {
	out, err := c.callView(ctx, wallet, walletABI, "nonce")
	if err != nil {
		return nil, fmt.Errorf("chain: wallet nonce of %s: %w", wallet.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// walletTxHash asks the wallet contract for the digest it expects the signer
// to approve, which keeps the hashing scheme in the contract's hands across
// wallet versions.
func (c *Client) walletTxHash(ctx context.Context, wallet, to common.Address, data []byte, nonce *big.Int) ([]byte, error) {
	out, err := c.callView(ctx, wallet, walletABI, "getTransactionHash",
		to, big.NewInt(0), data,
		uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{},
		nonce,
	)
	if err != nil {
		return nil, fmt.Errorf("chain: wallet tx hash: %w", err)
	}
	digest := out[0].([32]byte)
	return digest[:], nil
}

// sendFrom signs and submits an EOA transaction from the delegated signer's
// account carrying the packed execTransaction calldata.
func (c *Client) sendFrom(ctx context.Context, keyHex string, to common.Address, data []byte) (common.Hash, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: invalid signer key: %w", err)
	}
	from := ethcrypto.PubkeyToAddress(pk.PublicKey)

	nonce, err := c.ec.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pending nonce of %s: %w", from.Hex(), err)
	}

	gasPrice, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: suggest gas price: %w", err)
	}

	gasLimit, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), pk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign transaction: %w", err)
	}

	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send transaction: %w", err)
	}
	return signed.Hash(), nil
}

// waitConfirmed polls for the transaction receipt until the context expires.
func (c *Client) waitConfirmed(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.ec.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("chain: transaction %s reverted", txHash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return domain.NewCodedError(domain.CodeUnconfirmed,
				"transaction %s not confirmed before deadline", txHash.Hex())
		case <-ticker.C:
		}
	}
}

// Compile-time interface check.
var _ domain.Chain = (*Client)(nil)
