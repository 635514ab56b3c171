// Package chain implements the JSON-RPC gateway to the monitored contracts.
//
// Client wraps an ethclient with typed, unit-normalized reads and writes:
//   - Oracle: OraclePrice, OracleTWAP, OraclePriceHistory, OracleUpdatesThisBlock, FlagManipulation
//   - AMM:    AMMReserves, AMMSpotPrice, AMMBlockSwapStats, AMMPaused, PauseAMM, UnpauseAMM
//   - Vault:  VaultTotalCollateral, VaultTotalLoans, VaultPaused, LiquidationsBlocked,
//     VaultLiquidationsThisBlock, PauseVault, UnpauseVault, BlockLiquidations, UnblockLiquidations
//   - Events: SwapEvents, LiquidationEvents over a block range
//
// Every mutating call is preflighted with eth_call from the agent account so
// contract revert reasons surface before gas is spent, then signed as an
// EIP-1559 transaction and awaited for a receipt.
package chain

import (
	"context"
	"crypto/ecdsa"
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
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"amen-agent/internal/config"
	"amen-agent/pkg/types"
)

// On-chain fixed-point scales: prices use 8 decimals, WETH amounts 18,
// USDC amounts 6. Swap effective prices are the one exception at 18.
const (
	priceDecimals = 8
	wethDecimals  = 18
	usdcDecimals  = 6
)

const (
	gasLimitPauseVault = 150_000 // writes a reason string, needs headroom
	gasLimitDefault    = 100_000

	receiptTimeout  = 120 * time.Second
	receiptInterval = time.Second

	minBalanceETH = 0.01
)

// Client is the gateway to the oracle, AMM pool, and lending vault.
// The signing key is a single-owner resource: sends are serialized so
// nonces never race.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	address common.Address

	oracleAddr common.Address
	ammAddr    common.Address
	vaultAddr  common.Address

	oracleABI abi.ABI
	ammABI    abi.ABI
	vaultABI  abi.ABI

	logger *slog.Logger
	sendMu sync.Mutex
}

// New dials the RPC endpoint, verifies the chain ID, and prepares the
// signing key and contract bindings.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("rpc endpoint is chain %d, config expects %d", chainID.Int64(), cfg.ChainID)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	oracleABI, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse oracle abi: %w", err)
	}
	ammABI, err := abi.JSON(strings.NewReader(ammABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse amm abi: %w", err)
	}
	vaultABI, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}

	return &Client{
		eth:        eth,
		chainID:    chainID,
		key:        key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		oracleAddr: common.HexToAddress(cfg.OracleAddress),
		ammAddr:    common.HexToAddress(cfg.AMMPoolAddress),
		vaultAddr:  common.HexToAddress(cfg.LendingVaultAddress),
		oracleABI:  oracleABI,
		ammABI:     ammABI,
		vaultABI:   vaultABI,
		logger:     logger.With("component", "chain"),
	}, nil
}

// Address returns the agent account address.
func (c *Client) Address() common.Address { return c.address }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// Preflight verifies that every configured address hosts contract code,
// that the contracts answer basic reads, and that the agent account can
// pay for defensive transactions.
func (c *Client) Preflight(ctx context.Context) error {
	for _, target := range []struct {
		name string
		addr common.Address
	}{
		{"oracle", c.oracleAddr},
		{"amm_pool", c.ammAddr},
		{"lending_vault", c.vaultAddr},
	} {
		code, err := c.eth.CodeAt(ctx, target.addr, nil)
		if err != nil {
			return fmt.Errorf("code at %s: %w", target.name, err)
		}
		if len(code) == 0 {
			return fmt.Errorf("%s address %s has no contract code", target.name, target.addr.Hex())
		}
	}

	balance, err := c.Balance(ctx)
	if err != nil {
		return err
	}
	if balance < minBalanceETH {
		c.logger.Warn("agent balance is low, defensive transactions may fail",
			"address", c.address.Hex(), "balance_eth", balance)
	}

	price, err := c.OraclePrice(ctx)
	if err != nil {
		return fmt.Errorf("oracle preflight read: %w", err)
	}
	spot, err := c.AMMSpotPrice(ctx)
	if err != nil {
		return fmt.Errorf("amm preflight read: %w", err)
	}
	c.logger.Info("chain preflight ok",
		"address", c.address.Hex(),
		"balance_eth", balance,
		"oracle_price", price.PriceUSD,
		"amm_spot_price", spot)
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Reads
// ————————————————————————————————————————————————————————————————————————

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// Balance returns the agent account balance in ETH.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	wei, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return fromUnits(wei, wethDecimals), nil
}

// OraclePrice fetches the current oracle price point.
func (c *Client) OraclePrice(ctx context.Context) (types.PriceData, error) {
	out, err := c.call(ctx, c.oracleAddr, c.oracleABI, "getPrice")
	if err != nil {
		return types.PriceData{}, err
	}
	return types.PriceData{
		PriceUSD:  fromUnits(out[0].(*big.Int), priceDecimals),
		Timestamp: out[1].(*big.Int).Int64(),
		Block:     out[2].(*big.Int).Uint64(),
	}, nil
}

// OracleTWAP fetches the time-weighted average price and the number of
// samples behind it. A zero sample count means the window is empty and
// callers should fall back to the spot price.
func (c *Client) OracleTWAP(ctx context.Context) (twap float64, samples int, err error) {
	out, err := c.call(ctx, c.oracleAddr, c.oracleABI, "getTWAP")
	if err != nil {
		return 0, 0, err
	}
	return fromUnits(out[0].(*big.Int), priceDecimals), int(out[1].(*big.Int).Int64()), nil
}

// OraclePriceHistory fetches up to count recent price points, newest
// first as the contract returns them. Unpopulated slots (zero timestamp)
// are dropped.
func (c *Client) OraclePriceHistory(ctx context.Context, count int) ([]types.PriceData, error) {
	out, err := c.call(ctx, c.oracleAddr, c.oracleABI, "getPriceHistory", new(big.Int).SetInt64(int64(count)))
	if err != nil {
		return nil, err
	}
	prices := out[0].([]*big.Int)
	timestamps := out[1].([]*big.Int)
	blocks := out[2].([]*big.Int)

	history := make([]types.PriceData, 0, len(prices))
	for i := range prices {
		if i >= len(timestamps) || i >= len(blocks) || timestamps[i].Sign() <= 0 {
			continue
		}
		history = append(history, types.PriceData{
			PriceUSD:  fromUnits(prices[i], priceDecimals),
			Timestamp: timestamps[i].Int64(),
			Block:     blocks[i].Uint64(),
		})
	}
	return history, nil
}

// OracleUpdatesThisBlock returns how many oracle updates landed in the
// current block.
func (c *Client) OracleUpdatesThisBlock(ctx context.Context) (int, error) {
	out, err := c.call(ctx, c.oracleAddr, c.oracleABI, "updatesThisBlock")
	if err != nil {
		return 0, err
	}
	return int(out[0].(*big.Int).Int64()), nil
}

// AMMReserves fetches pool reserves and the implied spot price.
func (c *Client) AMMReserves(ctx context.Context) (weth, usdc, spot float64, err error) {
	out, err := c.call(ctx, c.ammAddr, c.ammABI, "getReserves")
	if err != nil {
		return 0, 0, 0, err
	}
	return fromUnits(out[0].(*big.Int), wethDecimals),
		fromUnits(out[1].(*big.Int), usdcDecimals),
		fromUnits(out[2].(*big.Int), priceDecimals),
		nil
}

// AMMSpotPrice fetches the instantaneous pool quote.
func (c *Client) AMMSpotPrice(ctx context.Context) (float64, error) {
	out, err := c.call(ctx, c.ammAddr, c.ammABI, "getSpotPrice")
	if err != nil {
		return 0, err
	}
	return fromUnits(out[0].(*big.Int), priceDecimals), nil
}

// AMMBlockSwapStats returns the swap count for the current block and the
// block it was counted in.
func (c *Client) AMMBlockSwapStats(ctx context.Context) (count int, block uint64, err error) {
	out, err := c.call(ctx, c.ammAddr, c.ammABI, "getBlockSwapStats")
	if err != nil {
		return 0, 0, err
	}
	return int(out[0].(*big.Int).Int64()), out[1].(*big.Int).Uint64(), nil
}

// AMMPaused reports whether the pool's emergency pause is engaged.
func (c *Client) AMMPaused(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, c.ammAddr, c.ammABI, "paused")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// VaultTotalCollateral returns total vault collateral in WETH.
func (c *Client) VaultTotalCollateral(ctx context.Context) (float64, error) {
	out, err := c.call(ctx, c.vaultAddr, c.vaultABI, "totalCollateral")
	if err != nil {
		return 0, err
	}
	return fromUnits(out[0].(*big.Int), wethDecimals), nil
}

// VaultTotalLoans returns total outstanding loans in USDC.
func (c *Client) VaultTotalLoans(ctx context.Context) (float64, error) {
	out, err := c.call(ctx, c.vaultAddr, c.vaultABI, "totalLoans")
	if err != nil {
		return 0, err
	}
	return fromUnits(out[0].(*big.Int), usdcDecimals), nil
}

// VaultPaused reports whether the vault's emergency pause is engaged.
func (c *Client) VaultPaused(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, c.vaultAddr, c.vaultABI, "paused")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// LiquidationsBlocked reports whether vault liquidations are blocked.
func (c *Client) LiquidationsBlocked(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, c.vaultAddr, c.vaultABI, "liquidationsBlocked")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// VaultLiquidationsThisBlock returns how many liquidations executed in
// the current block.
func (c *Client) VaultLiquidationsThisBlock(ctx context.Context) (int, error) {
	out, err := c.call(ctx, c.vaultAddr, c.vaultABI, "liquidationsThisBlock")
	if err != nil {
		return 0, err
	}
	return int(out[0].(*big.Int).Int64()), nil
}

// ————————————————————————————————————————————————————————————————————————
// Event queries
// ————————————————————————————————————————————————————————————————————————

// SwapEvents fetches decoded Swap events in [fromBlock, toBlock].
// Undecodable logs are skipped, not fatal.
func (c *Client) SwapEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.Swap, error) {
	logs, err := c.filterLogs(ctx, c.ammAddr, c.ammABI.Events["Swap"].ID, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("swap events: %w", err)
	}

	swaps := make([]types.Swap, 0, len(logs))
	for _, lg := range logs {
		fields, err := c.decodeEvent(c.ammABI, "Swap", lg)
		if err != nil {
			c.logger.Debug("skipping undecodable swap log", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		isWethToUsdc := fields["isWethToUsdc"].(bool)
		inDec, outDec := int32(wethDecimals), int32(usdcDecimals)
		if !isWethToUsdc {
			inDec, outDec = usdcDecimals, wethDecimals
		}
		swaps = append(swaps, types.Swap{
			Sender:       fields["sender"].(common.Address).Hex(),
			AmountIn:     fromUnits(fields["amountIn"].(*big.Int), inDec),
			AmountOut:    fromUnits(fields["amountOut"].(*big.Int), outDec),
			IsWethToUsdc: isWethToUsdc,
			// effective prices are emitted at 18 decimals, unlike spot
			EffectivePrice: fromUnits(fields["effectivePrice"].(*big.Int), wethDecimals),
			Block:          fields["blockNumber"].(*big.Int).Uint64(),
		})
	}
	return swaps, nil
}

// LiquidationEvents fetches decoded Liquidation events in [fromBlock, toBlock].
func (c *Client) LiquidationEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.Liquidation, error) {
	logs, err := c.filterLogs(ctx, c.vaultAddr, c.vaultABI.Events["Liquidation"].ID, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("liquidation events: %w", err)
	}

	liqs := make([]types.Liquidation, 0, len(logs))
	for _, lg := range logs {
		fields, err := c.decodeEvent(c.vaultABI, "Liquidation", lg)
		if err != nil {
			c.logger.Debug("skipping undecodable liquidation log", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		liqs = append(liqs, types.Liquidation{
			Liquidator:       fields["liquidator"].(common.Address).Hex(),
			User:             fields["user"].(common.Address).Hex(),
			DebtRepaid:       fromUnits(fields["debtRepaid"].(*big.Int), usdcDecimals),
			CollateralSeized: fromUnits(fields["collateralSeized"].(*big.Int), wethDecimals),
			OraclePrice:      fromUnits(fields["oraclePrice"].(*big.Int), priceDecimals),
			Block:            fields["blockNumber"].(*big.Int).Uint64(),
			Timestamp:        fields["timestamp"].(*big.Int).Int64(),
		})
	}
	return liqs, nil
}

// ————————————————————————————————————————————————————————————————————————
// Writes
// ————————————————————————————————————————————————————————————————————————

// PauseVault engages the vault's emergency pause with the given reason.
func (c *Client) PauseVault(ctx context.Context, reason string) (string, error) {
	return c.sendTx(ctx, c.vaultAddr, c.vaultABI, gasLimitPauseVault, "pause", reason)
}

// UnpauseVault lifts the vault's emergency pause.
func (c *Client) UnpauseVault(ctx context.Context) (string, error) {
	return c.sendTx(ctx, c.vaultAddr, c.vaultABI, gasLimitDefault, "unpause")
}

// BlockLiquidations blocks vault liquidations.
func (c *Client) BlockLiquidations(ctx context.Context) (string, error) {
	return c.sendTx(ctx, c.vaultAddr, c.vaultABI, gasLimitDefault, "blockLiquidations")
}

// UnblockLiquidations re-enables vault liquidations.
func (c *Client) UnblockLiquidations(ctx context.Context) (string, error) {
	return c.sendTx(ctx, c.vaultAddr, c.vaultABI, gasLimitDefault, "unblockLiquidations")
}

// FlagManipulation records a manipulation flag on the oracle.
func (c *Client) FlagManipulation(ctx context.Context, reason string) (string, error) {
	return c.sendTx(ctx, c.oracleAddr, c.oracleABI, gasLimitDefault, "flagManipulation", reason)
}

// PauseAMM engages the pool's emergency pause.
func (c *Client) PauseAMM(ctx context.Context) (string, error) {
	return c.sendTx(ctx, c.ammAddr, c.ammABI, gasLimitDefault, "pause")
}

// UnpauseAMM lifts the pool's emergency pause.
func (c *Client) UnpauseAMM(ctx context.Context) (string, error) {
	return c.sendTx(ctx, c.ammAddr, c.ammABI, gasLimitDefault, "unpause")
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

// call packs, executes, and unpacks a view method against latest state.
func (c *Client) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	res, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res, nil
}

// sendTx signs and submits a mutating call, then waits for its receipt.
// The preflight eth_call surfaces the contract's revert reason before any
// gas is spent; a status-0 receipt afterwards still maps to RevertError.
func (c *Client) sendTx(ctx context.Context, to common.Address, contractABI abi.ABI, gasLimit uint64, method string, args ...any) (string, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	msg := ethereum.CallMsg{From: c.address, To: &to, Data: data}
	if _, err := c.eth.CallContract(ctx, msg, nil); err != nil {
		return "", &RevertError{Reason: revertReason(err)}
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	tip, maxFee := c.gasFees(ctx)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", method, err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send %s: %w", method, err)
	}

	hash := signed.Hash()
	c.logger.Info("transaction sent", "method", method, "tx", hash.Hex(), "nonce", nonce)

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return "", err
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return "", &RevertError{TxHash: hash.Hex(), Reason: "transaction reverted on-chain"}
	}
	c.logger.Info("transaction confirmed",
		"method", method, "tx", hash.Hex(),
		"block", receipt.BlockNumber.Uint64(), "gas_used", receipt.GasUsed)
	return hash.Hex(), nil
}

// gasFees computes EIP-1559 caps: a 1.5 gwei tip and a max fee of twice
// the latest base fee plus the tip. Falls back to a 1 gwei base when the
// header is unavailable or pre-London.
func (c *Client) gasFees(ctx context.Context) (tip, maxFee *big.Int) {
	tip = big.NewInt(1_500_000_000)
	base := big.NewInt(1_000_000_000)
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err == nil && header.BaseFee != nil {
		base = header.BaseFee
	} else if err != nil {
		c.logger.Debug("base fee lookup failed, using fallback", "error", err)
	}
	maxFee = new(big.Int).Add(new(big.Int).Mul(base, big.NewInt(2)), tip)
	return tip, maxFee
}

// waitMined polls for the transaction receipt once per second until the
// receipt timeout elapses.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt query failed", "tx", hash.Hex(), "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTxTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (c *Client) filterLogs(ctx context.Context, addr common.Address, topic common.Hash, fromBlock, toBlock uint64) ([]ethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{topic}},
	}
	return c.eth.FilterLogs(ctx, query)
}

// decodeEvent unpacks both the data segment and indexed topics of a log
// into one field map.
func (c *Client) decodeEvent(contractABI abi.ABI, name string, lg ethtypes.Log) (map[string]any, error) {
	event, ok := contractABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", name)
	}
	fields := make(map[string]any)
	if len(lg.Data) > 0 {
		if err := contractABI.UnpackIntoMap(fields, name, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack %s data: %w", name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if len(lg.Topics) < len(indexed)+1 {
			return nil, fmt.Errorf("%s log has %d topics, want %d", name, len(lg.Topics), len(indexed)+1)
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse %s topics: %w", name, err)
		}
	}
	return fields, nil
}

// revertReason extracts the contract's require() message from an eth_call
// error when the node attached revert data, else the raw error text.
func revertReason(err error) string {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if errors.As(err, &de) {
		if hexStr, ok := de.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(hexStr); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

// fromUnits converts a raw fixed-point integer to a float at the given
// scale. Precision loss beyond float64 is acceptable for monitoring.
func fromUnits(raw *big.Int, decimals int32) float64 {
	if raw == nil {
		return 0
	}
	return decimal.NewFromBigInt(raw, -decimals).InexactFloat64()
}
