// Package chain holds the thin clients for the on-chain collaborators: the
// settlement contract that finalizes matched pairs and the AMM used as
// pricing oracle and execution fallback. The contracts themselves are
// external; these clients only submit calls.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
)

const settleGasLimit = 500_000

// settlementABI is the slice of the exchange contract the operator calls.
// The key parameter is the idempotency key; the contract ignores a key it
// has already executed, so retries after timeouts are safe.
const settlementABI = `[
	{"name":"settle","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"key","type":"bytes32"},
		{"name":"makerHash","type":"bytes32"},
		{"name":"takerHash","type":"bytes32"},
		{"name":"makerSig","type":"bytes"},
		{"name":"takerSig","type":"bytes"},
		{"name":"size","type":"uint256"},
		{"name":"price","type":"uint256"}],"outputs":[]}
]`

// SettlementClient submits matched pairs to the settlement contract with the
// operator key. Implements the engine's Settler port.
type SettlementClient struct {
	eth      *ethclient.Client
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	operator common.Address
	abi      abi.ABI
	log      *zap.Logger
}

func NewSettlementClient(rpcURL string, contract common.Address, operatorKeyHex string, chainID *big.Int, log *zap.Logger) (*SettlementClient, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		return nil, fmt.Errorf("parse settlement abi: %w", err)
	}
	return &SettlementClient{
		eth:      eth,
		contract: contract,
		chainID:  chainID,
		key:      key,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		abi:      parsed,
		log:      log,
	}, nil
}

// SettleTrade submits one matched pair. Returns the transaction hash; the
// caller treats any error as "retry needed", never as a reason to undo book
// state.
func (c *SettlementClient) SettleTrade(ctx context.Context, maker, taker *book.Order, size *big.Int, price int64, key common.Hash) (common.Hash, error) {
	data, err := c.abi.Pack("settle",
		key, maker.OrderHash, taker.OrderHash,
		maker.Signature, taker.Signature,
		size, big.NewInt(price))
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack settle call: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, c.contract, new(big.Int), settleGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign settle tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send settle tx: %w", err)
	}

	c.log.Info("settlement submitted",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("maker", maker.ID),
		zap.String("taker", taker.ID),
		zap.String("size", size.String()),
		zap.Int64("price", price))
	return signed.Hash(), nil
}

func (c *SettlementClient) Close() { c.eth.Close() }
