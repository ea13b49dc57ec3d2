package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
)

const ammGasLimit = 700_000

// ammABI is the slice of the AMM contract the exchange uses: spot price per
// outcome (in ticks) and order execution against the curve.
const ammABI = `[
	{"name":"getPrice","type":"function","stateMutability":"view","inputs":[
		{"name":"market","type":"string"},
		{"name":"outcome","type":"uint256"}],
		"outputs":[{"name":"ticks","type":"uint256"}]},
	{"name":"executeOrder","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"orderHash","type":"bytes32"},
		{"name":"signature","type":"bytes"},
		{"name":"size","type":"uint256"}],"outputs":[]}
]`

// AmmClient reads the AMM-implied price and routes starved orders to AMM
// execution. Implements the engine's PriceOracle and AmmExecutor ports.
type AmmClient struct {
	eth      *ethclient.Client
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	operator common.Address
	abi      abi.ABI
	log      *zap.Logger
}

func NewAmmClient(rpcURL string, contract common.Address, operatorKeyHex string, chainID *big.Int, log *zap.Logger) (*AmmClient, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(ammABI))
	if err != nil {
		return nil, fmt.Errorf("parse amm abi: %w", err)
	}
	return &AmmClient{
		eth:      eth,
		contract: contract,
		chainID:  chainID,
		key:      key,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		abi:      parsed,
		log:      log,
	}, nil
}

// AmmPrice returns the AMM spot price for an outcome, in ticks.
func (c *AmmClient) AmmPrice(ctx context.Context, marketID string, outcomeID int) (int64, error) {
	data, err := c.abi.Pack("getPrice", marketID, big.NewInt(int64(outcomeID)))
	if err != nil {
		return 0, fmt.Errorf("pack getPrice call: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call getPrice: %w", err)
	}
	values, err := c.abi.Unpack("getPrice", out)
	if err != nil {
		return 0, fmt.Errorf("unpack getPrice: %w", err)
	}
	ticks, ok := values[0].(*big.Int)
	if !ok || !ticks.IsInt64() || ticks.Int64() < 0 || ticks.Int64() > book.MaxTick {
		return 0, fmt.Errorf("amm returned unusable price %v", values[0])
	}
	return ticks.Int64(), nil
}

// ExecuteViaAmm submits the order's remaining size for execution against the
// AMM curve.
func (c *AmmClient) ExecuteViaAmm(ctx context.Context, o *book.Order) (common.Hash, error) {
	data, err := c.abi.Pack("executeOrder", o.OrderHash, o.Signature, o.Remaining())
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack executeOrder call: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, c.contract, new(big.Int), ammGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign amm tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send amm tx: %w", err)
	}

	c.log.Info("amm execution submitted",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("order", o.ID))
	return signed.Hash(), nil
}

func (c *AmmClient) Close() { c.eth.Close() }
