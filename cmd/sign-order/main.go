// Command sign-order produces a signed order payload ready to POST to the
// exchange, for development and manual testing. With no key it generates one
// and prints it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/foresightex/foresight/pkg/crypto"
)

func main() {
	var (
		keyHex    = flag.String("key", "", "maker private key hex (generated when empty)")
		marketID  = flag.String("market", "btc-150k-2026", "market ID")
		outcomeID = flag.Int("outcome", 0, "outcome index")
		side      = flag.String("side", "buy", "buy or sell")
		price     = flag.Int64("price", 5000, "limit price in ticks (0-10000)")
		size      = flag.String("size", "1000000000000000000", "size, 18-decimal fixed point")
		expiry    = flag.Int64("expiry", 0, "unix expiry, 0 = none")
		orderType = flag.String("type", "limit", "limit or market")
		chainID   = flag.Int64("chain-id", 1337, "EIP-712 domain chain ID")
		contract  = flag.String("contract", "", "verifying contract address")
	)
	flag.Parse()

	if err := run(*keyHex, *marketID, *outcomeID, *side, *price, *size, *expiry, *orderType, *chainID, *contract); err != nil {
		fmt.Fprintln(os.Stderr, "sign-order:", err)
		os.Exit(1)
	}
}

func run(keyHex, marketID string, outcomeID int, side string, price int64, sizeStr string,
	expiry int64, orderType string, chainID int64, contract string) error {

	var (
		signer *crypto.Signer
		err    error
	)
	if keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "generated key: %s\n", signer.PrivateKeyHex())
	} else if signer, err = crypto.FromPrivateKeyHex(keyHex); err != nil {
		return err
	}

	size, ok := new(big.Int).SetString(sizeStr, 10)
	if !ok {
		return fmt.Errorf("invalid size %q", sizeStr)
	}
	var sideWire uint8
	switch side {
	case "buy":
		sideWire = 1
	case "sell":
		sideWire = 2
	default:
		return fmt.Errorf("side must be buy or sell, got %q", side)
	}
	signedPrice := price
	if orderType == "market" {
		signedPrice = 0
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}

	eip712 := crypto.NewEIP712Signer(crypto.EIP712Domain{
		Name:              "Foresight",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: common.HexToAddress(contract),
	})
	sig, err := eip712.SignOrder(signer, &crypto.OrderMessage{
		MarketID:  marketID,
		OutcomeID: big.NewInt(int64(outcomeID)),
		Side:      sideWire,
		Price:     big.NewInt(signedPrice),
		Size:      size,
		Salt:      salt,
		Expiry:    big.NewInt(expiry),
		Maker:     signer.Address(),
	})
	if err != nil {
		return err
	}

	payload := map[string]any{
		"marketId":  marketID,
		"outcomeId": outcomeID,
		"maker":     crypto.ChecksumAddress(signer.Address()),
		"side":      side,
		"price":     price,
		"size":      size.String(),
		"expiry":    expiry,
		"salt":      salt.String(),
		"signature": hexutil.Encode(sig),
		"orderType": orderType,
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
