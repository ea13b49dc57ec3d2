package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testOrderMessage(maker common.Address) *OrderMessage {
	return &OrderMessage{
		MarketID:  "btc-150k-2026",
		OutcomeID: big.NewInt(0),
		Side:      1,
		Price:     big.NewInt(5000),
		Size:      big.NewInt(1_000_000),
		Salt:      big.NewInt(42),
		Expiry:    big.NewInt(0),
		Maker:     maker,
	}
}

func TestOrderSignatureRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	eip712 := NewEIP712Signer(DefaultDomain())
	msg := testOrderMessage(signer.Address())

	sig, err := eip712.SignOrder(signer, msg)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := eip712.VerifyOrderSignature(msg, sig)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v, want true", ok, err)
	}
}

func TestOrderSignatureTamperDetection(t *testing.T) {
	signer, _ := GenerateKey()
	eip712 := NewEIP712Signer(DefaultDomain())
	msg := testOrderMessage(signer.Address())
	sig, err := eip712.SignOrder(signer, msg)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		mutate func(m *OrderMessage)
	}{
		{"price", func(m *OrderMessage) { m.Price = big.NewInt(5001) }},
		{"size", func(m *OrderMessage) { m.Size = big.NewInt(2_000_000) }},
		{"side", func(m *OrderMessage) { m.Side = 2 }},
		{"market", func(m *OrderMessage) { m.MarketID = "other" }},
		{"salt", func(m *OrderMessage) { m.Salt = big.NewInt(43) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tampered := testOrderMessage(signer.Address())
			tc.mutate(tampered)
			if ok, _ := eip712.VerifyOrderSignature(tampered, sig); ok {
				t.Error("tampered message verified")
			}
		})
	}
}

func TestOrderSignatureWrongMaker(t *testing.T) {
	signer, _ := GenerateKey()
	other, _ := GenerateKey()
	eip712 := NewEIP712Signer(DefaultDomain())

	msg := testOrderMessage(signer.Address())
	sig, err := eip712.SignOrder(signer, msg)
	if err != nil {
		t.Fatal(err)
	}
	msg.Maker = other.Address()
	if ok, _ := eip712.VerifyOrderSignature(msg, sig); ok {
		t.Error("signature verified against a different maker")
	}
}

func TestOrderHashBindsDomain(t *testing.T) {
	signer, _ := GenerateKey()
	msg := testOrderMessage(signer.Address())

	d1 := NewEIP712Signer(DefaultDomain())
	domain2 := DefaultDomain()
	domain2.ChainID = big.NewInt(1)
	d2 := NewEIP712Signer(domain2)

	h1, err := d1.HashOrder(msg)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := d2.HashOrder(msg)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("different chain IDs produced the same digest")
	}
}

func TestOrderHashIsDeterministic(t *testing.T) {
	signer, _ := GenerateKey()
	eip712 := NewEIP712Signer(DefaultDomain())

	h1, err := eip712.HashOrder(testOrderMessage(signer.Address()))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := eip712.HashOrder(testOrderMessage(signer.Address()))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("identical terms hashed differently")
	}

	withSalt := testOrderMessage(signer.Address())
	withSalt.Salt = big.NewInt(43)
	h3, _ := eip712.HashOrder(withSalt)
	if h3 == h1 {
		t.Error("different salts hashed identically")
	}
}

func TestCancelSignatureRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	eip712 := NewEIP712Signer(DefaultDomain())
	msg := &CancelMessage{OrderID: "order-1", Salt: big.NewInt(7), Maker: signer.Address()}

	sig, err := eip712.SignCancel(signer, msg)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := eip712.VerifyCancelSignature(msg, sig)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v, want true", ok, err)
	}

	msg.OrderID = "order-2"
	if ok, _ := eip712.VerifyCancelSignature(msg, sig); ok {
		t.Error("cancel verified for a different order")
	}
}

func TestRecoverAddressRejectsBadInput(t *testing.T) {
	if _, err := RecoverAddress(make([]byte, 32), make([]byte, 10)); err == nil {
		t.Error("short signature accepted")
	}
	if _, err := RecoverAddress(make([]byte, 16), make([]byte, 65)); err == nil {
		t.Error("short digest accepted")
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatal(err)
	}
	if restored.Address() != signer.Address() {
		t.Errorf("restored address %s, want %s", restored.Address(), signer.Address())
	}
	prefixed, err := FromPrivateKeyHex("0x" + signer.PrivateKeyHex())
	if err != nil || prefixed.Address() != signer.Address() {
		t.Errorf("0x-prefixed key parse = %v", err)
	}
}

func TestChecksumAddress(t *testing.T) {
	// EIP-55 reference vector
	addr := common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if got := ChecksumAddress(addr); got != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("checksum = %s", got)
	}
}
