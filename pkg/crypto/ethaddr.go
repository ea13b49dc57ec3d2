package crypto

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ChecksumAddress renders a 20-byte address as an EIP-55 checksummed hex
// string. Used wherever addresses leave the system (API responses, logs).
func ChecksumAddress(addr common.Address) string {
	return EIP55(addr[:])
}

// EIP55 computes the checksummed hex form of a raw 20-byte address: each hex
// letter is uppercased when the matching nibble of keccak256(lowercase hex)
// is >= 8.
func EIP55(addr20 []byte) string {
	lower := hex.EncodeToString(addr20)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hash := h.Sum(nil)

	out := make([]byte, 2, 2+len(lower))
	copy(out, "0x")
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			nibble := hash[i/2] >> 4
			if i%2 == 1 {
				nibble = hash[i/2] & 0x0f
			}
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out = append(out, c)
	}
	return string(out)
}
