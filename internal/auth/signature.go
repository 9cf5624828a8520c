package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChallengePrefix is prepended to the nonce to form the signed message
const ChallengePrefix = "I am signing my one-time nonce: "

var errMalformedSignature = errors.New("malformed signature")

// ChallengeMessage returns the exact text a wallet signs for nonce
func ChallengeMessage(nonce string) string {
	return ChallengePrefix + nonce
}

// NormalizeAddress lowercases a 0x-prefixed hex address. It returns false
// for anything that is not a 20-byte hex address.
func NormalizeAddress(address string) (string, bool) {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return "", false
	}
	if !common.IsHexAddress(address) {
		return "", false
	}
	return strings.ToLower("0x" + address[2:]), true
}

// RecoverSigner returns the address that produced a personal_sign signature
// over message. V may be 0/1 or 27/28.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errMalformedSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", errMalformedSignature, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id", errMalformedSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
