// Package verify implements the coordinator's CryptoVerifier: stateless
// SHA-256 digesting of transaction bytes, and signature verification
// against public keys for both Ed25519 and ECDSA-secp256k1.
//
// Public keys are self-describing: the first byte is a type tag followed
// by the raw key bytes, so eligible keys can be configured as an opaque
// list without an out-of-band type field.
package verify

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
)

// KeyType identifies the signature algorithm a public key belongs to.
type KeyType byte

const (
	// KeyTypeEd25519 tags a 32-byte raw Ed25519 public key.
	KeyTypeEd25519 KeyType = 0x01
	// KeyTypeSecp256k1 tags a 33-byte SEC1-compressed secp256k1 public key.
	KeyTypeSecp256k1 KeyType = 0x02
)

const (
	ed25519PubKeyLen   = ed25519.PublicKeySize // 32
	secp256k1PubKeyLen = 33
	signatureLen       = 64
)

// Reason categorizes why verification failed, for logging; the caller
// translates any non-nil reason into SIGNATURE_REJECTED{invalid_signature}.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonEmptyKey        Reason = "empty_public_key"
	ReasonUnknownKeyType  Reason = "unknown_key_type"
	ReasonBadKeyLength    Reason = "bad_key_length"
	ReasonBadKeyEncoding  Reason = "bad_key_encoding"
	ReasonBadSignatureLen Reason = "bad_signature_length"
	ReasonCryptoFailure   Reason = "cryptographic_failure"
)

// Digest returns the SHA-256 digest of the transaction bytes.
func Digest(transactionBytes []byte) [32]byte {
	return sha256.Sum256(transactionBytes)
}

// Verify parses publicKey (self-describing, see package docs), and checks
// signature (a fixed 64-byte value) against transactionBytes directly:
// the ledger verifies over the serialized transaction body, not its
// digest, so the coordinator mirrors that. It returns whether the
// signature is valid and, on failure, a categorized Reason for logging.
func Verify(publicKey, transactionBytes, signature []byte) (bool, Reason) {
	if len(publicKey) == 0 {
		return false, ReasonEmptyKey
	}
	if len(signature) != signatureLen {
		return false, ReasonBadSignatureLen
	}

	keyType := KeyType(publicKey[0])
	raw := publicKey[1:]

	switch keyType {
	case KeyTypeEd25519:
		return verifyEd25519(raw, transactionBytes, signature)
	case KeyTypeSecp256k1:
		return verifySecp256k1(raw, transactionBytes, signature)
	default:
		return false, ReasonUnknownKeyType
	}
}

func verifyEd25519(raw, message, signature []byte) (bool, Reason) {
	if len(raw) != ed25519PubKeyLen {
		return false, ReasonBadKeyLength
	}
	pub := ed25519.PublicKey(raw)
	if !ed25519.Verify(pub, message, signature) {
		return false, ReasonCryptoFailure
	}
	return true, ReasonNone
}

func verifySecp256k1(raw, message, signature []byte) (bool, Reason) {
	if len(raw) != secp256k1PubKeyLen {
		return false, ReasonBadKeyLength
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return false, ReasonBadKeyEncoding
	}

	hash := sha256.Sum256(message)
	r, s, err := deserializeSignature(signature)
	if err != nil {
		return false, ReasonBadSignatureLen
	}

	if !ecdsa.Verify(pub.ToECDSA(), hash[:], r, s) {
		return false, ReasonCryptoFailure
	}
	return true, ReasonNone
}

// EncodePublicKey prepends the type tag to a raw public key, producing the
// self-describing wire form eligible_keys and signatures carry.
func EncodePublicKey(keyType KeyType, raw []byte) []byte {
	out := make([]byte, len(raw)+1)
	out[0] = byte(keyType)
	copy(out[1:], raw)
	return out
}

// EncodeBase58 renders a self-describing public key (see EncodePublicKey)
// in Solana-style base58, for operators copying keys out of wallets that
// never speak base64. The coordinator's wire format is unaffected; this
// is purely a convenience for building eligible_keys config entries.
func EncodeBase58(publicKey []byte) string {
	return base58.Encode(publicKey)
}

// DecodeBase58 parses a base58-encoded self-describing public key back
// into its wire bytes.
func DecodeBase58(encoded string) ([]byte, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base58 public key: %w", err)
	}
	return raw, nil
}

// deserializeSignature splits a fixed 64-byte r||s ECDSA signature,
// following the coordinator's flat signature-carrying convention.
func deserializeSignature(data []byte) (*big.Int, *big.Int, error) {
	if len(data) != signatureLen {
		return nil, nil, fmt.Errorf("signature must be %d bytes, got %d", signatureLen, len(data))
	}
	r := new(big.Int).SetBytes(data[:32])
	s := new(big.Int).SetBytes(data[32:])
	return r, s, nil
}

// serializeSignature packs r, s into the fixed 64-byte wire form.
func serializeSignature(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	out := make([]byte, signatureLen)
	copy(out[32-len(rBytes):32], rBytes)
	copy(out[64-len(sBytes):64], sBytes)
	return out
}

// SignSecp256k1 signs message with an ECDSA secp256k1 private key,
// producing the coordinator's flat 64-byte wire signature. Exposed for
// tests that need to construct valid signatures; the coordinator itself
// never holds private keys.
func SignSecp256k1(priv *secp256k1.PrivateKey, message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, priv.ToECDSA(), hash[:])
	if err != nil {
		return nil, err
	}
	return serializeSignature(r, s), nil
}

// SignEd25519 signs message with an Ed25519 private key. Exposed for
// tests; the coordinator never holds private keys.
func SignEd25519(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}
