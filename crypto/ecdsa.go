// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package crypto implements the ECDSA signing/verification and
// Bitcoin-style address derivation spec.md §3 names as the node's
// cryptographic primitives: "ECDSA sign/verify over the secp256k1
// curve, Bitcoin-style address derivation".
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/EXCCoin/base58"
	"github.com/EXCCoin/exccd/dcrec/secp256k1/v4"
	"github.com/EXCCoin/exccd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160"
)

// ErrInvalidSignature is returned when an ECDSA signature fails to
// verify against the supplied message and public key.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// PrivateKey and PublicKey are re-exported so callers never need to
// import the underlying secp256k1 package directly.
type (
	PrivateKey = secp256k1.PrivateKey
	PublicKey  = secp256k1.PublicKey
)

// GeneratePrivateKey returns a fresh random secp256k1 private key
// along with its hex encoding, for first-run node identity
// provisioning.
func GeneratePrivateKey() (*PrivateKey, string, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, "", fmt.Errorf("crypto: generate private key: %w", err)
	}
	return priv, hex.EncodeToString(priv.Serialize()), nil
}

// ParsePrivateKeyHex parses a hex-encoded 32-byte secp256k1 private
// key.
func ParsePrivateKeyHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	return priv, nil
}

// ParsePublicKeyHex parses a hex-encoded compressed or uncompressed
// secp256k1 public key, the form every wire Transaction/Block carries
// in its `public_key` field.
func ParsePublicKeyHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	return secp256k1.ParsePubKey(b)
}

// digest is the message hash ECDSA signs/verifies over. The node signs
// raw message bytes (a block hash, a transaction's canonical message,
// a peer username) after a single SHA-256 pass, following the
// source's BitcoinMessage-style signing convention.
func digest(message []byte) []byte {
	sum := sha256.Sum256(message)
	return sum[:]
}

// Sign produces a DER-encoded ECDSA signature of message under priv.
func Sign(priv *PrivateKey, message []byte) []byte {
	sig := ecdsa.Sign(priv, digest(message))
	return sig.Serialize()
}

// Verify reports whether sig is a valid ECDSA signature of message
// under pub.
func Verify(pub *PublicKey, message, sig []byte) error {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsed.Verify(digest(message), pub) {
		return ErrInvalidSignature
	}
	return nil
}

// Hash160 computes ripemd160(sha256(b)), the digest Bitcoin-style
// addresses are built from.
func Hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	ripemd := ripemd160.New()
	ripemd.Write(sha[:])
	return ripemd.Sum(nil)
}

// AddressVersion is the single version byte prefixed to a hash160
// payload before Base58Check encoding, one per network (spec.md §6
// `network` ∈ {mainnet, testnet, regnet}).
type AddressVersion byte

// AddressFromPublicKey derives the Base58Check address for pub under
// version, the "Bitcoin-style address derivation" spec.md §3 requires.
func AddressFromPublicKey(pub *PublicKey, version AddressVersion) string {
	payload := Hash160(pub.SerializeCompressed())
	return base58CheckEncode(payload, byte(version))
}

// DecodeAddress reverses AddressFromPublicKey, validating the
// Base58Check checksum and returning the embedded hash160 payload and
// version byte.
func DecodeAddress(address string) (payload []byte, version byte, err error) {
	decoded, ver, err := base58CheckDecode(address)
	if err != nil {
		return nil, 0, fmt.Errorf("crypto: invalid address %q: %w", address, err)
	}
	return decoded, ver, nil
}

func base58CheckEncode(payload []byte, version byte) string {
	b := make([]byte, 0, 1+len(payload)+4)
	b = append(b, version)
	b = append(b, payload...)
	cksum := checksum(b)
	b = append(b, cksum[:]...)
	return base58.Encode(b)
}

func base58CheckDecode(s string) ([]byte, byte, error) {
	decoded := base58.Decode(s)
	if len(decoded) < 1+4 {
		return nil, 0, errors.New("too short")
	}
	payload := decoded[:len(decoded)-4]
	cksum := decoded[len(decoded)-4:]
	expected := checksum(payload)
	for i := range expected {
		if cksum[i] != expected[i] {
			return nil, 0, errors.New("checksum mismatch")
		}
	}
	return payload[1:], payload[0], nil
}

func checksum(b []byte) (cksum [4]byte) {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	copy(cksum[:], second[:4])
	return cksum
}
