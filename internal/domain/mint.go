// Package domain holds the routing graph types: mints, edges, rings and
// the DFS cycle enumerator. Everything here is pure and side-effect free;
// adapters own the I/O.
package domain

import (
	"encoding/hex"
	"fmt"
)

// Mint is an opaque 32-byte token identifier (a Solana SPL mint address).
type Mint [32]byte

func (m Mint) String() string {
	return hex.EncodeToString(m[:])
}

// PoolKey is an opaque 32-byte liquidity pool identifier.
type PoolKey [32]byte

func (p PoolKey) String() string {
	return hex.EncodeToString(p[:])
}

// MintFromHex decodes a 64-character hex string into a Mint.
func MintFromHex(s string) (Mint, error) {
	var m Mint
	b, err := hex.DecodeString(s)
	if err != nil {
		return m, fmt.Errorf("domain.MintFromHex: %w", err)
	}
	if len(b) != len(m) {
		return m, fmt.Errorf("domain.MintFromHex: want %d bytes, got %d", len(m), len(b))
	}
	copy(m[:], b)
	return m, nil
}

// PoolKeyFromHex decodes a 64-character hex string into a PoolKey.
func PoolKeyFromHex(s string) (PoolKey, error) {
	var p PoolKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("domain.PoolKeyFromHex: %w", err)
	}
	if len(b) != len(p) {
		return p, fmt.Errorf("domain.PoolKeyFromHex: want %d bytes, got %d", len(p), len(b))
	}
	copy(p[:], b)
	return p, nil
}
