package chainstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/ports"
)

func mustMint(b byte) domain.Mint {
	var m domain.Mint
	m[0] = b
	return m
}

func TestStore_UpdateAccount_HigherWriteVersionWinsWithinSlot(t *testing.T) {
	s := New()
	pk := mustMint(1)
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, WriteVersion: 1, Lamports: 100})
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, WriteVersion: 2, Lamports: 200})

	rec, ok := s.Account(pk)
	assert.True(t, ok)
	assert.Equal(t, uint64(200), rec.Lamports)
}

func TestStore_UpdateAccount_StaleWriteVersionIgnored(t *testing.T) {
	s := New()
	pk := mustMint(1)
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, WriteVersion: 5, Lamports: 200})
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, WriteVersion: 1, Lamports: 999})

	rec, ok := s.Account(pk)
	assert.True(t, ok)
	assert.Equal(t, uint64(200), rec.Lamports)
}

func TestStore_UpdateAccount_HigherSlotWins(t *testing.T) {
	s := New()
	pk := mustMint(1)
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, Lamports: 100, Rooted: true})
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 11, Lamports: 200, Rooted: true})

	rec, ok := s.Account(pk)
	assert.True(t, ok)
	assert.Equal(t, uint64(200), rec.Lamports)
}

func TestStore_UpdateAccount_UnrootedHigherSlotDoesNotDisplaceRooted(t *testing.T) {
	s := New()
	pk := mustMint(1)
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, Lamports: 100, Rooted: true})
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 11, Lamports: 200, Rooted: false})

	rec, ok := s.Account(pk)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), rec.Lamports, "a not-yet-rooted higher slot must not displace a rooted record")
}

func TestStore_UpdateAccount_RootingSameSlotWriteVersionWins(t *testing.T) {
	s := New()
	pk := mustMint(1)
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, WriteVersion: 1, Lamports: 100, Rooted: false})
	s.UpdateAccount(ports.AccountRecord{Pubkey: pk, Slot: 10, WriteVersion: 1, Lamports: 100, Rooted: true})

	rec, ok := s.Account(pk)
	assert.True(t, ok)
	assert.True(t, rec.Rooted)
}

func TestStore_UpdateSlot_NeverMovesBackward(t *testing.T) {
	s := New()
	s.UpdateSlot(10)
	s.UpdateSlot(5)
	assert.Equal(t, uint64(10), s.NewestSlot())
}
