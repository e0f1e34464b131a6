// Package keystore loads the router's ed25519 signing key from an
// scrypt-derived, secretbox-sealed keyfile, decrypted with a passphrase
// supplied on stdin at startup — never via a flag or environment
// variable, so it never lands in shell history or process listings.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

func encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
func decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	saltLen      = 24
	nonceLen     = 24
	keyLen       = 32
)

// sealedFile is the on-disk JSON layout of an encrypted keyfile.
type sealedFile struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Seal encrypts a raw ed25519 private key under passphrase, returning
// the serialized keyfile contents.
func Seal(priv ed25519.PrivateKey, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore.Seal: read salt: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("keystore.Seal: read nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, priv, &nonce, key)

	out := sealedFile{
		Salt:       encode(salt),
		Nonce:      encode(nonce[:]),
		Ciphertext: encode(sealed),
	}
	return json.Marshal(out)
}

// Load reads an encrypted keyfile from path and decrypts it with the
// given passphrase (typically read once from stdin by the CLI).
func Load(path string, passphrase []byte) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore.Load: read %q: %w", path, err)
	}

	var sf sealedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("keystore.Load: parse %q: %w", path, err)
	}

	salt, err := decode(sf.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore.Load: decode salt: %w", err)
	}
	nonceBytes, err := decode(sf.Nonce)
	if err != nil || len(nonceBytes) != nonceLen {
		return nil, fmt.Errorf("keystore.Load: decode nonce: %w", err)
	}
	ciphertext, err := decode(sf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("keystore.Load: decode ciphertext: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	var nonce [nonceLen]byte
	copy(nonce[:], nonceBytes)

	plain, ok := secretbox.Open(nil, ciphertext, &nonce, key)
	if !ok {
		return nil, fmt.Errorf("keystore.Load: %q: wrong passphrase or corrupted keyfile", path)
	}
	if len(plain) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore.Load: %q: unexpected key size %d", path, len(plain))
	}
	return ed25519.PrivateKey(plain), nil
}

func deriveKey(passphrase, salt []byte) (*[32]byte, error) {
	derived, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("keystore: derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], derived)
	return &key, nil
}
