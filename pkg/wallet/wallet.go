// Package wallet derives per-network receiving addresses from a user's BIP-39
// seed phrase. Only addresses leave this package; keys are discarded after
// derivation.
package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
)

// Network kinds.
const (
	KindEVM    = "evm"
	KindSolana = "solana"
)

const (
	evmPath    = "m/44'/60'/0'/0/0"
	hardened   = uint32(0x80000000)
	slip10Seed = "ed25519 seed"
)

// solana path m/44'/501'/0'/0', all hardened
var solanaPath = []uint32{44, 501, 0, 0}

// ErrInvalidMnemonic is returned for phrases that fail the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("wallet: invalid mnemonic")

// Network names a chain and how its addresses are derived.
type Network struct {
	Name string
	Kind string
}

// Wallet holds the derived address for every configured network.
type Wallet struct {
	addresses map[string]string
}

// NewMnemonic generates a fresh 12-word seed phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// ValidMnemonic reports whether m is a checksummed BIP-39 phrase.
func ValidMnemonic(m string) bool {
	return bip39.IsMnemonicValid(normalize(m))
}

// Derive builds a wallet for the given networks. Networks whose kind is not
// supported are skipped, so Address reports them as unavailable.
func Derive(mnemonic string, networks []Network) (*Wallet, error) {
	seed, err := bip39.NewSeedWithErrorChecking(normalize(mnemonic), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	w := &Wallet{addresses: make(map[string]string, len(networks))}
	var evm, sol string
	for _, n := range networks {
		switch n.Kind {
		case KindEVM:
			if evm == "" {
				addr, err := EVMAddress(seed)
				if err != nil {
					return nil, err
				}
				evm = addr
			}
			w.addresses[n.Name] = evm
		case KindSolana:
			if sol == "" {
				addr, err := SolanaAddress(seed)
				if err != nil {
					return nil, err
				}
				sol = addr
			}
			w.addresses[n.Name] = sol
		}
	}
	return w, nil
}

// Address returns the address for a network.
func (w *Wallet) Address(network string) (string, bool) {
	if w == nil {
		return "", false
	}
	a, ok := w.addresses[network]
	return a, ok
}

// Networks lists the networks with an address, sorted.
func (w *Wallet) Networks() []string {
	if w == nil {
		return nil
	}
	names := make([]string, 0, len(w.addresses))
	for n := range w.addresses {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EVMAddress derives the first account on the standard Ethereum path. The
// same address is valid on every EVM chain.
func EVMAddress(seed []byte) (string, error) {
	path, err := accounts.ParseDerivationPath(evmPath)
	if err != nil {
		return "", err
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("failed to create master key: %w", err)
	}
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return "", fmt.Errorf("failed to derive child %d: %w", idx, err)
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return "", fmt.Errorf("failed to extract private key: %w", err)
	}
	return crypto.PubkeyToAddress(priv.ToECDSA().PublicKey).Hex(), nil
}

// SolanaAddress derives the account on m/44'/501'/0'/0' using SLIP-10 for
// ed25519, which only defines hardened children.
func SolanaAddress(seed []byte) (string, error) {
	mac := hmac.New(sha512.New, []byte(slip10Seed))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chain := sum[:32], sum[32:]

	for _, idx := range solanaPath {
		var buf [37]byte
		copy(buf[1:33], key)
		binary.BigEndian.PutUint32(buf[33:], idx|hardened)

		mac = hmac.New(sha512.New, chain)
		mac.Write(buf[:])
		sum = mac.Sum(nil)
		key, chain = sum[:32], sum[32:]
	}

	pub := ed25519.NewKeyFromSeed(key).Public().(ed25519.PublicKey)
	return base58.Encode(pub), nil
}

func normalize(m string) string {
	return strings.Join(strings.Fields(strings.ToLower(m)), " ")
}
