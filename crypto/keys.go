package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/mr-tron/base58"
)

// AddressLength is the size in bytes of every account identity.
const AddressLength = 32

// Bech32Prefix is the human-readable part used for the optional bech32 form of
// an address.
const Bech32Prefix = "sale"

// Address is a 32-byte account identity. Externally owned addresses are
// ed25519 public keys; program-derived addresses deliberately lie off the
// curve so no private key can exist for them.
type Address [AddressLength]byte

// ZeroAddress is the all-zero identity. It never owns funds.
var ZeroAddress Address

var errInvalidAddressLength = errors.New("crypto: address must be 32 bytes")

// BytesToAddress copies b into an Address, rejecting any other length.
func BytesToAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, errInvalidAddressLength
	}
	copy(addr[:], b)
	return addr, nil
}

// String renders the canonical base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw identity bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Bech32 renders the address with the "sale" human-readable prefix.
func (a Address) Bech32() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(Bech32Prefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler using the base58 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and accepts either the
// base58 or the bech32 form.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a base58 address or a bech32 address carrying the
// "sale" prefix.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ZeroAddress, errors.New("crypto: empty address")
	}
	if strings.HasPrefix(strings.ToLower(trimmed), Bech32Prefix+"1") {
		prefix, decoded, err := bech32.Decode(trimmed)
		if err != nil {
			return ZeroAddress, fmt.Errorf("invalid bech32 string: %w", err)
		}
		if prefix != Bech32Prefix {
			return ZeroAddress, fmt.Errorf("crypto: unexpected address prefix %q", prefix)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return ZeroAddress, fmt.Errorf("error converting bits: %w", err)
		}
		return BytesToAddress(conv)
	}
	raw, err := base58.Decode(trimmed)
	if err != nil {
		return ZeroAddress, fmt.Errorf("invalid base58 string: %w", err)
	}
	return BytesToAddress(raw)
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// --- Key Management ---

type PrivateKey struct {
	key ed25519.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromSeed rebuilds a key from its 32-byte ed25519 seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes", ed25519.SeedSize)
	}
	return &PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed the key was derived from.
func (k *PrivateKey) Seed() []byte {
	return append([]byte(nil), k.key.Seed()...)
}

func (k *PrivateKey) Address() Address {
	var addr Address
	copy(addr[:], k.key.Public().(ed25519.PublicKey))
	return addr
}

func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}

// Verify checks an ed25519 signature made by the key behind addr. Derived
// addresses have no key and never verify.
func Verify(addr Address, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), msg, sig)
}
