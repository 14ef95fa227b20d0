package crypto

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength bounds a single seed. It matches the longest sale name.
	MaxSeedLength = 128
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	ErrDerivationFailed = errors.New("crypto: no viable bump seed")
	ErrOnCurve          = errors.New("crypto: derived address lies on the ed25519 curve")
)

type ErrMaxSeedsExceeded struct {
	Count int
}

func (e ErrMaxSeedsExceeded) Error() string {
	return fmt.Sprintf("crypto: max seeds exceeded: %d (max: %d)", e.Count, MaxSeeds)
}

type ErrSeedTooLong struct {
	Length int
}

func (e ErrSeedTooLong) Error() string {
	return fmt.Sprintf("crypto: seed too long: %d bytes (max: %d)", e.Length, MaxSeedLength)
}

// IsOnCurve reports whether b decodes as an edwards25519 point, i.e. whether a
// private key could exist for it.
func IsOnCurve(b []byte) bool {
	if len(b) != AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// ProgramID returns the deterministic identity of a named program.
func ProgramID(name string) Address {
	var addr Address
	copy(addr[:], ethcrypto.Keccak256([]byte("program:"), []byte(name)))
	return addr
}

func validateSeeds(seeds [][]byte, extra int) error {
	if len(seeds)+extra > MaxSeeds {
		return ErrMaxSeedsExceeded{Count: len(seeds) + extra}
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return ErrSeedTooLong{Length: len(seed)}
		}
	}
	return nil
}

// hashSeeds length-prefixes every seed so that distinct seed lists never share
// a preimage.
func hashSeeds(seeds [][]byte, programID Address) Address {
	parts := make([][]byte, 0, 2*len(seeds)+2)
	for _, seed := range seeds {
		parts = append(parts, []byte{byte(len(seed))}, seed)
	}
	parts = append(parts, programID[:], pdaMarker)
	var addr Address
	copy(addr[:], ethcrypto.Keccak256(parts...))
	return addr
}

// CreateProgramAddress hashes the seeds as-is (the caller appends the bump as
// the final seed) and fails with ErrOnCurve when the result could have a key.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if err := validateSeeds(seeds, 0); err != nil {
		return ZeroAddress, err
	}
	addr := hashSeeds(seeds, programID)
	if IsOnCurve(addr[:]) {
		return ZeroAddress, ErrOnCurve
	}
	return addr, nil
}

// DeriveAddress searches bumps from startBump down to zero and returns the
// first off-curve address together with the bump that produced it.
func DeriveAddress(seeds [][]byte, startBump uint8, programID Address) (Address, uint8, error) {
	if err := validateSeeds(seeds, 1); err != nil {
		return ZeroAddress, 0, err
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := int(startBump); bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr := hashSeeds(withBump, programID)
		if IsOnCurve(addr[:]) {
			continue
		}
		return addr, uint8(bump), nil
	}
	return ZeroAddress, 0, ErrDerivationFailed
}

// FindProgramAddress is DeriveAddress starting from the highest bump.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	return DeriveAddress(seeds, 255, programID)
}
