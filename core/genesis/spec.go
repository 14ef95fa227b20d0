package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tokensale/crypto"
)

// Spec is the YAML document describing the ledger a fresh store starts with.
//
//	accounts:
//	  - address: 8Xk...
//	    lamports: 1000000
//	mints:
//	  - symbol: SALE
//	    decimals: 6
//	    authority: 8Xk...
//	    balances:
//	      8Xk...: 5000
type Spec struct {
	Accounts []AccountSpec `yaml:"accounts"`
	Mints    []MintSpec    `yaml:"mints"`
}

type AccountSpec struct {
	Address  string `yaml:"address"`
	Lamports uint64 `yaml:"lamports"`
}

type MintSpec struct {
	Symbol    string `yaml:"symbol"`
	Decimals  uint8  `yaml:"decimals"`
	Authority string `yaml:"authority"`
	// Balances maps wallet owners to the amount minted into their
	// associated token account.
	Balances map[string]uint64 `yaml:"balances,omitempty"`
}

// LoadSpec reads and validates a genesis file. Unknown keys are rejected.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	return ParseSpec(raw)
}

// ParseSpec decodes a genesis document.
func ParseSpec(raw []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode genesis spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks addresses and rejects duplicate wallets or mints.
func (s *Spec) Validate() error {
	seen := make(map[crypto.Address]struct{}, len(s.Accounts))
	for i, account := range s.Accounts {
		addr, err := crypto.ParseAddress(account.Address)
		if err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("accounts[%d]: duplicate address %s", i, addr)
		}
		seen[addr] = struct{}{}
	}
	mints := make(map[string]struct{}, len(s.Mints))
	for i, mint := range s.Mints {
		symbol := strings.TrimSpace(mint.Symbol)
		if symbol == "" {
			return fmt.Errorf("mints[%d]: symbol required", i)
		}
		if len(symbol) > crypto.MaxSeedLength {
			return fmt.Errorf("mints[%d]: symbol longer than %d bytes", i, crypto.MaxSeedLength)
		}
		authority, err := crypto.ParseAddress(mint.Authority)
		if err != nil {
			return fmt.Errorf("mints[%d] authority: %w", i, err)
		}
		key := authority.String() + "/" + symbol
		if _, dup := mints[key]; dup {
			return fmt.Errorf("mints[%d]: duplicate mint %s", i, symbol)
		}
		mints[key] = struct{}{}
		for owner := range mint.Balances {
			if _, err := crypto.ParseAddress(owner); err != nil {
				return fmt.Errorf("mints[%d] balance owner %q: %w", i, owner, err)
			}
		}
	}
	return nil
}

func sortedOwners(balances map[string]uint64) []string {
	owners := make([]string, 0, len(balances))
	for owner := range balances {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}
