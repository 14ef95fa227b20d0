package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

const keystoreVersion = 3

var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

type keystoreFile struct {
	Address string              `json:"address"`
	Crypto  keystore.CryptoJSON `json:"crypto"`
	Version int                 `json:"version"`
}

// SaveToKeystore encrypts the key seed with the v3 keystore scheme and writes
// it to path. If the parent directory does not exist it will be created with
// 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	cryptoJSON, err := keystore.EncryptDataV3(key.Seed(), []byte(passphrase), scryptN, scryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}
	encoded, err := json.MarshalIndent(keystoreFile{
		Address: key.Address().String(),
		Crypto:  cryptoJSON,
		Version: keystoreVersion,
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromKeystore decrypts a keystore file written by SaveToKeystore.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file keystoreFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	if file.Version != keystoreVersion {
		return nil, fmt.Errorf("crypto: unsupported keystore version %d", file.Version)
	}
	seed, err := keystore.DecryptDataV3(file.Crypto, passphrase)
	if err != nil {
		return nil, err
	}
	key, err := PrivateKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if file.Address != "" && key.Address().String() != file.Address {
		return nil, errors.New("crypto: keystore address does not match decrypted key")
	}
	return key, nil
}
