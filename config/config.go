package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// EnvJWTSecret overrides RPC.JWTSecret so the secret can stay out of the file.
	EnvJWTSecret = "TOKENSALE_RPC_JWT_SECRET"
	// EnvEnvironment overrides Environment.
	EnvEnvironment = "TOKENSALE_ENV"

	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	Environment string `toml:"Environment"`

	Storage   Storage   `toml:"storage"`
	Sale      Sale      `toml:"sale"`
	Runtime   Runtime   `toml:"runtime"`
	RPC       RPC       `toml:"rpc"`
	Log       Log       `toml:"log"`
	Telemetry Telemetry `toml:"telemetry"`
	Indexer   Indexer   `toml:"indexer"`
}

// Default returns the configuration written by Load when no file exists.
func Default() *Config {
	cfg := &Config{
		RPCAddress:  "127.0.0.1:8545",
		DataDir:     "./tokensale-data",
		Environment: "dev",
		Storage:     Storage{Backend: BackendLevelDB},
		Indexer:     Indexer{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load loads the configuration from the given path. A missing file is
// replaced by Default() persisted at that path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tokensale-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendLevelDB
	}
	if c.Sale.EscrowTag == "" {
		c.Sale.EscrowTag = "escrow"
	}
	if c.Sale.HoldingTag == "" {
		c.Sale.HoldingTag = "escrow_token_account"
	}
	if c.Runtime.LamportsPerByte == 0 {
		c.Runtime.LamportsPerByte = 10
	}
	if c.RPC.RateLimit == 0 {
		c.RPC.RateLimit = 20
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = 40
	}
	if c.RPC.MaxBodyBytes == 0 {
		c.RPC.MaxBodyBytes = 1 << 20
	}
	if c.RPC.ReadHeaderTimeout == 0 {
		c.RPC.ReadHeaderTimeout = 5
	}
	if c.RPC.ReadTimeout == 0 {
		c.RPC.ReadTimeout = 15
	}
	if c.RPC.WriteTimeout == 0 {
		c.RPC.WriteTimeout = 15
	}
	if c.RPC.IdleTimeout == 0 {
		c.RPC.IdleTimeout = 60
	}
	if c.RPC.EventBuffer == 0 {
		c.RPC.EventBuffer = 64
	}
	if c.RPC.TrustedProxies == nil {
		c.RPC.TrustedProxies = []string{}
	}
	if c.RPC.AllowedOrigins == nil {
		c.RPC.AllowedOrigins = []string{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv() {
	if secret, ok := os.LookupEnv(EnvJWTSecret); ok {
		c.RPC.JWTSecret = strings.TrimSpace(secret)
	}
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
}

// StoragePath resolves the backend path relative to DataDir.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Backend == BackendBolt {
		return filepath.Join(c.DataDir, "ledger.db")
	}
	return filepath.Join(c.DataDir, "ledger")
}

// IndexerPath resolves the event journal path relative to DataDir.
func (c *Config) IndexerPath() string {
	if c.Indexer.Path != "" {
		return c.Indexer.Path
	}
	return filepath.Join(c.DataDir, "events.db")
}
