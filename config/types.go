package config

// Storage selects the key/value backend holding committed ledger state.
type Storage struct {
	// Backend is one of "leveldb", "bolt" or "memory".
	Backend string `toml:"Backend"`
	// Path defaults to <DataDir>/ledger (leveldb) or <DataDir>/ledger.db (bolt).
	Path string `toml:"Path,omitempty"`
}

// Sale carries the seed tags the sale program derives its addresses from.
// Changing them on a populated store orphans every existing sale.
type Sale struct {
	EscrowTag  string `toml:"EscrowTag"`
	HoldingTag string `toml:"HoldingTag"`
}

// Runtime tunes the in-process ledger host.
type Runtime struct {
	LamportsPerByte uint64 `toml:"LamportsPerByte"`
}

// RPC configures the JSON-RPC listener.
type RPC struct {
	// JWTSecret guards the faucet; empty disables ledger_airdrop entirely.
	JWTSecret         string   `toml:"JWTSecret,omitempty"`
	JWTIssuer         string   `toml:"JWTIssuer,omitempty"`
	RateLimit         float64  `toml:"RateLimit"`
	Burst             int      `toml:"Burst"`
	MaxBodyBytes      int64    `toml:"MaxBodyBytes"`
	ReadHeaderTimeout int      `toml:"ReadHeaderTimeout"`
	ReadTimeout       int      `toml:"ReadTimeout"`
	WriteTimeout      int      `toml:"WriteTimeout"`
	IdleTimeout       int      `toml:"IdleTimeout"`
	TrustedProxies    []string `toml:"TrustedProxies"`
	AllowedOrigins    []string `toml:"AllowedOrigins"`
	EventBuffer       int      `toml:"EventBuffer"`
}

// Log mirrors logging.Options.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
	MaxAgeDays int    `toml:"MaxAgeDays,omitempty"`
}

// Telemetry mirrors otel.Config.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint,omitempty"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers,omitempty"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio,omitempty"`
}

// Indexer configures the sale event journal.
type Indexer struct {
	Enabled bool `toml:"Enabled"`
	// Path defaults to <DataDir>/events.db.
	Path string `toml:"Path,omitempty"`
}
