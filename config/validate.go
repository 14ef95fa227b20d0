package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// MaxSeedTagLength leaves room for the sale name under the deriver's
// per-seed limit.
const MaxSeedTagLength = 32

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.RPCAddress); err != nil {
		errs = append(errs, fmt.Errorf("RPCAddress: %w", err))
	}
	switch c.Storage.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage: unknown backend %q", c.Storage.Backend))
	}
	if err := validateTag("sale.EscrowTag", c.Sale.EscrowTag); err != nil {
		errs = append(errs, err)
	}
	if err := validateTag("sale.HoldingTag", c.Sale.HoldingTag); err != nil {
		errs = append(errs, err)
	}
	if c.Sale.EscrowTag == c.Sale.HoldingTag {
		errs = append(errs, fmt.Errorf("sale: escrow and holding tags must differ"))
	}
	if c.RPC.RateLimit < 0 || c.RPC.Burst < 0 {
		errs = append(errs, fmt.Errorf("rpc: rate limit and burst must be non-negative"))
	}
	if c.RPC.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("rpc: max_body_bytes < 0"))
	}
	if c.RPC.JWTSecret != "" && len(c.RPC.JWTSecret) < 16 {
		errs = append(errs, fmt.Errorf("rpc: JWT secret shorter than 16 bytes"))
	}
	for _, cidr := range c.RPC.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			errs = append(errs, fmt.Errorf("rpc: trusted proxy %q is neither an IP nor a CIDR", cidr))
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry: sample ratio must be within [0,1]"))
	}
	return errors.Join(errs...)
}

func validateTag(field, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if len(tag) > MaxSeedTagLength {
		return fmt.Errorf("%s longer than %d bytes", field, MaxSeedTagLength)
	}
	return nil
}
