package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokensale/cmd/internal/passphrase"
	"tokensale/crypto"
	"tokensale/tx"
)

const (
	envRPCURL     = "TOKENSALE_RPC_URL"
	envRPCToken   = "TOKENSALE_RPC_TOKEN"
	envPassphrase = "TOKENSALE_PASSPHRASE"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	RPC      string
	Token    string
	Keystore string
	Format   string
	TTL      time.Duration
	Timeout  time.Duration

	passphrase *passphrase.Source
}

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the tokensale-cli command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{passphrase: passphrase.NewSource(envPassphrase, "wallet keystore")}

	cmd := &cobra.Command{
		Use:           "tokensale-cli",
		Short:         "Operate escrowed token sales on a tokensaled node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.TTL <= 0 || opts.TTL > tx.MaxTTL {
				return fmt.Errorf("ttl must be within (0, %s]", tx.MaxTTL)
			}
			return nil
		},
	}

	defaultRPC := os.Getenv(envRPCURL)
	if defaultRPC == "" {
		defaultRPC = "http://127.0.0.1:8545"
	}
	cmd.PersistentFlags().StringVar(&opts.RPC, "rpc", defaultRPC, "node JSON-RPC endpoint")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv(envRPCToken), "bearer token for guarded methods")
	cmd.PersistentFlags().StringVar(&opts.Keystore, "keystore", "./wallet.keystore", "wallet keystore used to sign")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.TTL, "ttl", 2*time.Minute, "validity window of signed instructions")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 15*time.Second, "request timeout")

	cmd.AddCommand(newKeysCommand(opts))
	cmd.AddCommand(newFaucetCommand(opts))
	cmd.AddCommand(newAccountCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newSaleCommand(opts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) client() *rpcClient {
	return newRPCClient(o.RPC, o.Token, o.Timeout)
}

func (o *RootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, o.Timeout)
}

// signer loads the wallet key from the keystore.
func (o *RootOptions) signer() (*crypto.PrivateKey, error) {
	pass, err := o.passphrase.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(o.Keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", o.Keystore, err)
	}
	return key, nil
}

// print writes v as indented JSON, or as "key: value" lines in text mode.
func (o *RootOptions) print(w io.Writer, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if o.Format == "json" {
		_, err = fmt.Fprintln(w, string(encoded))
		return err
	}
	var fields map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		// Lists and scalars have no flat text form.
		_, err = fmt.Fprintln(w, string(encoded))
		return err
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := fields[key]
		switch value.(type) {
		case map[string]interface{}, []interface{}:
			nested, _ := json.Marshal(value)
			fmt.Fprintf(w, "%s: %s\n", key, nested)
		default:
			fmt.Fprintf(w, "%s: %v\n", key, value)
		}
	}
	return nil
}

func parseAddressFlag(name, value string, required bool) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		if required {
			return crypto.ZeroAddress, fmt.Errorf("--%s is required", name)
		}
		return crypto.ZeroAddress, nil
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

var errMissingAmount = errors.New("amount must be positive")
