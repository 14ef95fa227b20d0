package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tokensale/crypto"
	"tokensale/rpc"
)

type keyInfo struct {
	Address  string `json:"address"`
	Bech32   string `json:"bech32"`
	Keystore string `json:"keystore"`
}

func newKeysCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the signing wallet",
	}

	var force bool
	create := &cobra.Command{
		Use:   "new",
		Short: "Generate a wallet key into --keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.Keystore); err == nil && !force {
				return fmt.Errorf("keystore %s already exists; pass --force to overwrite", opts.Keystore)
			}
			pass, err := opts.passphrase.Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(opts.Keystore, key, pass); err != nil {
				return err
			}
			addr := key.Address()
			return opts.print(cmd.OutOrStdout(), keyInfo{Address: addr.String(), Bech32: addr.Bech32(), Keystore: opts.Keystore})
		},
	}
	create.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the wallet address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := opts.signer()
			if err != nil {
				return err
			}
			addr := key.Address()
			return opts.print(cmd.OutOrStdout(), keyInfo{Address: addr.String(), Bech32: addr.Bech32(), Keystore: opts.Keystore})
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}

func newFaucetCommand(opts *RootOptions) *cobra.Command {
	var lamports uint64
	cmd := &cobra.Command{
		Use:   "faucet [address]",
		Short: "Airdrop lamports from the development faucet (requires --token)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lamports == 0 {
				return errMissingAmount
			}
			var addr crypto.Address
			if len(args) == 1 {
				parsed, err := crypto.ParseAddress(args[0])
				if err != nil {
					return err
				}
				addr = parsed
			} else {
				key, err := opts.signer()
				if err != nil {
					return err
				}
				addr = key.Address()
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.AccountResult
			if err := opts.client().call(ctx, "ledger_airdrop", &out, rpc.AirdropParams{Address: addr, Lamports: lamports}); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Uint64Var(&lamports, "lamports", 0, "amount to airdrop")
	return cmd
}

func newAccountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "account [address]",
		Short: "Show a ledger account (defaults to the wallet)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr crypto.Address
			if len(args) == 1 {
				parsed, err := crypto.ParseAddress(args[0])
				if err != nil {
					return err
				}
				addr = parsed
			} else {
				key, err := opts.signer()
				if err != nil {
					return err
				}
				addr = key.Address()
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.AccountResult
			if err := opts.client().call(ctx, "ledger_getAccount", &out, rpc.AddressParams{Address: addr}); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}
