package main

import (
	"github.com/spf13/cobra"

	"tokensale/rpc"
	"tokensale/tx"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create mints and token accounts",
	}
	cmd.AddCommand(newCreateMintCommand(opts))
	cmd.AddCommand(newCreateTokenAccountCommand(opts))
	cmd.AddCommand(newMintToCommand(opts))
	cmd.AddCommand(newTokenBalanceCommand(opts))
	cmd.AddCommand(newMintInfoCommand(opts))
	return cmd
}

func newCreateMintCommand(opts *RootOptions) *cobra.Command {
	var decimals uint8
	cmd := &cobra.Command{
		Use:   "create-mint <symbol>",
		Short: "Create a mint whose authority is the wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := opts.signer()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.MintResult
			body := &tx.CreateMintBody{Symbol: args[0], Decimals: decimals}
			if err := opts.client().send(ctx, key, tx.MethodTokenCreateMint, opts.TTL, body, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Uint8Var(&decimals, "decimals", 0, "display decimals")
	return cmd
}

func newCreateTokenAccountCommand(opts *RootOptions) *cobra.Command {
	var mintFlag, ownerFlag string
	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "Create the associated token account of --owner (default: wallet), paid by the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := parseAddressFlag("mint", mintFlag, true)
			if err != nil {
				return err
			}
			owner, err := parseAddressFlag("owner", ownerFlag, false)
			if err != nil {
				return err
			}
			key, err := opts.signer()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.TokenAccountResult
			body := &tx.CreateAccountBody{Mint: mint, Owner: owner}
			if err := opts.client().send(ctx, key, tx.MethodTokenCreateAccount, opts.TTL, body, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&mintFlag, "mint", "", "mint address")
	cmd.Flags().StringVar(&ownerFlag, "owner", "", "account owner")
	return cmd
}

func newMintToCommand(opts *RootOptions) *cobra.Command {
	var mintFlag, toFlag string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "mint-to",
		Short: "Mint tokens into a token account; the wallet must be the mint authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount == 0 {
				return errMissingAmount
			}
			mint, err := parseAddressFlag("mint", mintFlag, true)
			if err != nil {
				return err
			}
			dest, err := parseAddressFlag("to", toFlag, true)
			if err != nil {
				return err
			}
			key, err := opts.signer()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.TokenAccountResult
			body := &tx.MintToBody{Mint: mint, Destination: dest, Amount: amount}
			if err := opts.client().send(ctx, key, tx.MethodTokenMintTo, opts.TTL, body, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&mintFlag, "mint", "", "mint address")
	cmd.Flags().StringVar(&toFlag, "to", "", "destination token account")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "units to mint")
	return cmd
}

func newTokenBalanceCommand(opts *RootOptions) *cobra.Command {
	var addressFlag, ownerFlag, mintFlag string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a token account by --address, or by --owner (default: wallet) and --mint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := rpc.TokenAccountParams{}
			var err error
			if params.Address, err = parseAddressFlag("address", addressFlag, false); err != nil {
				return err
			}
			if params.Address.IsZero() {
				if params.Mint, err = parseAddressFlag("mint", mintFlag, true); err != nil {
					return err
				}
				if params.Owner, err = parseAddressFlag("owner", ownerFlag, false); err != nil {
					return err
				}
				if params.Owner.IsZero() {
					key, err := opts.signer()
					if err != nil {
						return err
					}
					params.Owner = key.Address()
				}
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.TokenAccountResult
			if err := opts.client().call(ctx, "token_getAccount", &out, params); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&addressFlag, "address", "", "token account address")
	cmd.Flags().StringVar(&ownerFlag, "owner", "", "wallet owning the associated account")
	cmd.Flags().StringVar(&mintFlag, "mint", "", "mint address")
	return cmd
}

func newMintInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mint <address>",
		Short: "Show a mint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddressFlag("address", args[0], true)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.MintResult
			if err := opts.client().call(ctx, "token_getMint", &out, rpc.MintParams{Address: addr}); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}
