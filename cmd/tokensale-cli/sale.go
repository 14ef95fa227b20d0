package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tokensale/indexer"
	"tokensale/native/tokensale"
	"tokensale/rpc"
	"tokensale/tx"
)

func newSaleCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Open, buy from and close escrowed token sales",
	}
	cmd.AddCommand(newSaleInitCommand(opts))
	cmd.AddCommand(newSaleExchangeCommand(opts))
	cmd.AddCommand(newSaleCancelCommand(opts))
	cmd.AddCommand(newSaleGetCommand(opts))
	cmd.AddCommand(newSaleListCommand(opts))
	cmd.AddCommand(newSaleHistoryCommand(opts))
	cmd.AddCommand(newSaleAddressCommand(opts))
	return cmd
}

func newSaleInitCommand(opts *RootOptions) *cobra.Command {
	var rate, supply uint64
	var mintFlag, adminTokenFlag string
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Open a sale escrowing --supply units of --mint at --rate units per lamport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := parseAddressFlag("mint", mintFlag, true)
			if err != nil {
				return err
			}
			adminToken, err := parseAddressFlag("admin-token", adminTokenFlag, false)
			if err != nil {
				return err
			}
			key, err := opts.signer()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.SaleResult
			body := &tx.SaleInitializeBody{
				Name:              args[0],
				Rate:              rate,
				Supply:            supply,
				Mint:              mint,
				AdminTokenAccount: adminToken,
			}
			if err := opts.client().send(ctx, key, tx.MethodSaleInitialize, opts.TTL, body, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Uint64Var(&rate, "rate", 0, "tokens granted per lamport paid")
	cmd.Flags().Uint64Var(&supply, "supply", 0, "tokens moved into escrow")
	cmd.Flags().StringVar(&mintFlag, "mint", "", "mint of the sold token")
	cmd.Flags().StringVar(&adminTokenFlag, "admin-token", "", "source token account (default: wallet's associated account)")
	return cmd
}

func newSaleExchangeCommand(opts *RootOptions) *cobra.Command {
	var payment uint64
	var tokenFlag string
	cmd := &cobra.Command{
		Use:   "exchange <name>",
		Short: "Pay --payment lamports into a sale and receive tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if payment == 0 {
				return errMissingAmount
			}
			dest, err := parseAddressFlag("token-account", tokenFlag, false)
			if err != nil {
				return err
			}
			key, err := opts.signer()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out tokensale.ExchangeReceipt
			body := &tx.SaleExchangeBody{Name: args[0], Payment: payment, PayerTokenAccount: dest}
			if err := opts.client().send(ctx, key, tx.MethodSaleExchange, opts.TTL, body, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Uint64Var(&payment, "payment", 0, "lamports to pay")
	cmd.Flags().StringVar(&tokenFlag, "token-account", "", "receiving token account (default: wallet's associated account)")
	return cmd
}

func newSaleCancelCommand(opts *RootOptions) *cobra.Command {
	var adminTokenFlag string
	cmd := &cobra.Command{
		Use:   "cancel <name>",
		Short: "Close a sale and return the unsold supply to the admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adminToken, err := parseAddressFlag("admin-token", adminTokenFlag, false)
			if err != nil {
				return err
			}
			key, err := opts.signer()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out tokensale.CancelReceipt
			body := &tx.SaleCancelBody{Name: args[0], AdminTokenAccount: adminToken}
			if err := opts.client().send(ctx, key, tx.MethodSaleCancel, opts.TTL, body, &out); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&adminTokenFlag, "admin-token", "", "token account receiving the unsold supply")
	return cmd
}

func newSaleGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show an active sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.SaleResult
			if err := opts.client().call(ctx, "sale_get", &out, rpc.SaleNameParams{Name: args[0]}); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}

func newSaleListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sales",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out []rpc.SaleResult
			if err := opts.client().call(ctx, "sale_list", &out); err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.print(cmd.OutOrStdout(), out)
			}
			return writeSaleTable(cmd.OutOrStdout(), out)
		},
	}
}

func writeSaleTable(w io.Writer, sales []rpc.SaleResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRATE\tREMAINING\tTOTAL\tADMIN\tESCROW")
	for _, sale := range sales {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			sale.Name, sale.ExchangeRate, sale.RemainingSupply, sale.TotalSupply, sale.Admin, sale.Address)
	}
	return tw.Flush()
}

func newSaleHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "Show journaled sale events, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := rpc.SaleHistoryParams{Limit: limit}
			if len(args) == 1 {
				params.Name = args[0]
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out []indexer.Entry
			if err := opts.client().call(ctx, "sale_history", &out, params); err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.print(cmd.OutOrStdout(), out)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tTYPE\tSALE")
			for _, entry := range out {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", entry.ID, entry.RecordedAt.Format("2006-01-02T15:04:05Z07:00"), entry.Type, entry.Sale)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}

func newSaleAddressCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address <name>",
		Short: "Derive the escrow and holding addresses of a sale name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var out rpc.EscrowAddressResult
			if err := opts.client().call(ctx, "sale_escrowAddress", &out, rpc.SaleNameParams{Name: args[0]}); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}
