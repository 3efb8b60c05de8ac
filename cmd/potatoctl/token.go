package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/shared"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Token queries and transfers",
}

var tokenInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show metadata, supply and pause state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := readClient()
		if err != nil {
			return err
		}
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		total, err := shared.ParseAmount(info.TotalSupply)
		if err != nil {
			return err
		}
		maxSupply, err := shared.ParseAmount(info.MaxSupply)
		if err != nil {
			return err
		}
		text := printer().Sprintf("%s (%s), %d decimals\nsupply %s / %s\npaused: %t",
			info.Name, info.Symbol, info.Decimals,
			shared.FormatUnits(total, info.Decimals), shared.FormatUnits(maxSupply, info.Decimals), info.Paused)
		return emit(cmd.OutOrStdout(), info, text)
	},
}

var tokenBalanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Show the balance of an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		account, err := shared.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		c, err := readClient()
		if err != nil {
			return err
		}
		bal, err := c.BalanceOf(ctx, account)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"address": account.String(), "balance": bal.Dec()},
			formatAmount(ctx, c, bal))
	},
}

var tokenAllowanceCmd = &cobra.Command{
	Use:   "allowance <owner> <spender>",
	Short: "Show how much spender may move from owner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		owner, err := shared.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		spender, err := shared.ParseIdentity(args[1])
		if err != nil {
			return err
		}
		c, err := readClient()
		if err != nil {
			return err
		}
		amount, err := c.Allowance(ctx, owner, spender)
		if err != nil {
			return err
		}
		text := formatAmount(ctx, c, amount)
		if audit.IsUnlimited(amount) {
			text = "unlimited"
		}
		return emit(cmd.OutOrStdout(), map[string]string{"owner": owner.String(), "spender": spender.String(), "allowance": amount.Dec()}, text)
	},
}

// signedAmountCmd builds a write command taking address arguments followed by an amount.
func signedAmountCmd(use, short string, addresses int, run func(cmd *cobra.Command, ids []shared.Identity, amount string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(addresses + 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]shared.Identity, 0, addresses)
			for _, raw := range args[:addresses] {
				id, err := shared.ParseIdentity(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return run(cmd, ids, args[addresses])
		},
	}
}

var tokenMintCmd = signedAmountCmd("mint <to> <amount>", "Mint new tokens (MINTER)", 1,
	func(cmd *cobra.Command, ids []shared.Identity, raw string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		amount, err := parseAmount(ctx, c, raw)
		if err != nil {
			return err
		}
		if err := c.Mint(ctx, ids[0], amount); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, fmt.Sprintf("minted %s to %s", formatAmount(ctx, c, amount), ids[0]))
	})

var tokenBurnCmd = signedAmountCmd("burn <amount>", "Burn tokens from the signer (BURNER)", 0,
	func(cmd *cobra.Command, _ []shared.Identity, raw string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		amount, err := parseAmount(ctx, c, raw)
		if err != nil {
			return err
		}
		if err := c.Burn(ctx, amount); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, "burned "+formatAmount(ctx, c, amount))
	})

var tokenBurnFromCmd = signedAmountCmd("burn-from <owner> <amount>", "Burn from an owner using an allowance (BURNER)", 1,
	func(cmd *cobra.Command, ids []shared.Identity, raw string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		amount, err := parseAmount(ctx, c, raw)
		if err != nil {
			return err
		}
		if err := c.BurnFrom(ctx, ids[0], amount); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, fmt.Sprintf("burned %s from %s", formatAmount(ctx, c, amount), ids[0]))
	})

var tokenTransferCmd = signedAmountCmd("transfer <to> <amount>", "Transfer from the signer", 1,
	func(cmd *cobra.Command, ids []shared.Identity, raw string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		amount, err := parseAmount(ctx, c, raw)
		if err != nil {
			return err
		}
		if err := c.Transfer(ctx, ids[0], amount); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, fmt.Sprintf("sent %s to %s", formatAmount(ctx, c, amount), ids[0]))
	})

var tokenTransferFromCmd = signedAmountCmd("transfer-from <owner> <to> <amount>", "Transfer from an owner using an allowance", 2,
	func(cmd *cobra.Command, ids []shared.Identity, raw string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		amount, err := parseAmount(ctx, c, raw)
		if err != nil {
			return err
		}
		if err := c.TransferFrom(ctx, ids[0], ids[1], amount); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, fmt.Sprintf("sent %s from %s to %s", formatAmount(ctx, c, amount), ids[0], ids[1]))
	})

var tokenApproveCmd = signedAmountCmd("approve <spender> <amount|max>", "Set the signer's allowance for spender", 1,
	func(cmd *cobra.Command, ids []shared.Identity, raw string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		var amount = audit.Unlimited()
		if raw != "max" {
			if amount, err = parseAmount(ctx, c, raw); err != nil {
				return err
			}
		}
		if err := c.Approve(ctx, ids[0], amount); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, "approved "+ids[0].String())
	})

func init() {
	tokenCmd.AddCommand(tokenInfoCmd, tokenBalanceCmd, tokenAllowanceCmd,
		tokenMintCmd, tokenBurnCmd, tokenBurnFromCmd,
		tokenTransferCmd, tokenTransferFromCmd, tokenApproveCmd)
}
