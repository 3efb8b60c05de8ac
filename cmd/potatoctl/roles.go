package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/potatospin/potatospin/internal/shared"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Inspect and manage role membership",
}

var rolesMembersCmd = &cobra.Command{
	Use:   "members <role>",
	Short: "List holders of a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		role, err := shared.ParseRole(args[0])
		if err != nil {
			return err
		}
		c, err := readClient()
		if err != nil {
			return err
		}
		members, err := c.Members(ctx, role)
		if err != nil {
			return err
		}
		lines := make([]string, 0, len(members))
		for _, m := range members {
			lines = append(lines, m.String())
		}
		return emit(cmd.OutOrStdout(), map[string]any{"role": role, "members": members}, strings.Join(lines, "\n"))
	},
}

var rolesHasCmd = &cobra.Command{
	Use:   "has <role> <address>",
	Short: "Check whether an address holds a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		role, err := shared.ParseRole(args[0])
		if err != nil {
			return err
		}
		account, err := shared.ParseIdentity(args[1])
		if err != nil {
			return err
		}
		c, err := readClient()
		if err != nil {
			return err
		}
		held, err := c.HasRole(ctx, role, account)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]any{"role": role, "address": account, "held": held}, fmt.Sprintf("%t", held))
	},
}

func roleChangeCmd(use, short, verb string, fn func(cmd *cobra.Command, role shared.Role, account shared.Identity) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <role> <address>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := shared.ParseRole(args[0])
			if err != nil {
				return err
			}
			account, err := shared.ParseIdentity(args[1])
			if err != nil {
				return err
			}
			if err := fn(cmd, role, account); err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, fmt.Sprintf("%s %s %s", verb, role, account))
		},
	}
}

var rolesGrantCmd = roleChangeCmd("grant", "Grant a role (ADMIN)", "granted",
	func(cmd *cobra.Command, role shared.Role, account shared.Identity) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		return c.GrantRole(ctx, role, account)
	})

var rolesRevokeCmd = roleChangeCmd("revoke", "Revoke a role (ADMIN)", "revoked",
	func(cmd *cobra.Command, role shared.Role, account shared.Identity) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		return c.RevokeRole(ctx, role, account)
	})

var rolesRenounceCmd = &cobra.Command{
	Use:   "renounce <role>",
	Short: "Give up one of the signer's roles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		role, err := shared.ParseRole(args[0])
		if err != nil {
			return err
		}
		c, err := writeClient()
		if err != nil {
			return err
		}
		if err := c.RenounceRole(ctx, role); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "ok"}, "renounced "+string(role))
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause mint, burn and transfers (PAUSER)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		if err := c.Pause(ctx); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "paused"}, "paused")
	},
}

var unpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Resume mint, burn and transfers (PAUSER)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := writeClient()
		if err != nil {
			return err
		}
		if err := c.Unpause(ctx); err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"status": "unpaused"}, "unpaused")
	},
}

func init() {
	rolesCmd.AddCommand(rolesMembersCmd, rolesHasCmd, rolesGrantCmd, rolesRevokeCmd, rolesRenounceCmd)
}
