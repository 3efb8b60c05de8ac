package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/potatospin/potatospin/internal/deployment"
	"github.com/potatospin/potatospin/internal/rewards"
	"github.com/potatospin/potatospin/internal/shared"
)

var (
	deployNetwork   string
	deployRecordDir string
	deployIssuers   = map[rewards.Kind]*string{}
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Grant MINTER to the reward issuers and fund their pools",
	Long: `deploy wires the game, tasks and referral issuers into a running token.
Each configured issuer is granted MINTER and, when its balance is zero, funded
with its default pool (40M, 10M and 5M tokens). Running it again is a no-op.

The signer must hold ADMIN and MINTER. A YAML record of the run is written to
--record-dir.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		identities := make(map[rewards.Kind]shared.Identity)
		for kind, raw := range deployIssuers {
			if *raw == "" {
				continue
			}
			id, err := shared.ParseIdentity(*raw)
			if err != nil {
				return fmt.Errorf("--%s: %w", kind, err)
			}
			identities[kind] = id
		}

		c, err := writeClient()
		if err != nil {
			return err
		}
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		plan, err := deployment.DefaultPlan(deployNetwork, info.Decimals, identities)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		rec, applyErr := deployment.Apply(ctx, c, c.Identity(), plan, logger)
		if len(rec.Pools) > 0 {
			path, err := deployment.WriteRecord(deployRecordDir, rec)
			if err != nil {
				return err
			}
			logger.Info("deployment record saved", slog.String("path", path))
		}
		if applyErr != nil {
			return applyErr
		}
		if globalFlags.Output == "json" {
			return emit(cmd.OutOrStdout(), rec, "")
		}
		deployment.Summary(cmd.OutOrStdout(), rec, info.Symbol)
		return nil
	},
}

func init() {
	deployCmd.Flags().StringVar(&deployNetwork, "network", "local", "network label stored in the deployment record")
	deployCmd.Flags().StringVar(&deployRecordDir, "record-dir", "deployments", "directory for deployment records")
	for _, kind := range rewards.Kinds() {
		deployIssuers[kind] = deployCmd.Flags().String(string(kind), "", fmt.Sprintf("%s issuer address", kind))
	}
}
