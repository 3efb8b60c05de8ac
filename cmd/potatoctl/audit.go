package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/platform/db"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/jobs"
)

var (
	auditFile      string
	auditPGDSN     string
	auditMaxSupply string
	auditDecimals  uint8
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Offline audit log tools",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay an audit log and check the hash chain and supply invariants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		var maxSupply *uint256.Int
		if auditMaxSupply != "" {
			v, err := shared.ParseUnits(auditMaxSupply, auditDecimals)
			if err != nil {
				return fmt.Errorf("--max-supply: %w", err)
			}
			maxSupply = v
		}
		src, closeFn, err := openAuditSource(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		state, err := jobs.NewSupplyIntegrityJob(src, maxSupply, nil, nil, nil).Check(ctx)
		if err != nil {
			return err
		}
		decimals := auditDecimals
		if state.Genesis != nil && !cmd.Flags().Changed("decimals") {
			decimals = state.Genesis.Decimals
		}
		text := printer().Sprintf("ok: %d records, head %s\nsupply %s, %d holders, %d admins, paused %t",
			state.Seq, state.Head.Hex(), shared.FormatUnits(state.TotalSupply, decimals),
			len(state.Balances), len(state.Members(shared.RoleAdmin)), state.Paused)
		return emit(cmd.OutOrStdout(), map[string]any{
			"seq":          state.Seq,
			"head":         state.Head.Hex(),
			"total_supply": state.TotalSupply.Dec(),
			"holders":      len(state.Balances),
			"paused":       state.Paused,
		}, text)
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the audit log as CSV to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		src, closeFn, err := openAuditSource(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		records, err := src.Load(ctx)
		if err != nil {
			return err
		}
		body, err := audit.WriteCSV(records)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(body)
		return err
	},
}

func openAuditSource(ctx context.Context) (audit.Source, func(), error) {
	switch {
	case auditFile != "" && auditPGDSN != "":
		return nil, nil, errors.New("use either --file or --pg-dsn")
	case auditFile != "":
		sink, err := audit.OpenFileSink(auditFile)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { _ = sink.Close() }, nil
	case auditPGDSN != "":
		pool, err := db.New(ctx, auditPGDSN, db.Options{MaxConns: 2})
		if err != nil {
			return nil, nil, err
		}
		return audit.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, errors.New("one of --file or --pg-dsn is required")
	}
}

func init() {
	for _, c := range []*cobra.Command{auditVerifyCmd, auditExportCmd} {
		c.Flags().StringVar(&auditFile, "file", "", "JSONL audit log written by potatod")
		c.Flags().StringVar(&auditPGDSN, "pg-dsn", "", "Postgres DSN holding ledger_events")
	}
	auditVerifyCmd.Flags().StringVar(&auditMaxSupply, "max-supply", "", "expected supply cap in whole tokens (default: the cap recorded at deployment)")
	auditVerifyCmd.Flags().Uint8Var(&auditDecimals, "decimals", 18, "token decimals (default: the recorded decimals)")
	auditCmd.AddCommand(auditVerifyCmd, auditExportCmd)
}
