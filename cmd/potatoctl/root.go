package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/potatospin/potatospin/internal/auth"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/internal/token/client"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	Server  string
	KeyFile string
	Output  string
	Raw     bool
	Timeout time.Duration
}

const keyEnv = "POTATO_PRIVATE_KEY"

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:           "potatoctl",
	Short:         "Administer a potatod ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `potatoctl talks to a potatod API. Writes are signed with the key from
--key-file or $` + keyEnv + `.

Amounts are whole tokens ("1.5") unless --raw is set, in which case they
are base units.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", describe(err))
		os.Exit(1)
	}
}

func init() {
	server := os.Getenv("POTATO_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&globalFlags.Server, "server", server, "potatod base URL")
	rootCmd.PersistentFlags().StringVar(&globalFlags.KeyFile, "key-file", "", "file holding a hex private key")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text|json")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Raw, "raw", false, "amounts are base units")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.Timeout, "timeout", 15*time.Second, "request timeout")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(unpauseCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(jobsCmd)
}

// loadSigner returns nil when no key is configured.
func loadSigner() (*auth.Signer, error) {
	raw := os.Getenv(keyEnv)
	if globalFlags.KeyFile != "" {
		data, err := os.ReadFile(globalFlags.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return auth.NewSigner(raw)
}

func readClient() (*client.Client, error) {
	return client.New(globalFlags.Server, nil, nil)
}

func writeClient() (*client.Client, error) {
	signer, err := loadSigner()
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("a signing key is required: set --key-file or $%s", keyEnv)
	}
	return client.New(globalFlags.Server, signer, nil)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), globalFlags.Timeout)
}

// parseAmount reads a CLI amount, scaling by the token decimals unless --raw.
func parseAmount(ctx context.Context, c *client.Client, raw string) (*uint256.Int, error) {
	if globalFlags.Raw {
		return shared.ParseAmount(raw)
	}
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	return shared.ParseUnits(raw, info.Decimals)
}

func formatAmount(ctx context.Context, c *client.Client, v *uint256.Int) string {
	if globalFlags.Raw {
		return v.Dec()
	}
	info, err := c.Info(ctx)
	if err != nil {
		return v.Dec()
	}
	return shared.FormatUnits(v, info.Decimals) + " " + info.Symbol
}

func printer() *message.Printer {
	return message.NewPrinter(language.English)
}

// emit prints v as JSON with -o json, otherwise the text form.
func emit(w io.Writer, v any, text string) error {
	if globalFlags.Output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func describe(err error) error {
	var remote *client.RemoteError
	if errors.As(err, &remote) {
		return fmt.Errorf("server answered %d %s: %s", remote.Status, remote.Title, remote.Detail)
	}
	return err
}
