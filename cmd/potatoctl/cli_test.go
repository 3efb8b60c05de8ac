package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/auth"
	"github.com/potatospin/potatospin/internal/ledger"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/internal/token"
	tokenhttp "github.com/potatospin/potatospin/internal/token/http"
)

const ownerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var player = shared.MustIdentity("0x00000000000000000000000000000000000000a7")

func startServer(t *testing.T, sink audit.Sink) (*token.Token, *auth.Signer) {
	t.Helper()
	signer, err := auth.NewSigner(ownerKey)
	require.NoError(t, err)
	tok, err := token.Deploy(context.Background(), token.Params{
		Config: ledger.Config{
			Metadata:  ledger.Metadata{Name: "Potato Token", Symbol: "POTATO", Decimals: 2},
			MaxSupply: uint256.NewInt(1_000_000),
		},
		Owner:         signer.Identity(),
		InitialSupply: uint256.NewInt(10_000),
		Sink:          sink,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	tokenhttp.NewHandler(nil, tok).MountRoutes(r, auth.NewVerifier(auth.NewMemoryNonceStore(), time.Minute, nil).Middleware)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	globalFlags = GlobalFlags{Server: srv.URL, Output: "text", Timeout: 5 * time.Second}
	return tok, signer
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenInfoJSON(t *testing.T) {
	startServer(t, audit.NewMemorySink())

	out, err := run(t, "token", "info", "--server", globalFlags.Server, "-o", "json")
	require.NoError(t, err)
	var info tokenhttp.TokenInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "POTATO", info.Symbol)
	assert.Equal(t, "10000", info.TotalSupply)
}

func TestMintNeedsKey(t *testing.T) {
	startServer(t, audit.NewMemorySink())
	t.Setenv(keyEnv, "")

	_, err := run(t, "token", "mint", player.String(), "1", "--server", globalFlags.Server, "-o", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), keyEnv)
}

func TestMintScalesWholeTokens(t *testing.T) {
	tok, _ := startServer(t, audit.NewMemorySink())
	t.Setenv(keyEnv, ownerKey)

	out, err := run(t, "token", "mint", player.String(), "1.5", "--server", globalFlags.Server, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "minted 1.5 POTATO")
	assert.Equal(t, "150", tok.Ledger.BalanceOf(player).Dec())

	_, err = run(t, "token", "mint", player.String(), "1.234", "--server", globalFlags.Server)
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestAuditVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := audit.OpenFileSink(path)
	require.NoError(t, err)
	startServer(t, sink)
	require.NoError(t, sink.Close())

	out, err := run(t, "audit", "verify", "--file", path, "--max-supply", "10000", "--decimals", "2", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "supply 100, 1 holders")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(data, []byte(`"10000"`), []byte(`"10001"`), 1), 0o600))
	_, err = run(t, "audit", "verify", "--file", path, "--max-supply", "10000", "--decimals", "2")
	assert.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestAuditVerifyUsesRecordedCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := audit.OpenFileSink(path)
	require.NoError(t, err)
	startServer(t, sink)
	require.NoError(t, sink.Close())

	out, err := run(t, "audit", "verify", "--file", path, "--max-supply", "", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "supply 100, 1 holders")

	_, err = run(t, "audit", "verify", "--file", path, "--max-supply", "20000", "--decimals", "2")
	assert.ErrorIs(t, err, audit.ErrGenesisMismatch)
}
