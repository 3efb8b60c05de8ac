// Package deployment wires reward issuers into a freshly deployed token:
// each issuer receives MINTER and an initial pool. Re-running a plan against
// a token that already has it applied changes nothing.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/potatospin/potatospin/internal/rewards"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/internal/token"
)

// DefaultPools are the pool sizes in whole tokens.
var DefaultPools = map[rewards.Kind]uint64{
	rewards.KindGame:     40_000_000,
	rewards.KindTasks:    10_000_000,
	rewards.KindReferral: 5_000_000,
}

// Pool is one issuer to wire.
type Pool struct {
	Kind    rewards.Kind
	Account shared.Identity
	Units   uint64
}

// Plan lists the pools to wire, in order.
type Plan struct {
	Network  string
	Decimals uint8
	Pools    []Pool
}

// DefaultPlan builds a plan for the configured issuers using DefaultPools.
func DefaultPlan(network string, decimals uint8, issuers map[rewards.Kind]shared.Identity) (Plan, error) {
	plan := Plan{Network: network, Decimals: decimals}
	for _, kind := range rewards.Kinds() {
		account, ok := issuers[kind]
		if !ok {
			continue
		}
		if account.IsNull() {
			return Plan{}, fmt.Errorf("deployment: %w: %s issuer is the null identity", shared.ErrInvalidArgument, kind)
		}
		plan.Pools = append(plan.Pools, Pool{Kind: kind, Account: account, Units: DefaultPools[kind]})
	}
	if len(plan.Pools) == 0 {
		return Plan{}, errors.New("deployment: no issuers configured")
	}
	return plan, nil
}

// PoolResult records what Apply did for one pool.
type PoolResult struct {
	Kind         rewards.Kind    `yaml:"kind"`
	Account      shared.Identity `yaml:"account"`
	Units        uint64          `yaml:"units"`
	GrantedRole  bool            `yaml:"granted_minter"`
	Funded       bool            `yaml:"funded"`
	BalanceAfter string          `yaml:"balance_after"`
}

// Record is the deployment record persisted after Apply.
type Record struct {
	Network   string       `yaml:"network"`
	Deployer  string       `yaml:"deployer"`
	AppliedAt time.Time    `yaml:"applied_at"`
	Pools     []PoolResult `yaml:"pools"`
}

// Apply grants MINTER to every pool account that lacks it and funds pools whose
// balance is zero. The client must act as an ADMIN that also holds MINTER.
func Apply(ctx context.Context, client token.Client, deployer shared.Identity, plan Plan, logger *slog.Logger) (Record, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rec := Record{Network: plan.Network, Deployer: deployer.String(), AppliedAt: time.Now().UTC()}
	for _, pool := range plan.Pools {
		res := PoolResult{Kind: pool.Kind, Account: pool.Account, Units: pool.Units}
		log := logger.With(slog.String("pool", string(pool.Kind)), slog.String("account", pool.Account.String()))

		held, err := client.HasRole(ctx, shared.RoleMinter, pool.Account)
		if err != nil {
			return rec, fmt.Errorf("deployment: %s: check minter: %w", pool.Kind, err)
		}
		if !held {
			if err := client.GrantRole(ctx, shared.RoleMinter, pool.Account); err != nil {
				return rec, fmt.Errorf("deployment: %s: grant minter: %w", pool.Kind, err)
			}
			res.GrantedRole = true
			log.Info("minter granted")
		}

		balance, err := client.BalanceOf(ctx, pool.Account)
		if err != nil {
			return rec, fmt.Errorf("deployment: %s: balance: %w", pool.Kind, err)
		}
		if balance.IsZero() && pool.Units > 0 {
			amount := shared.Units(pool.Units, plan.Decimals)
			if err := client.Mint(ctx, pool.Account, amount); err != nil {
				return rec, fmt.Errorf("deployment: %s: fund pool: %w", pool.Kind, err)
			}
			res.Funded = true
			balance = amount
			log.Info("pool funded", slog.String("amount", amount.Dec()))
		} else {
			log.Info("pool already funded", slog.String("balance", balance.Dec()))
		}
		res.BalanceAfter = shared.FormatUnits(balance, plan.Decimals)
		rec.Pools = append(rec.Pools, res)
	}
	return rec, nil
}

// WriteRecord stores rec as YAML under dir and returns the file path.
func WriteRecord(dir string, rec Record) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("deployment: create %s: %w", dir, err)
	}
	network := rec.Network
	if network == "" {
		network = "local"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.yaml", network, rec.AppliedAt.Unix()))
	body, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("deployment: encode record: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("deployment: write %s: %w", path, err)
	}
	return path, nil
}

// ReadRecord loads a record written by WriteRecord.
func ReadRecord(path string) (Record, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := yaml.Unmarshal(body, &rec); err != nil {
		return Record{}, fmt.Errorf("deployment: decode %s: %w", path, err)
	}
	return rec, nil
}

// Summary prints one line per pool with grouped whole-token amounts.
func Summary(w io.Writer, rec Record, symbol string) {
	p := message.NewPrinter(language.English)
	pools := append([]PoolResult(nil), rec.Pools...)
	sort.SliceStable(pools, func(i, j int) bool { return pools[i].Units > pools[j].Units })
	var total uint64
	p.Fprintf(w, "Deployment on %s by %s\n", rec.Network, rec.Deployer)
	for _, pool := range pools {
		status := "unchanged"
		switch {
		case pool.GrantedRole && pool.Funded:
			status = "granted+funded"
		case pool.GrantedRole:
			status = "granted"
		case pool.Funded:
			status = "funded"
		}
		if pool.Funded {
			total += pool.Units
		}
		p.Fprintf(w, "  %-9s %s  %d %s  [%s]\n", pool.Kind, pool.Account, pool.Units, symbol, status)
	}
	p.Fprintf(w, "Minted this run: %d %s\n", total, symbol)
}
