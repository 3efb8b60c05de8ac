package e2e

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/potatospin/potatospin/internal/app"
	"github.com/potatospin/potatospin/internal/audit"
	audithttp "github.com/potatospin/potatospin/internal/audit/http"
	"github.com/potatospin/potatospin/internal/auth"
	"github.com/potatospin/potatospin/internal/deployment"
	"github.com/potatospin/potatospin/internal/ledger"
	"github.com/potatospin/potatospin/internal/observability"
	"github.com/potatospin/potatospin/internal/rbac"
	"github.com/potatospin/potatospin/internal/rewards"
	"github.com/potatospin/potatospin/internal/shared"
	_ "github.com/potatospin/potatospin/internal/testing/guard"
	"github.com/potatospin/potatospin/internal/token"
	"github.com/potatospin/potatospin/internal/token/client"
	tokenhttp "github.com/potatospin/potatospin/internal/token/http"
	"github.com/potatospin/potatospin/jobs"
)

const (
	adminKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	gameKey  = "0000000000000000000000000000000000000000000000000000000000000003"
)

var player = shared.MustIdentity("0x00000000000000000000000000000000000000b7")

type stack struct {
	tok    *token.Token
	sink   *audit.FileSink
	params token.Params
	url    string
}

func startStack(t *testing.T, admin *auth.Signer) *stack {
	t.Helper()
	sink, err := audit.OpenFileSink(filepath.Join(t.TempDir(), "ledger-audit.jsonl"))
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	params := token.Params{
		Config: ledger.Config{
			Metadata:  ledger.Metadata{Name: "Potato Token", Symbol: "POTATO", Decimals: 18},
			MaxSupply: shared.Units(1_000_000_000, 18),
		},
		Owner:         admin.Identity(),
		InitialSupply: shared.Units(100_000_000, 18),
		Sink:          sink,
	}
	tok, deployed, err := token.Open(context.Background(), params, sink)
	if err != nil || !deployed {
		t.Fatalf("open token: deployed=%t err=%v", deployed, err)
	}

	router := app.NewRouter(app.RouterParams{
		Config:         &app.Config{RateLimitPerMinute: 10_000, AppRequestTimeout: 10 * time.Second},
		Verifier:       auth.NewVerifier(auth.NewMemoryNonceStore(), time.Minute, nil),
		TokenHandler:   tokenhttp.NewHandler(nil, tok),
		AuditHandler:   audithttp.NewHandler(nil, audit.NewService(sink)),
		RBACMiddleware: rbac.Middleware{Registry: tok.Roles},
		Metrics:        observability.NewMetrics(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &stack{tok: tok, sink: sink, params: params, url: srv.URL}
}

func remote(t *testing.T, url string, signer *auth.Signer) *client.Client {
	t.Helper()
	c, err := client.New(url, signer, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestDeployRewardAndRestart(t *testing.T) {
	ctx := context.Background()
	admin, err := auth.NewSigner(adminKey)
	if err != nil {
		t.Fatalf("admin key: %v", err)
	}
	game, err := auth.NewSigner(gameKey)
	if err != nil {
		t.Fatalf("game key: %v", err)
	}
	s := startStack(t, admin)
	adminClient := remote(t, s.url, admin)

	plan, err := deployment.DefaultPlan("e2e", 18, map[rewards.Kind]shared.Identity{rewards.KindGame: game.Identity()})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	rec, err := deployment.Apply(ctx, adminClient, admin.Identity(), plan, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(rec.Pools) != 1 || !rec.Pools[0].GrantedRole || !rec.Pools[0].Funded {
		t.Fatalf("unexpected deployment record: %+v", rec.Pools)
	}
	if got := s.tok.Ledger.TotalSupply(); !got.Eq(shared.Units(140_000_000, 18)) {
		t.Fatalf("total supply after deploy = %s", got.Dec())
	}

	issuer, err := rewards.NewIssuer(rewards.KindGame, game.Identity(), remote(t, s.url, game), rewards.NewMemoryClaims())
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	grants := jobs.NewRewardGrantJob(rewards.Issuers{rewards.KindGame: issuer}, nil, nil)
	reward := shared.Units(25, 18)
	task, err := jobs.NewRewardGrantTask(jobs.RewardGrantPayload{ClaimID: "spin-1", Issuer: "game", To: player.String(), Amount: reward.Dec()})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := grants.Handle(ctx, task); err != nil {
			t.Fatalf("grant delivery %d: %v", i, err)
		}
	}
	if got := s.tok.Ledger.BalanceOf(player); !got.Eq(reward) {
		t.Fatalf("player balance = %s, want %s", got.Dec(), reward.Dec())
	}

	if err := adminClient.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, err := jobs.NewRewardGrantTask(jobs.RewardGrantPayload{ClaimID: "spin-2", Issuer: "game", To: player.String(), Amount: reward.Dec()})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if err := grants.Handle(ctx, paused); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("grant while paused: got %v, want SkipRetry", err)
	}
	if err := adminClient.Unpause(ctx); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := grants.Handle(ctx, paused); err != nil {
		t.Fatalf("grant after unpause: %v", err)
	}

	integrity := jobs.NewSupplyIntegrityJob(s.sink, s.params.Config.MaxSupply, s.tok.Ledger, nil, nil)
	state, err := integrity.Check(ctx)
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if state.Paused {
		t.Fatal("replayed state still paused")
	}

	restored, deployed, err := token.Open(ctx, s.params, s.sink)
	if err != nil || deployed {
		t.Fatalf("reopen: deployed=%t err=%v", deployed, err)
	}
	if got := restored.Ledger.BalanceOf(player); !got.Eq(shared.Units(50, 18)) {
		t.Fatalf("restored player balance = %s", got.Dec())
	}
	if !restored.Roles.HasRole(shared.RoleMinter, game.Identity()) {
		t.Fatal("restored token lost the game issuer's MINTER role")
	}
}

func TestSignedTransferIsAudited(t *testing.T) {
	ctx := context.Background()
	admin, err := auth.NewSigner(adminKey)
	if err != nil {
		t.Fatalf("admin key: %v", err)
	}
	s := startStack(t, admin)
	if err := remote(t, s.url, admin).Transfer(ctx, player, shared.Units(1, 18)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	records, err := s.sink.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	last := records[len(records)-1]
	if last.Kind != audit.KindTransferred || last.To != player {
		t.Fatalf("last record = %s", last.Describe())
	}
	if _, err := audit.Replay(audit.Sequence(records)); err != nil {
		t.Fatalf("replay: %v", err)
	}
}
