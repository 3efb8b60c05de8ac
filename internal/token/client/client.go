// Package client calls a remote potatod ledger as one signing identity.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/auth"
	"github.com/potatospin/potatospin/internal/platform/httpx"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/internal/token"
	tokenhttp "github.com/potatospin/potatospin/internal/token/http"
)

// Client implements token.Client against the HTTP API.
type Client struct {
	base   *url.URL
	http   *http.Client
	signer *auth.Signer
}

var _ token.Client = (*Client)(nil)

// New builds a client. signer may be nil for read-only use.
func New(baseURL string, signer *auth.Signer, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: u, http: httpClient, signer: signer}, nil
}

// Identity returns the signing identity, or the null identity for read-only clients.
func (c *Client) Identity() shared.Identity {
	if c.signer == nil {
		return shared.NullIdentity
	}
	return c.signer.Identity()
}

func (c *Client) Mint(ctx context.Context, to shared.Identity, amount *uint256.Int) error {
	return c.post(ctx, "/mint", map[string]string{"to": to.String(), "amount": amount.Dec()})
}

func (c *Client) Burn(ctx context.Context, amount *uint256.Int) error {
	return c.post(ctx, "/burn", map[string]string{"amount": amount.Dec()})
}

func (c *Client) BurnFrom(ctx context.Context, owner shared.Identity, amount *uint256.Int) error {
	return c.post(ctx, "/burn-from", map[string]string{"owner": owner.String(), "amount": amount.Dec()})
}

func (c *Client) Transfer(ctx context.Context, to shared.Identity, amount *uint256.Int) error {
	return c.post(ctx, "/transfer", map[string]string{"to": to.String(), "amount": amount.Dec()})
}

func (c *Client) TransferFrom(ctx context.Context, owner, to shared.Identity, amount *uint256.Int) error {
	return c.post(ctx, "/transfer-from", map[string]string{"from": owner.String(), "to": to.String(), "amount": amount.Dec()})
}

func (c *Client) Approve(ctx context.Context, spender shared.Identity, amount *uint256.Int) error {
	return c.post(ctx, "/approve", map[string]string{"spender": spender.String(), "amount": amount.Dec()})
}

func (c *Client) GrantRole(ctx context.Context, role shared.Role, account shared.Identity) error {
	return c.post(ctx, "/roles/grant", map[string]string{"role": string(role), "account": account.String()})
}

func (c *Client) RevokeRole(ctx context.Context, role shared.Role, account shared.Identity) error {
	return c.post(ctx, "/roles/revoke", map[string]string{"role": string(role), "account": account.String()})
}

func (c *Client) RenounceRole(ctx context.Context, role shared.Role) error {
	return c.post(ctx, "/roles/renounce", map[string]string{"role": string(role)})
}

func (c *Client) Pause(ctx context.Context) error {
	return c.post(ctx, "/pause", struct{}{})
}

func (c *Client) Unpause(ctx context.Context) error {
	return c.post(ctx, "/unpause", struct{}{})
}

func (c *Client) HasRole(ctx context.Context, role shared.Role, account shared.Identity) (bool, error) {
	var out struct {
		Granted bool `json:"granted"`
	}
	if err := c.get(ctx, "/roles/"+string(role)+"/"+account.String(), &out); err != nil {
		return false, err
	}
	return out.Granted, nil
}

func (c *Client) BalanceOf(ctx context.Context, account shared.Identity) (*uint256.Int, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.get(ctx, "/balances/"+account.String(), &out); err != nil {
		return nil, err
	}
	return shared.ParseAmount(out.Balance)
}

// Allowance reads the remaining allowance of spender over owner.
func (c *Client) Allowance(ctx context.Context, owner, spender shared.Identity) (*uint256.Int, error) {
	var out struct {
		Allowance string `json:"allowance"`
	}
	if err := c.get(ctx, "/allowances/"+owner.String()+"/"+spender.String(), &out); err != nil {
		return nil, err
	}
	return shared.ParseAmount(out.Allowance)
}

// Members lists the holders of role.
func (c *Client) Members(ctx context.Context, role shared.Role) ([]shared.Identity, error) {
	var out struct {
		Members []shared.Identity `json:"members"`
	}
	if err := c.get(ctx, "/roles/"+string(role), &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// Info reads token metadata and supply.
func (c *Client) Info(ctx context.Context) (tokenhttp.TokenInfo, error) {
	var out tokenhttp.TokenInfo
	err := c.get(ctx, "/token", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath(path).String(), nil)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	return c.do(req, target)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c.signer == nil {
		return fmt.Errorf("client: %s requires a signing key", path)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.signer.Sign(req, body); err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return decodeProblem(resp.StatusCode, data)
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

var errorsByTitle = map[string]error{
	"InvalidArgument":     shared.ErrInvalidArgument,
	"Unauthorized":        shared.ErrUnauthorized,
	"NotFound":            shared.ErrNotFound,
	"InsufficientBalance": shared.ErrInsufficientBalance,
	"CapacityExceeded":    shared.ErrCapacityExceeded,
	"InvalidOperation":    shared.ErrInvalidOperation,
	"Overflow":            shared.ErrOverflow,
	"Paused":              shared.ErrPaused,
	"AuditUnavailable":    shared.ErrAuditUnavailable,
	"Validation Failed":   httpx.ErrValidation,
	"Unauthenticated":     httpx.ErrUnauthenticated,
}

// RemoteError is a non-2xx response that did not map to a known error kind.
type RemoteError struct {
	Status int
	Title  string
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("remote %d %s", e.Status, e.Title)
	}
	return fmt.Sprintf("remote %d %s: %s", e.Status, e.Title, e.Detail)
}

func decodeProblem(status int, data []byte) error {
	var problem httpx.ProblemDetail
	if err := json.Unmarshal(data, &problem); err != nil || problem.Title == "" {
		return &RemoteError{Status: status, Title: http.StatusText(status), Detail: strings.TrimSpace(string(data))}
	}
	if sentinel, ok := errorsByTitle[problem.Title]; ok {
		return fmt.Errorf("%w: %s", sentinel, problem.Detail)
	}
	return &RemoteError{Status: status, Title: problem.Title, Detail: problem.Detail}
}

// IsRemote reports whether err came from an unmapped server response.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
