package tokenhttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/platform/httpx"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/internal/token"
)

// Handler serves the ledger over HTTP.
type Handler struct {
	logger    *slog.Logger
	token     *token.Token
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, tok *token.Token) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, token: tok, validator: validator.New()}
}

// TokenInfo is the body of GET /token.
type TokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	MaxSupply   string `json:"max_supply"`
	Paused      bool   `json:"paused"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type allowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
	Unlimited bool   `json:"unlimited"`
}

type roleResponse struct {
	Role    shared.Role `json:"role"`
	Address string      `json:"address"`
	Granted bool        `json:"granted"`
}

type membersResponse struct {
	Role    shared.Role       `json:"role"`
	Members []shared.Identity `json:"members"`
}

type mintRequest struct {
	To     string `json:"to" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,number"`
}

type burnRequest struct {
	Amount string `json:"amount" validate:"required,number"`
}

type burnFromRequest struct {
	Owner  string `json:"owner" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,number"`
}

type transferRequest struct {
	To     string `json:"to" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,number"`
}

type transferFromRequest struct {
	From   string `json:"from" validate:"required,eth_addr"`
	To     string `json:"to" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,number"`
}

type approveRequest struct {
	Spender string `json:"spender" validate:"required,eth_addr"`
	Amount  string `json:"amount" validate:"required,number"`
}

type roleRequest struct {
	Role    string `json:"role" validate:"required"`
	Account string `json:"account" validate:"required,eth_addr"`
}

type renounceRequest struct {
	Role string `json:"role" validate:"required"`
}

type okResponse struct {
	Status string `json:"status"`
}

func (h *Handler) handleToken(w http.ResponseWriter, _ *http.Request) {
	meta := h.token.Ledger.Metadata()
	httpx.JSON(w, http.StatusOK, TokenInfo{
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		TotalSupply: h.token.Ledger.TotalSupply().Dec(),
		MaxSupply:   h.token.Ledger.MaxSupply().Dec(),
		Paused:      h.token.Gate.IsPaused(),
	})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseIdentity(chi.URLParam(r, "address"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		Address: id.String(),
		Balance: h.token.Ledger.BalanceOf(id).Dec(),
	})
}

func (h *Handler) handleAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := shared.ParseIdentity(chi.URLParam(r, "owner"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	spender, err := shared.ParseIdentity(chi.URLParam(r, "spender"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v := h.token.Allowances.Allowance(owner, spender)
	httpx.JSON(w, http.StatusOK, allowanceResponse{
		Owner:     owner.String(),
		Spender:   spender.String(),
		Allowance: v.Dec(),
		Unlimited: audit.IsUnlimited(v),
	})
}

func (h *Handler) handleHasRole(w http.ResponseWriter, r *http.Request) {
	role, err := shared.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := shared.ParseIdentity(chi.URLParam(r, "address"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleResponse{Role: role, Address: id.String(), Granted: h.token.Roles.HasRole(role, id)})
}

func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request) {
	role, err := shared.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	members := h.token.Roles.Members(role)
	if members == nil {
		members = []shared.Identity{}
	}
	httpx.JSON(w, http.StatusOK, membersResponse{Role: role, Members: members})
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, amount, err := parseTarget(req.To, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "mint", h.session(r).Mint(r.Context(), to, amount))
}

func (h *Handler) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req burnRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "burn", h.session(r).Burn(r.Context(), amount))
}

func (h *Handler) handleBurnFrom(w http.ResponseWriter, r *http.Request) {
	var req burnFromRequest
	if !h.decode(w, r, &req) {
		return
	}
	owner, amount, err := parseTarget(req.Owner, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "burn_from", h.session(r).BurnFrom(r.Context(), owner, amount))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, amount, err := parseTarget(req.To, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "transfer", h.session(r).Transfer(r.Context(), to, amount))
}

func (h *Handler) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	var req transferFromRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, err := shared.ParseIdentity(req.From)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, amount, err := parseTarget(req.To, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "transfer_from", h.session(r).TransferFrom(r.Context(), from, to, amount))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !h.decode(w, r, &req) {
		return
	}
	spender, amount, err := parseTarget(req.Spender, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "approve", h.session(r).Approve(r.Context(), spender, amount))
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, account, err := parseRoleTarget(req.Role, req.Account)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "grant_role", h.session(r).GrantRole(r.Context(), role, account))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, account, err := parseRoleTarget(req.Role, req.Account)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "revoke_role", h.session(r).RevokeRole(r.Context(), role, account))
}

func (h *Handler) handleRenounce(w http.ResponseWriter, r *http.Request) {
	var req renounceRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := shared.ParseRole(req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "renounce_role", h.session(r).RenounceRole(r.Context(), role))
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "pause", h.session(r).Pause(r.Context()))
}

func (h *Handler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "unpause", h.session(r).Unpause(r.Context()))
}

// session binds the authenticated caller. Routes without a caller never reach
// here because the verifier rejects them first; a missing caller acts as the
// null identity and fails authorization.
func (h *Handler) session(r *http.Request) *token.Session {
	caller, _ := shared.CallerFromContext(r.Context())
	return h.token.As(caller)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, ", ")))
			return false
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	if err != nil {
		status, _ := httpx.StatusOf(err)
		if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
			h.logger.Error(op+" failed", slog.Any("error", err))
		} else {
			h.logger.Debug(op+" rejected", slog.String("kind", shared.KindOf(err)), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, okResponse{Status: "ok"})
}

func parseTarget(rawID, rawAmount string) (shared.Identity, *uint256.Int, error) {
	id, err := shared.ParseIdentity(rawID)
	if err != nil {
		return shared.NullIdentity, nil, err
	}
	amount, err := shared.ParseAmount(rawAmount)
	if err != nil {
		return shared.NullIdentity, nil, err
	}
	return id, amount, nil
}

func parseRoleTarget(rawRole, rawID string) (shared.Role, shared.Identity, error) {
	role, err := shared.ParseRole(rawRole)
	if err != nil {
		return "", shared.NullIdentity, err
	}
	id, err := shared.ParseIdentity(rawID)
	if err != nil {
		return "", shared.NullIdentity, err
	}
	return role, id, nil
}
