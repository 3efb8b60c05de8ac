package tokenhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers read endpoints publicly and mutating endpoints behind
// authn, which must place the caller in the request context.
func (h *Handler) MountRoutes(r chi.Router, authn func(http.Handler) http.Handler) {
	if h == nil {
		return
	}
	r.Get("/token", h.handleToken)
	r.Get("/balances/{address}", h.handleBalance)
	r.Get("/allowances/{owner}/{spender}", h.handleAllowance)
	r.Get("/roles/{role}", h.handleMembers)
	r.Get("/roles/{role}/{address}", h.handleHasRole)

	r.Group(func(gr chi.Router) {
		if authn != nil {
			gr.Use(authn)
		}
		gr.Post("/mint", h.handleMint)
		gr.Post("/burn", h.handleBurn)
		gr.Post("/burn-from", h.handleBurnFrom)
		gr.Post("/transfer", h.handleTransfer)
		gr.Post("/transfer-from", h.handleTransferFrom)
		gr.Post("/approve", h.handleApprove)
		gr.Post("/roles/grant", h.handleGrant)
		gr.Post("/roles/revoke", h.handleRevoke)
		gr.Post("/roles/renounce", h.handleRenounce)
		gr.Post("/pause", h.handlePause)
		gr.Post("/unpause", h.handleUnpause)
	})
}
