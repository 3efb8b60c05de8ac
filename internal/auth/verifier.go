package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/potatospin/potatospin/internal/platform/httpx"
	"github.com/potatospin/potatospin/internal/shared"
)

const maxSignedBody = 1 << 20

// ErrReplay is returned for a signature that was already accepted.
var ErrReplay = errors.New("auth: signature replayed")

// Verifier checks request signatures and puts the caller in the request context.
type Verifier struct {
	nonces  NonceStore
	maxSkew time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewVerifier(nonces NonceStore, maxSkew time.Duration, logger *slog.Logger) *Verifier {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{nonces: nonces, maxSkew: maxSkew, now: time.Now, logger: logger}
}

// Authenticate validates the signature headers against method, path and body.
func (v *Verifier) Authenticate(ctx context.Context, method, path string, header http.Header, body []byte) (shared.Identity, error) {
	claimed, err := shared.ParseIdentity(header.Get(HeaderAddress))
	if err != nil {
		return shared.NullIdentity, fmt.Errorf("%w: address header", ErrBadSignature)
	}
	tsRaw := strings.TrimSpace(header.Get(HeaderTimestamp))
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return shared.NullIdentity, fmt.Errorf("%w: timestamp header", ErrBadSignature)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < -v.maxSkew || skew > v.maxSkew {
		return shared.NullIdentity, fmt.Errorf("%w: timestamp outside %s window", ErrBadSignature, v.maxSkew)
	}
	nonce := strings.TrimSpace(header.Get(HeaderNonce))
	if _, err := uuid.Parse(nonce); err != nil {
		return shared.NullIdentity, fmt.Errorf("%w: nonce header", ErrBadSignature)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(header.Get(HeaderSignature)))
	if err != nil {
		return shared.NullIdentity, fmt.Errorf("%w: signature header", ErrBadSignature)
	}
	signer, err := Recover(SigningPayload(method, path, tsRaw, nonce, body), sig)
	if err != nil {
		return shared.NullIdentity, err
	}
	if signer != claimed {
		return shared.NullIdentity, fmt.Errorf("%w: signed by %s, claimed %s", ErrBadSignature, signer, claimed)
	}
	fresh, err := v.nonces.Claim(ctx, signer.String()+":"+nonce, 2*v.maxSkew)
	if err != nil {
		return shared.NullIdentity, err
	}
	if !fresh {
		return shared.NullIdentity, ErrReplay
	}
	return signer, nil
}

// Middleware rejects unsigned or invalid requests with 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBody))
		if err != nil {
			httpx.Problem(w, http.StatusRequestEntityTooLarge, "Validation Failed", "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := v.Authenticate(r.Context(), r.Method, r.URL.Path, r.Header, body)
		if err != nil {
			if errors.Is(err, ErrBadSignature) || errors.Is(err, ErrReplay) {
				v.logger.Warn("auth rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthenticated, err))
				return
			}
			v.logger.Error("auth nonce store", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithCaller(r.Context(), caller)))
	})
}
