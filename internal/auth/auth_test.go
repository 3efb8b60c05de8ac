package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatospin/potatospin/internal/shared"
)

// Well-known test key; address 0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf.
const testKey = "0000000000000000000000000000000000000000000000000000000000000001"

func newVerifier(t *testing.T) (*Verifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewVerifier(NewRedisNonceStore(client, "test:nonce:"), time.Minute, nil), mr
}

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := shared.CallerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Body", string(body))
		_, _ = w.Write([]byte(caller.String()))
	})
}

func signedRequest(t *testing.T, signer *Signer, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/transfer", bytes.NewBufferString(body))
	require.NoError(t, signer.Sign(req, []byte(body)))
	return req
}

func TestSignerIdentity(t *testing.T) {
	signer, err := NewSigner("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", signer.Identity().String())

	_, err = NewSigner("not-a-key")
	assert.Error(t, err)
}

func TestMiddlewareAcceptsSignedRequest(t *testing.T) {
	verifier, _ := newVerifier(t)
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	verifier.Middleware(echoCaller()).ServeHTTP(rr, signedRequest(t, signer, `{"to":"x"}`))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, signer.Identity().String(), rr.Body.String())
	assert.Equal(t, `{"to":"x"}`, rr.Header().Get("X-Body"))
}

func TestMiddlewareRejections(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(r *http.Request)
	}{
		{"unsigned", func(r *http.Request) { r.Header.Del(HeaderSignature) }},
		{"swapped nonce", func(r *http.Request) { r.Header.Set(HeaderNonce, "7d444840-9dc0-11d1-b245-5ffdce74fad2") }},
		{"tampered body", func(r *http.Request) { r.Body = io.NopCloser(bytes.NewBufferString(`{"to":"y"}`)) }},
		{"other path", func(r *http.Request) { r.URL.Path = "/mint" }},
		{"wrong claimed address", func(r *http.Request) {
			r.Header.Set(HeaderAddress, NewSignerFromKey(other).Identity().String())
		}},
		{"stale timestamp", func(r *http.Request) {
			r.Header.Set(HeaderTimestamp, "1000")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier, _ := newVerifier(t)
			req := signedRequest(t, signer, `{"to":"x"}`)
			tc.mutate(req)
			rr := httptest.NewRecorder()
			verifier.Middleware(echoCaller()).ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestMiddlewareRejectsReplay(t *testing.T) {
	verifier, mr := newVerifier(t)
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	first := signedRequest(t, signer, `{}`)
	replay := first.Clone(context.Background())
	replay.Body = io.NopCloser(bytes.NewBufferString(`{}`))

	rr := httptest.NewRecorder()
	verifier.Middleware(echoCaller()).ServeHTTP(rr, first)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	verifier.Middleware(echoCaller()).ServeHTTP(rr, replay)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Len(t, mr.Keys(), 1)
}

func TestRecoverAcceptsBothRecoveryIDForms(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/burn", nil)
	signer := NewSignerFromKey(key)
	signer.now = func() time.Time { return time.Unix(1, 0) }
	require.NoError(t, signer.Sign(req, []byte("{}")))
	payload := SigningPayload("POST", "/burn", "1", req.Header.Get(HeaderNonce), []byte("{}"))

	sig, err := hexutil.Decode(req.Header.Get(HeaderSignature))
	require.NoError(t, err)
	id, err := Recover(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Identity(), id)

	sig[crypto.RecoveryIDOffset] -= 27
	id, err = Recover(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Identity(), id)

	_, err = Recover(payload, sig[:10])
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestIdenticalRequestsGetDistinctNonces(t *testing.T) {
	verifier, _ := newVerifier(t)
	signer, err := NewSigner(testKey)
	require.NoError(t, err)
	signer.now = func() time.Time { return time.Now().Truncate(time.Hour) }
	verifier.now = signer.now

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		verifier.Middleware(echoCaller()).ServeHTTP(rr, signedRequest(t, signer, `{}`))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestMemoryNonceStoreExpires(t *testing.T) {
	store := NewMemoryNonceStore()
	now := time.Unix(100, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.Claim(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = store.Claim(ctx, "a", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = store.Claim(ctx, "a", time.Minute)
	assert.True(t, ok)
}
