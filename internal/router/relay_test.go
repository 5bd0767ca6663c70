package router

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRelay(t *testing.T, opts RelayOptions) *Relay {
	t.Helper()
	return NewRelay(opts, NewMetrics(nil), zap.NewNop())
}

func TestRelayForwardsCallerAPIKey(t *testing.T) {
	var gotKey, gotTrace, gotContentType string
	var gotBody map[string]interface{}

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotTrace = r.Header.Get("X-Trace-ID")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer provider.Close()

	relay := newTestRelay(t, RelayOptions{CredentialMode: CredentialForward})

	resp, err := relay.Call(context.Background(), provider.URL+"/api/v1/do",
		map[string]interface{}{"item_id": "sku-1"},
		"agent-consumer", "agent-provider", "sk-caller-key", "trace-xyz")
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "sk-caller-key", gotKey)
	assert.Equal(t, "trace-xyz", gotTrace)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "sku-1", gotBody["item_id"])
}

func TestRelayServiceModeMintsGatewayToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var gotToken, gotKey string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Gateway-Token")
		gotKey = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer provider.Close()

	relay := newTestRelay(t, RelayOptions{
		CredentialMode: CredentialService,
		Signer:         NewServiceTokenSigner(priv, time.Minute),
	})

	_, err = relay.Call(context.Background(), provider.URL,
		map[string]interface{}{}, "agent-consumer", "agent-provider", "sk-caller-key", "")
	require.NoError(t, err)

	// Ключ вызывающего дальше шлюза не уходит
	assert.Empty(t, gotKey)
	require.NotEmpty(t, gotToken)

	// Токен верифицируется публичным ключом шлюза и связывает пару агентов
	parsed, err := jwt.ParseWithClaims(gotToken, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) { return pub, nil },
		jwt.WithValidMethods([]string{"EdDSA"}))
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "agent-consumer", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{"agent-provider"}, claims.Audience)
	assert.NotEmpty(t, claims.ID)
}

func TestRelayTimeoutIsUnavailable(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer provider.Close()

	relay := newTestRelay(t, RelayOptions{Timeout: 20 * time.Millisecond})

	_, err := relay.Call(context.Background(), provider.URL,
		map[string]interface{}{}, "c", "p", "", "")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestRelaySurvivesClientDisconnect(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer provider.Close()

	relay := newTestRelay(t, RelayOptions{Timeout: time.Second})

	// Клиент отваливается сразу — вызов провайдера все равно довозится до конца
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := relay.Call(ctx, provider.URL, map[string]interface{}{}, "c", "p", "", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelayProviderStatusNotAnError(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer provider.Close()

	relay := newTestRelay(t, RelayOptions{})

	resp, err := relay.Call(context.Background(), provider.URL,
		map[string]interface{}{}, "c", "p", "", "")
	// 5xx провайдера — это его ответ, а не сбой relay
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
