package handlers

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftrarity/internal/auth"
	"nftrarity/internal/ledger"
	"nftrarity/internal/models"
	"nftrarity/internal/repository"
	"nftrarity/internal/service"
)

type testAPI struct {
	app   *fiber.App
	store *repository.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	cache := repository.NewRedisRepository(client)

	items := make([]models.Item, 0, 10)
	for id := 1; id <= 10; id++ {
		colour := "Blue"
		if id == 1 {
			colour = "Red"
		}
		items = append(items, models.Item{TokenID: id, Attributes: []models.Attribute{{TraitType: "Background", Value: colour}}})
	}
	require.NoError(t, store.UpsertItems(context.Background(), items))

	ranking := service.NewRankingService(store, cache, nil, nil, nil, log)
	_, err := ranking.Rebuild(context.Background())
	require.NoError(t, err)

	h := New(Deps{
		Ranking:  ranking,
		Accounts: service.NewAccountService(auth.NewAuthenticator(cache, cache, log), store, log),
		Staking:  service.NewStakingService(ledger.New(store, cache, log), store, nil, log),
		Health:   service.NewHealthService(store, cache),
		Logger:   log,
	})
	app := fiber.New()
	h.Register(app.Group("/api/v1"))
	return &testAPI{app: app, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, session string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

// login runs the nonce and verify round trip for key and returns the session id
func (a *testAPI) login(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	resp, body := a.do(t, http.MethodGet, "/api/v1/auth/nonce?walletAddress="+addr, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	nonce := body["nonce"].(string)

	sig, err := crypto.Sign(accounts.TextHash([]byte(auth.ChallengeMessage(nonce))), key)
	require.NoError(t, err)

	resp, body = a.do(t, http.MethodPost, "/api/v1/auth/verify", map[string]string{
		"walletAddress": addr,
		"signature":     hexutil.Encode(sig),
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return body["session_id"].(string)
}

func TestRarityEndpoints(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"ranked item", "/api/v1/rarity/1", http.StatusOK, ""},
		{"unknown item", "/api/v1/rarity/99", http.StatusNotFound, "ITEM_NOT_FOUND"},
		{"bad id", "/api/v1/rarity/abc", http.StatusBadRequest, "INVALID_ITEM_ID"},
		{"zero id", "/api/v1/rarity/0", http.StatusBadRequest, "INVALID_ITEM_ID"},
		{"item", "/api/v1/items/2", http.StatusOK, ""},
		{"top items", "/api/v1/leaderboard/top-items?limit=500", http.StatusOK, ""},
		{"traits", "/api/v1/traits", http.StatusOK, ""},
		{"health", "/api/v1/health", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := api.do(t, http.MethodGet, tt.path, nil, "")
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			}
		})
	}

	_, body := api.do(t, http.MethodGet, "/api/v1/rarity/1", nil, "")
	assert.Equal(t, float64(1), body["rank"])
	assert.Equal(t, float64(10), body["total"])

	_, body = api.do(t, http.MethodGet, "/api/v1/leaderboard/top-items?limit=500", nil, "")
	assert.Len(t, body["items"], 10)
}

func TestLoginStakeUnstakeFlow(t *testing.T) {
	api := newTestAPI(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sid := api.login(t, key)
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	resp, body := api.do(t, http.MethodGet, "/api/v1/user", nil, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, addr, body["wallet_address"])
	assert.Equal(t, "Bronze", body["tier"])

	resp, _ = api.do(t, http.MethodPost, "/api/v1/stake", map[string]int{"tokenId": 1}, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = api.do(t, http.MethodPost, "/api/v1/stake", map[string]int{"tokenId": 1}, sid)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_STAKED", body["code"])

	resp, body = api.do(t, http.MethodGet, "/api/v1/user/staked", nil, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	item, err := api.store.GetItem(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, item.IsStakedBy(addr))

	resp, _ = api.do(t, http.MethodPost, "/api/v1/unstake", map[string]int{"tokenId": 1}, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = api.do(t, http.MethodPost, "/api/v1/unstake", map[string]int{"tokenId": 1}, sid)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NOT_STAKED", body["code"])

	resp, _ = api.do(t, http.MethodPost, "/api/v1/auth/logout", nil, sid)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = api.do(t, http.MethodGet, "/api/v1/user", nil, sid)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestUnstakeByOtherWallet(t *testing.T) {
	api := newTestAPI(t)
	aliceKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	alice := api.login(t, aliceKey)
	bob := api.login(t, bobKey)

	resp, _ := api.do(t, http.MethodPost, "/api/v1/stake", map[string]int{"tokenId": 3}, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := api.do(t, http.MethodPost, "/api/v1/unstake", map[string]int{"tokenId": 3}, bob)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NOT_OWNER", body["code"])
}

func TestVerifyReplayAndMismatch(t *testing.T) {
	api := newTestAPI(t)
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, body := api.do(t, http.MethodGet, "/api/v1/auth/nonce?walletAddress="+addr, nil, "")
	msg := auth.ChallengeMessage(body["nonce"].(string))

	wrong, _ := crypto.Sign(accounts.TextHash([]byte(msg)), other)
	resp, body := api.do(t, http.MethodPost, "/api/v1/auth/verify", map[string]string{
		"walletAddress": addr, "signature": hexutil.Encode(wrong),
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "SIGNATURE_MISMATCH", body["code"])

	sig, _ := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	payload := map[string]string{"walletAddress": addr, "signature": hexutil.Encode(sig)}
	resp, _ = api.do(t, http.MethodPost, "/api/v1/auth/verify", payload, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = api.do(t, http.MethodPost, "/api/v1/auth/verify", payload, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "NONCE_NOT_FOUND", body["code"])
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t)
	key, _ := crypto.GenerateKey()
	sid := api.login(t, key)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   string
	}{
		{"bad address", http.MethodGet, "/api/v1/auth/nonce?walletAddress=0x123", nil, "INVALID_ADDRESS"},
		{"missing address", http.MethodGet, "/api/v1/auth/nonce", nil, "INVALID_ADDRESS"},
		{"short signature", http.MethodPost, "/api/v1/auth/verify",
			map[string]string{"walletAddress": fmt.Sprintf("0x%040d", 1), "signature": "0x1234"}, "INVALID_REQUEST"},
		{"zero token", http.MethodPost, "/api/v1/stake", map[string]int{"tokenId": 0}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := api.do(t, tt.method, tt.path, tt.body, sid)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestStakeRequiresSession(t *testing.T) {
	api := newTestAPI(t)
	resp, body := api.do(t, http.MethodPost, "/api/v1/stake", map[string]int{"tokenId": 1}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	resp, _ = api.do(t, http.MethodPost, "/api/v1/stake", map[string]int{"tokenId": 1}, "bogus")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionCookie(t *testing.T) {
	api := newTestAPI(t)
	key, _ := crypto.GenerateKey()
	sid := api.login(t, key)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
