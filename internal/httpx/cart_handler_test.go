package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storecraft/checkout-saga/internal/cart"
)

func newCartRouter(t *testing.T) *chi.Mux {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRouter()
	(&CartHandler{Carts: &cart.Store{RDB: rdb, TTL: time.Hour}}).Register(r)
	return r
}

func do(r http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCartRequiresUser(t *testing.T) {
	r := newCartRouter(t)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/cart", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/cart/items", "", `{"product_id":"p1","quantity":1}`).Code)
}

func TestCartAddGetRemoveClear(t *testing.T) {
	r := newCartRouter(t)

	w := do(r, http.MethodPost, "/cart/items", "u1", `{"product_id":"p1","quantity":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var c cart.Cart
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, map[string]int{"p1": 2}, c.Items)

	w = do(r, http.MethodGet, "/cart", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, map[string]int{"p1": 2}, c.Items)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/cart/items/p1", "u1", "").Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/cart", "u1", "").Code)

	w = do(r, http.MethodGet, "/cart", "u1", "")
	c = cart.Cart{} // json.Unmarshal merges into a non-nil map; start fresh
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Empty(t, c.Items)
}

func TestCartAddValidation(t *testing.T) {
	r := newCartRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/cart/items", "u1", `{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/cart/items", "u1", `{"product_id":"","quantity":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/cart/items", "u1", `{"product_id":"p1","quantity":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/cart/items", "u1", `{"product_id":"p1","quantity":101}`).Code)
}

func TestCartsAreIsolatedPerUser(t *testing.T) {
	r := newCartRouter(t)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/cart/items", "u1", `{"product_id":"p1","quantity":1}`).Code)

	var c cart.Cart
	w := do(r, http.MethodGet, "/cart", "u2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Empty(t, c.Items)
}
