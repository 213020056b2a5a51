package odoo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/odoo-poller/internal/adapter/erp/odoo"
	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

type rpcCall struct {
	Params struct {
		Service string `json:"service"`
		Method  string `json:"method"`
		Args    []any  `json:"args"`
	} `json:"params"`
}

// fakeOdoo serves /jsonrpc with a scriptable handler per call.
func fakeOdoo(t *testing.T, handle func(call rpcCall) (any, map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jsonrpc", r.URL.Path)
		var call rpcCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		result, rpcErr := handle(call)
		resp := map[string]any{"jsonrpc": "2.0"}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClient_AuthenticateCachesUID(t *testing.T) {
	t.Parallel()
	var authCalls atomic.Int32
	srv := fakeOdoo(t, func(call rpcCall) (any, map[string]any) {
		require.Equal(t, "common", call.Params.Service)
		require.Equal(t, "authenticate", call.Params.Method)
		authCalls.Add(1)
		return 7, nil
	})
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
	uid, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)

	uid, err = c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)
	assert.Equal(t, int32(1), authCalls.Load())
}

func TestClient_AuthenticateRejected(t *testing.T) {
	t.Parallel()
	// Odoo answers a bad login with result false, not an error member.
	srv := fakeOdoo(t, func(rpcCall) (any, map[string]any) { return false, nil })
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "bad", srv.Client())
	_, err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestClient_SearchRead(t *testing.T) {
	t.Parallel()
	srv := fakeOdoo(t, func(call rpcCall) (any, map[string]any) {
		if call.Params.Service == "common" {
			return 3, nil
		}
		require.Equal(t, "object", call.Params.Service)
		require.Equal(t, "execute_kw", call.Params.Method)
		// args: db, uid, key, model, method, args, kwargs
		require.Len(t, call.Params.Args, 7)
		assert.Equal(t, "sale.order", call.Params.Args[3])
		assert.Equal(t, "search_read", call.Params.Args[4])
		kwargs, ok := call.Params.Args[6].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(5), kwargs["limit"])
		assert.Equal(t, "write_date asc", kwargs["order"])
		return []map[string]any{
			{"id": 1, "name": "SO001", "partner_id": []any{10, "ACME"}},
			{"id": 2, "name": "SO002", "partner_id": false},
		}, nil
	})
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
	records, err := c.SearchRead(context.Background(), "sale.order",
		[]any{[]any{"state", "in", []string{"sale", "done"}}},
		[]string{"name", "partner_id"}, 5, "write_date asc")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "SO001", records[0].Str("name"))
	ref := records[0].RefVal("partner_id")
	assert.True(t, ref.Set)
	assert.Equal(t, int64(10), ref.ID)
	assert.Equal(t, "ACME", ref.Name)
	assert.False(t, records[1].RefVal("partner_id").Set)
}

func TestClient_ReadEmptyIDsSkipsRoundTrip(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := fakeOdoo(t, func(rpcCall) (any, map[string]any) {
		calls.Add(1)
		return 1, nil
	})
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
	records, err := c.Read(context.Background(), "res.partner", nil, []string{"name"})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, calls.Load())
}

func TestClient_RateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
	_, err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestClient_RPCErrorClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		msg  string
		want error
	}{
		{"session expired", "Session expired", domain.ErrAuth},
		{"access denied", "Access Denied", domain.ErrAuth},
		{"authenticate anywhere", "please re-Authenticate", domain.ErrAuth},
		{"other", "Invalid field on sale.order", domain.ErrRPC},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := fakeOdoo(t, func(call rpcCall) (any, map[string]any) {
				return nil, map[string]any{
					"message": "RPC error",
					"data":    map[string]any{"message": tc.msg},
				}
			})
			defer srv.Close()

			c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
			_, err := c.Authenticate(context.Background())
			require.ErrorIs(t, err, tc.want)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestClient_ReauthenticatesOnceOnExpiredSession(t *testing.T) {
	t.Parallel()
	var objectCalls, authCalls atomic.Int32
	srv := fakeOdoo(t, func(call rpcCall) (any, map[string]any) {
		if call.Params.Service == "common" {
			authCalls.Add(1)
			return 9, nil
		}
		if objectCalls.Add(1) == 1 {
			return nil, map[string]any{"message": "Session expired"}
		}
		return []map[string]any{{"id": 1}}, nil
	})
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
	records, err := c.SearchRead(context.Background(), "sale.order", []any{}, []string{"name"}, 0, "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), objectCalls.Load())
	assert.Equal(t, int32(2), authCalls.Load())
}

func TestClient_PersistentAuthFailurePropagates(t *testing.T) {
	t.Parallel()
	var authCalls atomic.Int32
	srv := fakeOdoo(t, func(call rpcCall) (any, map[string]any) {
		if call.Params.Service == "common" {
			if authCalls.Add(1) == 1 {
				return 9, nil
			}
			return false, nil
		}
		return nil, map[string]any{"message": "Session expired"}
	})
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
	_, err := c.SearchRead(context.Background(), "sale.order", []any{}, []string{"name"}, 0, "")
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestClient_ExecuteKw(t *testing.T) {
	t.Parallel()
	srv := fakeOdoo(t, func(call rpcCall) (any, map[string]any) {
		if call.Params.Service == "common" {
			return 2, nil
		}
		assert.Equal(t, "res.partner", call.Params.Args[3])
		assert.Equal(t, "search_count", call.Params.Args[4])
		return 42, nil
	})
	defer srv.Close()

	c := odoo.NewClient(srv.URL, "db", "user", "key", srv.Client())
	out, err := c.ExecuteKw(context.Background(), "res.partner", "search_count", []any{[]any{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}
