package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		Shop:        "test-shop.myshopify.com",
		AccessToken: "shpat_test",
		Endpoint:    srv.URL,
	})
}

func TestClientQueryDecodesData(t *testing.T) {
	var gotToken string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Variables["first"] != float64(5) {
			t.Errorf("variables not forwarded: %v", req.Variables)
		}
		w.Write([]byte(`{"data":{"shop":{"name":"Test Shop"}}}`))
	})

	var out struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	err := client.Query(context.Background(), `query { shop { name } }`, map[string]any{"first": 5}, &out)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if out.Shop.Name != "Test Shop" {
		t.Errorf("decoded shop name = %q, want Test Shop", out.Shop.Name)
	}
	if gotToken != "shpat_test" {
		t.Errorf("access token header = %q, want shpat_test", gotToken)
	}
}

func TestClientQueryTopLevelErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Field 'bogus' doesn't exist"}]}`))
	})

	err := client.Query(context.Background(), `query { bogus }`, nil, nil)
	var gqlErr *GraphQLError
	if !errors.As(err, &gqlErr) {
		t.Fatalf("want *GraphQLError, got %T: %v", err, err)
	}
	if len(gqlErr.Errors) != 1 || gqlErr.Errors[0].Message != "Field 'bogus' doesn't exist" {
		t.Errorf("unexpected error payload: %+v", gqlErr.Errors)
	}
}

func TestClientQueryAuthError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.Query(context.Background(), `query { shop { name } }`, nil, nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want *AuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", authErr.StatusCode)
	}
}

func TestClientQueryThrottledRetriesOnce(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{
				"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}],
				"extensions":{"cost":{"requestedQueryCost":10,"throttleStatus":{"maximumAvailable":1000,"currentlyAvailable":9.9,"restoreRate":50}}}
			}`))
			return
		}
		w.Write([]byte(`{"data":{"ok":true}}`))
	})

	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.Query(context.Background(), `query { ok }`, nil, &out); err != nil {
		t.Fatalf("Query after throttle retry returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2 (throttled then retried)", calls)
	}
	if !out.OK {
		t.Error("retried response not decoded")
	}
}
