package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"pixfunnel/pkg/config"
	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	registry := funnel.NewRegistry()

	s := NewServer(cfg, filepath.Join(dir, "config.json"), db, registry, nil, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func validFunnelBody() map[string]interface{} {
	return map[string]interface{}{
		"name":            "VIP Group",
		"welcome_message": "Bem-vindo!",
		"buttons": []map[string]interface{}{
			{"name": "Mensal", "value": "29,90", "generate_pix": true},
		},
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestFunnelCreateRefreshesRegistry(t *testing.T) {
	s, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/funnels", validFunnelBody())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("expected server-minted funnel id")
	}
	if s.registry.Count() != 1 {
		t.Errorf("registry count = %d, want 1", s.registry.Count())
	}
	if _, ok := s.registry.Get(id); !ok {
		t.Error("funnel not in registry")
	}

	// Buttons get ids minted too.
	f, _ := s.registry.Get(id)
	if f.Buttons[0].ID == "" {
		t.Error("button id not minted")
	}
}

func TestFunnelCreateInvalid(t *testing.T) {
	_, ts := newTestServer(t)

	body := validFunnelBody()
	delete(body, "welcome_message")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/funnels", body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestFunnelValueOverCeilingRejected(t *testing.T) {
	_, ts := newTestServer(t)

	body := validFunnelBody()
	body["buttons"] = []map[string]interface{}{
		{"name": "Caro", "value": "150,01", "generate_pix": true},
	}

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/funnels", body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestFunnelUpdateAndDelete(t *testing.T) {
	s, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/funnels", validFunnelBody())
	id := created["id"].(string)

	update := validFunnelBody()
	update["name"] = "VIP v2"
	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/funnels/"+id, update)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	f, _ := s.registry.Get(id)
	if f.Name != "VIP v2" {
		t.Errorf("registry name = %q", f.Name)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/funnels/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if s.registry.Count() != 0 {
		t.Error("registry should be empty after delete")
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/funnels/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("double delete status = %d, want 404", resp.StatusCode)
	}
}

func TestBotCreateMasksToken(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/bots", map[string]interface{}{
		"name":  "Sales Bot",
		"token": "123456789:AAF2mXmbqDTs-abcDEF_ghiJKLmnopQRStu",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if tok := body["token"].(string); tok != "123456789:****" {
		t.Errorf("token = %q, want masked", tok)
	}
}

func TestBotCreateBadToken(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/bots", map[string]interface{}{
		"name":  "Bad Bot",
		"token": "not-a-token",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestBotStartWithoutManager(t *testing.T) {
	_, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/bots", map[string]interface{}{
		"name":  "Sales Bot",
		"token": "123456789:AAF2mXmbqDTs-abcDEF_ghiJKLmnopQRStu",
	})
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/bots/%s/start", ts.URL, id), nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestPaymentConfigRoundTrip(t *testing.T) {
	s, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/config/payment", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["api_key_set"] != false {
		t.Errorf("api_key_set = %v, want false", body["api_key_set"])
	}

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/config/payment", map[string]string{
		"api_base": "https://gw.example",
		"api_key":  "secret-key",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	apiBase, apiKey := s.config.PaymentCredentials()
	if apiBase != "https://gw.example" || apiKey != "secret-key" {
		t.Errorf("credentials = %q, %q", apiBase, apiKey)
	}

	// Key must never be echoed back.
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/config/payment", nil)
	if body["api_key_set"] != true {
		t.Errorf("api_key_set = %v, want true", body["api_key_set"])
	}
	if _, leaked := body["api_key"]; leaked {
		t.Error("api_key leaked in response")
	}
}

func TestStats(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := body["revenue_cents"]; !ok {
		t.Errorf("body = %v", body)
	}
}
