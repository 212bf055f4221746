package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pixfunnel/pkg/money"
)

func staticCredentials(base, key string) func() (Credentials, error) {
	return func() (Credentials, error) {
		return Credentials{APIBase: base, APIKey: key}, nil
	}
}

func TestGeneratePix(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/pix/cashIn" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		fmt.Fprint(w, `{
			"id": "tx-123",
			"value": 9700,
			"qr_code_text": "00020126pixcopypaste",
			"status": "pending",
			"created_at": "2026-08-29T12:00:00Z",
			"expires_at": "2026-08-29T12:30:00Z"
		}`)
	}))
	defer srv.Close()

	c := NewClient(staticCredentials(srv.URL, "test-key"), 15000, 5*time.Second)

	charge, err := c.GeneratePix(context.Background(), 9700, "Monthly")
	if err != nil {
		t.Fatalf("GeneratePix: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if v, ok := gotBody["value_in_cents"].(float64); !ok || int64(v) != 9700 {
		t.Errorf("value_in_cents = %v", gotBody["value_in_cents"])
	}
	if charge.ID != "tx-123" {
		t.Errorf("ID = %q", charge.ID)
	}
	if charge.ValueCents != 9700 {
		t.Errorf("ValueCents = %d", charge.ValueCents)
	}
	if charge.QRCodeText != "00020126pixcopypaste" {
		t.Errorf("QRCodeText = %q", charge.QRCodeText)
	}
	if charge.ExpiresAt.IsZero() {
		t.Error("ExpiresAt not parsed")
	}
}

func TestGeneratePixAmountChecks(t *testing.T) {
	// Server must not be hit: out-of-range amounts fail locally.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway should not be called")
	}))
	defer srv.Close()

	c := NewClient(staticCredentials(srv.URL, "k"), 15000, time.Second)

	if _, err := c.GeneratePix(context.Background(), 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := c.GeneratePix(context.Background(), -100, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}

	_, err := c.GeneratePix(context.Background(), 15001, "")
	var tooLarge *ValueTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("over ceiling: got %v, want ValueTooLargeError", err)
	}
	if tooLarge.Ceiling != 15000 {
		t.Errorf("Ceiling = %d, want 15000", tooLarge.Ceiling)
	}
}

func TestGeneratePixCeilingInclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "tx-1", "value": 15000, "status": "pending"}`)
	}))
	defer srv.Close()

	c := NewClient(staticCredentials(srv.URL, "k"), 15000, time.Second)
	if _, err := c.GeneratePix(context.Background(), 15000, ""); err != nil {
		t.Errorf("amount at ceiling should be accepted: %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transactions/tx-123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"status": "paid", "value": 9700}`)
	}))
	defer srv.Close()

	c := NewClient(staticCredentials(srv.URL, "k"), 15000, time.Second)

	st, err := c.CheckStatus(context.Background(), "tx-123")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if !st.Paid() {
		t.Errorf("Paid() = false for status %q", st.Status)
	}
	if st.ValueCents != 9700 {
		t.Errorf("ValueCents = %d", st.ValueCents)
	}
}

func TestGatewayErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "insufficient funds"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(staticCredentials(srv.URL, "k"), 15000, time.Second)
	if _, err := c.GeneratePix(context.Background(), 9700, ""); err == nil {
		t.Error("expected error from non-2xx gateway response")
	}
}

func TestCredentialsCachedUntilRefresh(t *testing.T) {
	loads := 0
	load := func() (Credentials, error) {
		loads++
		return Credentials{APIBase: "http://gw.invalid", APIKey: "k"}, nil
	}

	c := NewClient(load, 15000, time.Second)

	// Calls hit an unreachable host; only the credential loading matters here.
	c.GeneratePix(context.Background(), 100, "")
	c.GeneratePix(context.Background(), 100, "")
	if loads != 1 {
		t.Fatalf("loads = %d, want 1 (cached)", loads)
	}

	c.Refresh()
	c.GeneratePix(context.Background(), 100, "")
	if loads != 2 {
		t.Fatalf("loads = %d after Refresh, want 2", loads)
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(staticCredentials("", ""), 15000, time.Second)
	if _, err := c.GeneratePix(context.Background(), 100, ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}

func TestValueTooLargeErrorMessage(t *testing.T) {
	err := &ValueTooLargeError{Ceiling: money.Cents(15000)}
	want := "payment: amount exceeds the R$ 150,00 ceiling"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestQRCodePNG(t *testing.T) {
	png, err := QRCodePNG("00020126pixcopypaste")
	if err != nil {
		t.Fatalf("QRCodePNG: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Error("output is not a PNG")
	}
	if _, err := QRCodePNG(""); err == nil {
		t.Error("empty code should fail")
	}
}
