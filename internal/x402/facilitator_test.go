package x402

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testPaymentAndRequirement() (*PaymentPayload, *PaymentRequirement) {
	payment := &PaymentPayload{
		X402Version: ProtocolVersion,
		Scheme:      "exact",
		Network:     "base",
		Payload:     map[string]any{"signature": "0xabc"},
	}
	requirement := &PaymentRequirement{
		Scheme:            "exact",
		Network:           "base",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		MaxAmountRequired: "1000",
		PayTo:             testPayee,
		MaxTimeoutSeconds: 60,
	}
	return payment, requirement
}

func TestFacilitatorVerifyWireShape(t *testing.T) {
	var captured map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/verify" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("body not JSON: %v", err)
		}
		io.WriteString(w, `{"isValid":true,"payer":"0xbuyer"}`)
	}))
	defer srv.Close()

	client, err := NewFacilitatorClient(FacilitatorConfig{URL: srv.URL}, quietLogger())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	payment, requirement := testPaymentAndRequirement()
	resp, err := client.Verify(t.Context(), payment, requirement)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !resp.IsValid || resp.Payer != "0xbuyer" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	for _, key := range []string{"x402Version", "paymentPayload", "paymentRequirements"} {
		if _, ok := captured[key]; !ok {
			t.Fatalf("request body missing %s: %v", key, captured)
		}
	}
}

func TestFacilitatorNon2xxIsRetryableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewFacilitatorClient(FacilitatorConfig{URL: srv.URL}, quietLogger())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	payment, requirement := testPaymentAndRequirement()
	_, err = client.Verify(t.Context(), payment, requirement)
	var facErr *FacilitatorError
	if !errors.As(err, &facErr) {
		t.Fatalf("expected FacilitatorError, got %v", err)
	}
	if facErr.StatusCode != http.StatusBadGateway || facErr.Endpoint != "/verify" {
		t.Fatalf("unexpected error detail: %+v", facErr)
	}
}

func TestFacilitatorSettleKeepsRawBytes(t *testing.T) {
	raw := `{"success":true,"transaction":"0xdeadbeef","network":"base","payer":"0xbuyer"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, raw)
	}))
	defer srv.Close()

	client, err := NewFacilitatorClient(FacilitatorConfig{URL: srv.URL}, quietLogger())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	payment, requirement := testPaymentAndRequirement()
	resp, err := client.Settle(t.Context(), payment, requirement)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !resp.Success || resp.Transaction != "0xdeadbeef" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if string(resp.raw) != raw {
		t.Fatalf("raw bytes not preserved: %s", resp.raw)
	}
}

func TestFacilitatorRequiresEndpointOrCredentials(t *testing.T) {
	if _, err := NewFacilitatorClient(FacilitatorConfig{}, quietLogger()); !errors.Is(err, ErrNoFacilitator) {
		t.Fatalf("expected ErrNoFacilitator, got %v", err)
	}
}

func TestCDPCredentialsDefaultToHostedFacilitator(t *testing.T) {
	client, err := NewFacilitatorClient(FacilitatorConfig{
		APIKeyID:     "organizations/org/apiKeys/key",
		APIKeySecret: testECKeyPEM(t),
	}, quietLogger())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if client.baseURL != DefaultCDPFacilitatorURL {
		t.Fatalf("baseURL = %q", client.baseURL)
	}
}

func TestCDPAuthAttachesBearer(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		io.WriteString(w, `{"isValid":true}`)
	}))
	defer srv.Close()

	client, err := NewFacilitatorClient(FacilitatorConfig{
		URL:          srv.URL,
		APIKeyID:     "organizations/org/apiKeys/key",
		APIKeySecret: testECKeyPEM(t),
	}, quietLogger())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	payment, requirement := testPaymentAndRequirement()
	if _, err := client.Verify(t.Context(), payment, requirement); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("expected bearer token, got %q", auth)
	}
	if parts := strings.Split(strings.TrimPrefix(auth, "Bearer "), "."); len(parts) != 3 {
		t.Fatalf("bearer token is not a JWT: %q", auth)
	}
}

func testECKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}
