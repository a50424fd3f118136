package principal

import (
	"net/http/httptest"
	"testing"
)

func TestResolve_RemoteAddr(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/session", nil)
	r.RemoteAddr = "203.0.113.7:52012"

	got := Resolve(r, false)
	if got.IP != "203.0.113.7" {
		t.Fatalf("IP = %q", got.IP)
	}
	if got.Identity == "" || got.Identity == "anonymous" {
		t.Fatalf("Identity = %q", got.Identity)
	}
}

func TestResolve_ProxyHeadersIgnoredByDefault(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/session", nil)
	r.RemoteAddr = "203.0.113.7:52012"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")

	if got := Resolve(r, false); got.IP != "203.0.113.7" {
		t.Fatalf("untrusted XFF must be ignored, got %q", got.IP)
	}
	if got := Resolve(r, true); got.IP != "198.51.100.9" {
		t.Fatalf("trusted XFF left-most not used, got %q", got.IP)
	}
}

func TestResolve_FingerprintChangesIdentity(t *testing.T) {
	a := httptest.NewRequest("POST", "/v1/session", nil)
	a.RemoteAddr = "203.0.113.7:52012"

	b := httptest.NewRequest("POST", "/v1/session", nil)
	b.RemoteAddr = "203.0.113.7:52012"
	b.Header.Set(FingerprintHeader, "fp_abc")

	if Resolve(a, false).Identity == Resolve(b, false).Identity {
		t.Fatalf("fingerprint must contribute to identity")
	}
}

func TestResolve_AnonymousFallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/session", nil)
	r.RemoteAddr = "not-an-ip"

	if got := Resolve(r, false); got.Identity != "anonymous" {
		t.Fatalf("Identity = %q, want anonymous", got.Identity)
	}
}
