package authgate

import (
	"net/http/httptest"
	"testing"
)

func TestValidateEmptyExpectedKeyAlwaysOK(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc", nil)
	if res := Validate(r, "", true); !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
}

func TestValidateBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc", nil)
	r.Header.Set("Authorization", "Bearer secret123")
	if res := Validate(r, "secret123", true); !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
}

func TestValidateBearerTokenMismatch(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	res := Validate(r, "secret123", true)
	if res.OK || res.Error != "invalid" {
		t.Fatalf("expected invalid, got %+v", res)
	}
}

func TestValidateQueryParamFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc?key=secret123", nil)
	if res := Validate(r, "secret123", true); !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
}

func TestValidateQueryParamRejectedWhenDisallowed(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc?key=secret123", nil)
	res := Validate(r, "secret123", false)
	if res.OK || res.Error != "missing" {
		t.Fatalf("expected missing when query-key auth is disallowed, got %+v", res)
	}
}

func TestValidateMissingToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc", nil)
	res := Validate(r, "secret123", true)
	if res.OK || res.Error != "missing" {
		t.Fatalf("expected missing, got %+v", res)
	}
}

func TestValidateRejectsMultipleAuthorizationHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc", nil)
	r.Header.Add("Authorization", "Bearer a")
	r.Header.Add("Authorization", "Bearer b")
	res := Validate(r, "secret123", true)
	if res.OK || res.Error != "multiple Authorization headers" {
		t.Fatalf("expected multiple headers rejection, got %+v", res)
	}
}

func TestValidateMalformedAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/webhook/abc", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	res := Validate(r, "secret123", true)
	if res.OK || res.Error != "malformed Authorization header" {
		t.Fatalf("expected malformed header rejection, got %+v", res)
	}
}
