package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestVerifyStripeValidAndInvalid(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"charge.succeeded"}`)
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(body)))
	v1 := hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("Stripe-Signature", "t="+ts+",v1="+v1)

	cfg := Config{Provider: "stripe", Secret: secret, Tolerance: 5 * time.Minute}
	out := Verify(cfg, h, body, now)
	if !out.Valid {
		t.Fatalf("expected valid signature, got %+v", out)
	}

	h2 := http.Header{}
	h2.Set("Stripe-Signature", "t="+ts+",v1=deadbeef")
	out2 := Verify(cfg, h2, body, now)
	if out2.Valid || out2.Error != "signature mismatch" {
		t.Fatalf("expected mismatch, got %+v", out2)
	}
}

func TestVerifyStripeOutsideTolerance(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	now := time.Now()
	old := now.Add(-time.Hour)
	ts := strconv.FormatInt(old.Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(body)))
	v1 := hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("Stripe-Signature", "t="+ts+",v1="+v1)

	cfg := Config{Provider: "stripe", Secret: secret, Tolerance: 5 * time.Minute}
	out := Verify(cfg, h, body, now)
	if out.Valid {
		t.Fatalf("expected rejection outside tolerance window, got %+v", out)
	}
}

func TestVerifyShopifyValidAndInvalid(t *testing.T) {
	secret := "shpss_test"
	body := []byte(`{"order_id":1}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("X-Shopify-Hmac-Sha256", sig)

	cfg := Config{Provider: "shopify", Secret: secret}
	out := Verify(cfg, h, body, time.Now())
	if !out.Valid {
		t.Fatalf("expected valid signature, got %+v", out)
	}

	other := []byte(`{"order_id":2}`)
	out2 := Verify(cfg, h, other, time.Now())
	if out2.Valid || out2.Error != "signature mismatch" {
		t.Fatalf("expected mismatch for mutated body, got %+v", out2)
	}
}

func TestVerifyGitHubValidAndInvalid(t *testing.T) {
	secret := "ghsecret"
	body := []byte(`{"action":"opened"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("X-Hub-Signature-256", sig)

	cfg := Config{Provider: "github", Secret: secret}
	out := Verify(cfg, h, body, time.Now())
	if !out.Valid {
		t.Fatalf("expected valid signature, got %+v", out)
	}

	h2 := http.Header{}
	h2.Set("X-Hub-Signature-256", "sha256=00")
	out2 := Verify(cfg, h2, body, time.Now())
	if out2.Valid {
		t.Fatalf("expected mismatch, got %+v", out2)
	}

	h3 := http.Header{}
	h3.Set("X-Hub-Signature-256", "bogus")
	out3 := Verify(cfg, h3, body, time.Now())
	if out3.Valid || out3.Error != "malformed X-Hub-Signature-256 header" {
		t.Fatalf("expected malformed header error, got %+v", out3)
	}
}

func TestVerifySlackValidAndInvalid(t *testing.T) {
	secret := "slacksecret"
	body := []byte(`token=1&team_id=T1`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("X-Slack-Signature", sig)
	h.Set("X-Slack-Request-Timestamp", ts)

	cfg := Config{Provider: "slack", Secret: secret, Tolerance: 5 * time.Minute}
	out := Verify(cfg, h, body, time.Now())
	if !out.Valid {
		t.Fatalf("expected valid signature, got %+v", out)
	}

	h2 := http.Header{}
	h2.Set("X-Slack-Signature", sig)
	out2 := Verify(cfg, h2, body, time.Now())
	if out2.Valid {
		t.Fatalf("expected missing timestamp header to fail, got %+v", out2)
	}
}

func TestVerifySlackOutsideTolerance(t *testing.T) {
	secret := "slacksecret"
	body := []byte(`a=b`)
	old := time.Now().Add(-time.Hour)
	ts := strconv.FormatInt(old.Unix(), 10)

	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("X-Slack-Signature", sig)
	h.Set("X-Slack-Request-Timestamp", ts)

	cfg := Config{Provider: "slack", Secret: secret, Tolerance: 5 * time.Minute}
	out := Verify(cfg, h, body, time.Now())
	if out.Valid {
		t.Fatalf("expected rejection outside tolerance window, got %+v", out)
	}
}

func TestVerifyCustomHexSha256(t *testing.T) {
	secret := "customsecret"
	body := []byte(`payload`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("X-Signature", sig)

	cfg := Config{
		Provider:   "custom",
		Secret:     secret,
		HeaderName: "X-Signature",
		Prefix:     "sha256=",
		Algorithm:  "sha256",
		Encoding:   "hex",
	}
	out := Verify(cfg, h, body, time.Now())
	if !out.Valid {
		t.Fatalf("expected valid signature, got %+v", out)
	}
}

func TestVerifyCustomSha1Base64(t *testing.T) {
	secret := "customsecret"
	body := []byte(`payload`)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("X-Signature", sig)

	cfg := Config{
		Provider:   "custom",
		Secret:     secret,
		HeaderName: "X-Signature",
		Algorithm:  "sha1",
		Encoding:   "base64",
	}
	out := Verify(cfg, h, body, time.Now())
	if !out.Valid {
		t.Fatalf("expected valid signature, got %+v", out)
	}
}

func TestVerifyCustomRequiresHeaderName(t *testing.T) {
	cfg := Config{Provider: "custom", Secret: "s"}
	out := Verify(cfg, http.Header{}, []byte("x"), time.Now())
	if out.Valid || out.Error != "custom provider requires `header_name`" {
		t.Fatalf("expected header_name error, got %+v", out)
	}
}

func TestVerifyMissingSecret(t *testing.T) {
	cfg := Config{Provider: "github"}
	out := Verify(cfg, http.Header{}, []byte("x"), time.Now())
	if out.Valid || out.Error != "signature secret not configured" {
		t.Fatalf("expected missing secret error, got %+v", out)
	}
}

func TestVerifyUnknownProvider(t *testing.T) {
	cfg := Config{Provider: "bogus", Secret: "s"}
	out := Verify(cfg, http.Header{}, []byte("x"), time.Now())
	if out.Valid {
		t.Fatalf("expected rejection for unknown provider, got %+v", out)
	}
}
