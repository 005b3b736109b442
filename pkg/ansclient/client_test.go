package ansclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ans-project/ans/internal/api"
	"github.com/ans-project/ans/internal/registry"
	"github.com/ans-project/ans/pkg/protocol"
)

// newRegistry serves the real API over an in-memory store.
func newRegistry(t *testing.T, opts api.Options) *Client {
	t.Helper()
	svc, err := registry.New(registry.NewMemoryStore(), nil, registry.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(api.New(opts, svc, nil, time.Now(), zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)

	var copts []Option
	if len(opts.APIKeys) > 0 {
		copts = append(copts, WithAPIKey(opts.APIKeys[0]))
	}
	c, err := New(ts.URL, copts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func payload(id string, kp protocol.KeyPair, caps ...string) protocol.AgentRecord {
	return protocol.AgentRecord{
		AgentID:      id,
		Name:         "My Python Agent",
		Description:  "An example agent",
		Organization: "Example Org",
		Capabilities: caps,
		Endpoints:    map[string]string{"a2a": "https://agent.example.com/a2a"},
		PublicKey:    kp.PublicKey,
	}
}

func mustKeyPair(t *testing.T) protocol.KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	c := newRegistry(t, api.Options{})
	kp := mustKeyPair(t)

	rec := payload("my-python-agent.ans", kp, "example", "python")
	receipt, err := c.Register(ctx, rec, kp.PrivateKey)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if receipt.AgentID != "my-python-agent.ans" || receipt.ProvisionalStatus != "registered" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	found, err := c.Lookup(ctx, protocol.LookupQuery{Capabilities: []string{"python"}})
	if err != nil {
		t.Fatalf("Lookup by capability: %v", err)
	}
	if len(found) != 1 || found[0].AgentID != "my-python-agent.ans" {
		t.Fatalf("capability lookup = %+v", found)
	}

	none, err := c.Lookup(ctx, protocol.LookupQuery{AgentID: "nonexistent.ans"})
	if err != nil {
		t.Fatalf("Lookup nonexistent: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", none)
	}
}

func TestRoundTripPublicFields(t *testing.T) {
	ctx := context.Background()
	c := newRegistry(t, api.Options{})
	kp := mustKeyPair(t)

	rec := payload("roundtrip.ans", kp, "python", "example")
	rec.Tags = []string{"demo"}
	if _, err := c.Register(ctx, rec, kp.PrivateKey); err != nil {
		t.Fatal(err)
	}

	got, err := c.Lookup(ctx, protocol.LookupQuery{AgentID: "roundtrip.ans"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	rec.Normalize()
	if !reflect.DeepEqual(got[0], rec) {
		t.Errorf("public fields differ:\n got %+v\nwant %+v", got[0], rec)
	}
}

func TestRegisterMismatchedKey(t *testing.T) {
	ctx := context.Background()
	c := newRegistry(t, api.Options{})
	owner := mustKeyPair(t)
	other := mustKeyPair(t)

	// Caught locally before anything is sent.
	_, err := c.Register(ctx, payload("mismatch.ans", owner), other.PrivateKey)
	var rerr *RegistrationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RegistrationError, got %T %v", err, err)
	}
	if rerr.StatusCode != 0 {
		t.Errorf("local rejection should have no status, got %d", rerr.StatusCode)
	}

	// A forged payload submitted directly is rejected by the registry.
	priv, _ := protocol.ParsePrivateKey(other.PrivateKey)
	reg, _ := protocol.SignRecord(payload("mismatch.ans", owner), priv)
	_, err = c.Submit(ctx, reg)
	if !errors.As(err, &rerr) || rerr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 RegistrationError, got %v", err)
	}
	if len(rerr.Body) == 0 {
		t.Error("raw body should be preserved")
	}
}

func TestRegisterValidationError(t *testing.T) {
	c := newRegistry(t, api.Options{})
	kp := mustKeyPair(t)

	rec := payload("agent.com", kp)
	rec.Endpoints["a2a"] = "not a url"
	_, err := c.Register(context.Background(), rec, kp.PrivateKey)
	var rerr *RegistrationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
	if len(rerr.Details) < 2 {
		t.Errorf("expected a detail per problem, got %v", rerr.Details)
	}
}

func TestKeyRotationConflict(t *testing.T) {
	ctx := context.Background()
	c := newRegistry(t, api.Options{})
	first := mustKeyPair(t)
	second := mustKeyPair(t)

	if _, err := c.Register(ctx, payload("rotate.ans", first), first.PrivateKey); err != nil {
		t.Fatal(err)
	}
	_, err := c.Register(ctx, payload("rotate.ans", second), second.PrivateKey)
	var rerr *RegistrationError
	if !errors.As(err, &rerr) || rerr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 RegistrationError, got %v", err)
	}

	newPriv, _ := protocol.ParsePrivateKey(second.PrivateKey)
	oldPriv, _ := protocol.ParsePrivateKey(first.PrivateKey)
	reg, _ := protocol.SignRecord(payload("rotate.ans", second), newPriv)
	if err := protocol.SignRotation(reg, oldPriv); err != nil {
		t.Fatal(err)
	}
	receipt, err := c.Submit(ctx, reg)
	if err != nil {
		t.Fatalf("rotation: %v", err)
	}
	if !receipt.Updated {
		t.Error("rotation should be reported as an update")
	}
}

func TestLookupQueryErrors(t *testing.T) {
	c, _ := New("http://127.0.0.1:1")
	tests := []struct {
		name string
		q    protocol.LookupQuery
	}{
		{"neither", protocol.LookupQuery{}},
		{"both", protocol.LookupQuery{AgentID: "a.ans", Capabilities: []string{"x"}}},
		{"blank capabilities", protocol.LookupQuery{Capabilities: []string{" ", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Lookup(context.Background(), tt.q)
			var qerr *QueryError
			if !errors.As(err, &qerr) {
				t.Fatalf("expected QueryError, got %T %v", err, err)
			}
		})
	}
}

func TestLookupTransportError(t *testing.T) {
	c, _ := New("http://127.0.0.1:1", WithTimeout(2*time.Second))
	_, err := c.Lookup(context.Background(), protocol.LookupQuery{AgentID: "x.ans"})
	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LookupError, got %T %v", err, err)
	}
	if lerr.StatusCode != 0 || lerr.Err == nil {
		t.Errorf("transport failure should carry the cause, got %+v", lerr)
	}
}

func TestLookupServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"message":"Internal server error"}`))
	}))
	defer ts.Close()

	c, _ := New(ts.URL)
	_, err := c.Lookup(context.Background(), protocol.LookupQuery{AgentID: "x.ans"})
	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LookupError, got %v", err)
	}
	if lerr.StatusCode != 500 || lerr.Message != "Internal server error" || !strings.Contains(string(lerr.Body), "success") {
		t.Errorf("unexpected error: %+v", lerr)
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, _ := New(ts.URL, WithTimeout(50*time.Millisecond))
	kp := mustKeyPair(t)

	_, err := c.Lookup(context.Background(), protocol.LookupQuery{Capabilities: []string{"x"}})
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("lookup: expected TimeoutError, got %T %v", err, err)
	}
	if terr.Op != "lookup" || terr.Timeout != 50*time.Millisecond {
		t.Errorf("unexpected timeout error: %+v", terr)
	}
	var lerr *LookupError
	if errors.As(err, &lerr) {
		t.Error("timeout must be distinct from LookupError")
	}

	_, err = c.Register(context.Background(), payload("slow.ans", kp), kp.PrivateKey)
	if !errors.As(err, &terr) || terr.Op != "register" {
		t.Fatalf("register: expected TimeoutError, got %T %v", err, err)
	}

	// A caller deadline is honoured without a client timeout.
	c, _ = New(ts.URL, WithTimeout(0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Status(ctx); !errors.As(err, &terr) {
		t.Fatalf("status: expected TimeoutError, got %T %v", err, err)
	}
}

func TestLookupFollowsPages(t *testing.T) {
	ctx := context.Background()
	c := newRegistry(t, api.Options{})

	const n = 12
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		kp := mustKeyPair(t)
		id := fmt.Sprintf("py-%02d.ans", i)
		if _, err := c.Register(ctx, payload(id, kp, "python"), kp.PrivateKey); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
		want = append(want, id)
	}
	other := mustKeyPair(t)
	if _, err := c.Register(ctx, payload("go-only.ans", other, "go"), other.PrivateKey); err != nil {
		t.Fatal(err)
	}

	for _, limit := range []int{0, 5, 100} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			got, err := c.Lookup(ctx, protocol.LookupQuery{Capabilities: []string{"python"}, Limit: limit})
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.AgentID)
			}
			if !reflect.DeepEqual(ids, want) {
				t.Fatalf("Lookup returned %d agents %v, want %d", len(ids), ids, n)
			}
		})
	}
}

func TestLookupRepeatedPageToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","results":[{"agent_id":"loop.ans","name":"Loop"}],"total_matches":2,"next_page_token":"loop.ans"}`))
	}))
	defer ts.Close()

	c, _ := New(ts.URL)
	_, err := c.Lookup(context.Background(), protocol.LookupQuery{Capabilities: []string{"x"}})
	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LookupError, got %T %v", err, err)
	}
}

func TestTimeoutFromCallerDeadline(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, _ := New(ts.URL, WithTimeout(30*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Status(ctx)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %T %v", err, err)
	}
	if terr.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0 when the caller's deadline fired", terr.Timeout)
	}
	if strings.Contains(terr.Error(), "30s") {
		t.Errorf("message blames the client timeout: %q", terr.Error())
	}
}

func TestGetResolveDeregister(t *testing.T) {
	ctx := context.Background()
	c := newRegistry(t, api.Options{APIKeys: []string{"k1"}})
	kp := mustKeyPair(t)

	receipt, err := c.Register(ctx, payload("full.ans", kp, "go"), kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}

	entry, err := c.Get(ctx, "full.ans")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.DID != receipt.DID {
		t.Errorf("did = %q, want %q", entry.DID, receipt.DID)
	}

	doc, err := c.ResolveDID(ctx, receipt.DID)
	if err != nil {
		t.Fatalf("ResolveDID: %v", err)
	}
	if doc.ID != receipt.DID {
		t.Errorf("document id = %q", doc.ID)
	}

	if err := c.Deregister(ctx, "full.ans", "test done", kp.PrivateKey); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	_, err = c.Get(ctx, "full.ans")
	var lerr *LookupError
	if !errors.As(err, &lerr) || !lerr.NotFound() {
		t.Fatalf("Get after deregister = %v", err)
	}

	st, err := c.Status(ctx)
	if err != nil || st.AgentCount != 0 {
		t.Fatalf("Status = %+v, %v", st, err)
	}
}

func TestAPIKeySent(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"success","results":[],"total_matches":0}`))
	}))
	defer ts.Close()

	c, _ := New(ts.URL, WithAPIKey("secret"), WithUserAgent("test/1"))
	if _, err := c.Search(context.Background(), protocol.LookupQuery{}); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateKeyPair(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	if a.PublicKey == b.PublicKey || a.PrivateKey == b.PrivateKey {
		t.Fatal("key pairs must be independent")
	}

	_, err := generateKeyPair(failingReader{})
	var kerr *KeyGenerationError
	if !errors.As(err, &kerr) {
		t.Fatalf("expected KeyGenerationError, got %T %v", err, err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8080", "ftp://x", "http://"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
}
