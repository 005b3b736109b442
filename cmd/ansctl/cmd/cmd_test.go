package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ans-project/ans/internal/api"
	"github.com/ans-project/ans/internal/registry"
	"github.com/ans-project/ans/internal/secrets"
	"github.com/ans-project/ans/pkg/ansclient"
)

// run executes ansctl with args against a fresh configuration.
func run(t *testing.T, args ...string) error {
	t.Helper()
	cfg = viper.New()
	cfgFile = ""
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(new(strings.Builder))
	root.SetErr(new(strings.Builder))
	return root.ExecuteContext(context.Background())
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(secrets.EnvAgeKey, "")
	t.Setenv(secrets.EnvAgeKeyFile, "")
	t.Setenv("ANS_REGISTRY_URL", "")
	t.Setenv("ANS_API_KEY", "")
	return home
}

func startRegistry(t *testing.T) (string, *registry.Service) {
	t.Helper()
	svc, err := registry.New(registry.NewMemoryStore(), nil, registry.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(api.New(api.Options{}, svc, nil, time.Now(), zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return ts.URL, svc
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const tomlRecord = `
agent_id     = "my-python-agent.ans"
name         = "My Python Agent"
capabilities = ["python", "automation"]

[endpoints]
a2a = "https://agent.example.com/a2a"
`

func TestReadRecordFormats(t *testing.T) {
	dir := t.TempDir()

	tomlPath := writeFile(t, dir, "agent.toml", tomlRecord)
	jsonPath := writeFile(t, dir, "agent.json", `{
  "agent_id": "my-python-agent.ans",
  "name": "My Python Agent",
  "capabilities": ["python", "automation"],
  "endpoints": {"a2a": "https://agent.example.com/a2a"}
}`)

	for _, path := range []string{tomlPath, jsonPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			rec, err := readRecord(path)
			if err != nil {
				t.Fatalf("readRecord: %v", err)
			}
			if rec.AgentID != "my-python-agent.ans" || rec.Name != "My Python Agent" {
				t.Errorf("record = %+v", rec)
			}
			if len(rec.Capabilities) != 2 || rec.Endpoints["a2a"] != "https://agent.example.com/a2a" {
				t.Errorf("capabilities/endpoints = %v / %v", rec.Capabilities, rec.Endpoints)
			}
		})
	}
}

func TestReadRecordUnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.toml", tomlRecord+"\nprivate_claims = \"x\"\n")
	if _, err := readRecord(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestKeygenRegisterLookupDeregister(t *testing.T) {
	isolate(t)
	url, svc := startRegistry(t)
	dir := t.TempDir()
	key := filepath.Join(dir, "agent.pem")
	record := writeFile(t, dir, "agent.toml", tomlRecord)

	if err := run(t, "keygen", "--out", key); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if _, err := os.Stat(key + ".pub"); err != nil {
		t.Fatalf("public key not written: %v", err)
	}
	if err := run(t, "keygen", "--out", key); err == nil {
		t.Fatal("keygen should refuse to overwrite an existing key")
	}

	if err := run(t, "--registry", url, "register", record, "--key", key, "--critical"); err != nil {
		t.Fatalf("register: %v", err)
	}
	entry, err := svc.Get(context.Background(), "my-python-agent.ans")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !entry.CriticalRegistration || entry.DID == "" {
		t.Errorf("entry = %+v", entry)
	}

	if err := run(t, "--registry", url, "lookup", "--capabilities", "python"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := run(t, "--registry", url, "lookup", "my-python-agent.ans", "--agent-id", "x.ans"); err == nil {
		t.Fatal("expected error when agent ID is given twice")
	}
	if err := run(t, "--registry", url, "lookup", "--policy-requirements", "{bad"); err == nil {
		t.Fatal("expected error for invalid policy JSON")
	}

	if err := run(t, "--registry", url, "deregister", "my-python-agent.ans", "--key", key); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := svc.Get(context.Background(), "my-python-agent.ans"); err == nil {
		t.Fatal("agent still registered after deregister")
	}
}

func TestRegisterEncryptedKey(t *testing.T) {
	home := isolate(t)
	url, svc := startRegistry(t)
	dir := t.TempDir()
	key := filepath.Join(dir, "agent.pem")
	record := writeFile(t, dir, "agent.toml", tomlRecord)

	if err := run(t, "secrets", "keygen"); err != nil {
		t.Fatalf("secrets keygen: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".config", "ans", "age.key")); err != nil {
		t.Fatalf("age identity not written: %v", err)
	}
	if err := run(t, "keygen", "--out", key, "--encrypt"); err != nil {
		t.Fatalf("keygen --encrypt: %v", err)
	}
	data, _ := os.ReadFile(key)
	if !secrets.IsEncrypted(strings.TrimSpace(string(data))) {
		t.Fatalf("private key not encrypted: %q", data)
	}

	if err := run(t, "--registry", url, "register", record, "--key", key); err != nil {
		t.Fatalf("register with encrypted key: %v", err)
	}
	if _, err := svc.Get(context.Background(), "my-python-agent.ans"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestRegisterRotation(t *testing.T) {
	isolate(t)
	url, svc := startRegistry(t)
	dir := t.TempDir()
	oldKey := filepath.Join(dir, "old.pem")
	newKey := filepath.Join(dir, "new.pem")
	record := writeFile(t, dir, "agent.toml", tomlRecord)

	for _, k := range []string{oldKey, newKey} {
		if err := run(t, "keygen", "--out", k); err != nil {
			t.Fatalf("keygen: %v", err)
		}
	}
	if err := run(t, "--registry", url, "register", record, "--key", oldKey); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := svc.Get(context.Background(), "my-python-agent.ans")

	err := run(t, "--registry", url, "register", record, "--key", newKey)
	var rerr *ansclient.RegistrationError
	if !errors.As(err, &rerr) || rerr.StatusCode != http.StatusConflict {
		t.Fatalf("key change without rotation: err = %v, want 409", err)
	}

	if err := run(t, "--registry", url, "register", record, "--key", newKey, "--rotate-from", oldKey); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	after, _ := svc.Get(context.Background(), "my-python-agent.ans")
	if after.PublicKey == before.PublicKey || after.DID == before.DID {
		t.Errorf("rotation did not replace key and DID")
	}
}

func TestRegisterRequiresKey(t *testing.T) {
	isolate(t)
	record := writeFile(t, t.TempDir(), "agent.toml", tomlRecord)
	if err := run(t, "register", record); err == nil {
		t.Fatal("expected error without --key")
	}
}

func TestConfigFileAndFlags(t *testing.T) {
	isolate(t)
	path := writeFile(t, t.TempDir(), "ansctl.toml", "[registry]\nurl = \"https://registry.example.com\"\ntimeout = \"7s\"\n")

	if err := run(t, "--config", path, "secrets", "decrypt", "plain"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := cfg.GetString("registry.url"); got != "https://registry.example.com" {
		t.Errorf("registry.url = %q", got)
	}
	if got := cfg.GetDuration("registry.timeout"); got != 7*time.Second {
		t.Errorf("registry.timeout = %v", got)
	}

	if err := run(t, "--config", path, "--registry", "http://flag.example.com", "secrets", "decrypt", "plain"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := cfg.GetString("registry.url"); got != "http://flag.example.com" {
		t.Errorf("flag should win, registry.url = %q", got)
	}

	if err := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "status"); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}
