package protocol

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidateAgentID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"my-python-agent.ans", true},
		{"weather.acme.ans", true},
		{"a1.ans", true},
		{"", false},
		{"ans", false},
		{".ans", false},
		{"agent.com", false},
		{"Agent.ans", false},
		{"-agent.ans", false},
		{"agent-.ans", false},
		{"agent..ans", false},
		{"agent_x.ans", false},
		{strings.Repeat("a", 64) + ".ans", false},
		{strings.Repeat("a", 63) + ".ans", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateAgentID(tt.id)
			if got := err == nil; got != tt.want {
				t.Errorf("ValidateAgentID(%q) = %v, want valid=%v", tt.id, err, tt.want)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	valid := func() AgentRecord {
		return AgentRecord{
			AgentID:   "ok.ans",
			Name:      "ok",
			PublicKey: kp.PublicKey,
			Endpoints: map[string]string{"a2a": "https://ok.example.com/a2a"},
		}
	}

	r := valid()
	if err := r.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *AgentRecord)
		substr string
	}{
		{"missing name", func(r *AgentRecord) { r.Name = " " }, "name is required"},
		{"missing key", func(r *AgentRecord) { r.PublicKey = "" }, "public_key is required"},
		{"bad key", func(r *AgentRecord) { r.PublicKey = "nope" }, "public_key"},
		{"relative endpoint", func(r *AgentRecord) { r.Endpoints["a2a"] = "/a2a" }, "endpoints.a2a"},
		{"bad website", func(r *AgentRecord) { r.Website = "example.com" }, "website"},
		{"bad logo", func(r *AgentRecord) { r.LogoURL = "logo.png" }, "logo_url"},
		{"bad id", func(r *AgentRecord) { r.AgentID = "bad" }, "agent_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q does not mention %q", err, tt.substr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	r := AgentRecord{
		AgentID:      "  Mixed.ANS ",
		Name:         " name ",
		Capabilities: []string{"python", " example", "python", ""},
		Tags:         []string{},
		Endpoints:    map[string]string{},
		PublicKey:    "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----",
	}
	r.Normalize()

	if r.AgentID != "mixed.ans" {
		t.Errorf("AgentID = %q", r.AgentID)
	}
	if r.Name != "name" {
		t.Errorf("Name = %q", r.Name)
	}
	if want := []string{"example", "python"}; !reflect.DeepEqual(r.Capabilities, want) {
		t.Errorf("Capabilities = %v, want %v", r.Capabilities, want)
	}
	if r.Tags != nil {
		t.Errorf("Tags = %v, want nil", r.Tags)
	}
	if r.Endpoints != nil {
		t.Errorf("Endpoints = %v, want nil", r.Endpoints)
	}
	if !strings.HasSuffix(r.PublicKey, "-----\n") {
		t.Errorf("PublicKey should end with a newline: %q", r.PublicKey)
	}
}

func TestHasCapabilities(t *testing.T) {
	r := AgentRecord{Capabilities: []string{"example", "python"}}

	if !r.HasCapabilities("python") {
		t.Error("expected python")
	}
	if !r.HasCapabilities("python", "example") {
		t.Error("expected python+example")
	}
	if r.HasCapabilities("python", "go") {
		t.Error("did not expect go")
	}
	if !r.HasCapabilities() {
		t.Error("empty requirement should match")
	}
}
