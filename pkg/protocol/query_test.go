package protocol

import (
	"net/url"
	"reflect"
	"testing"
)

func TestLookupQueryValuesRoundTrip(t *testing.T) {
	in := LookupQuery{
		AgentID:      "my-agent.ans",
		Capabilities: []string{"python", "example"},
		NamePrefix:   "My",
		TrustLevel:   StatusVerified,
		Limit:        25,
		PageToken:    "alpha.ans",
		Policy: &PolicyRequirements{
			VerificationStatus: StatusVerified,
			Capabilities:       []string{"go"},
		},
	}
	out, err := ParseLookupQuery(in.Values())
	if err != nil {
		t.Fatalf("ParseLookupQuery: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestParseLookupQueryCapabilities(t *testing.T) {
	v := url.Values{"capabilities": {"python, go", "example", " "}}
	q, err := ParseLookupQuery(v)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"python", "go", "example"}
	if !reflect.DeepEqual(q.Capabilities, want) {
		t.Errorf("capabilities = %v, want %v", q.Capabilities, want)
	}
}

func TestParseLookupQueryEmpty(t *testing.T) {
	q, err := ParseLookupQuery(url.Values{})
	if err != nil {
		t.Fatal(err)
	}
	if q.Limit != 0 || q.Policy != nil || q.Capabilities != nil {
		t.Errorf("expected zero query, got %+v", q)
	}
}

func TestParseLookupQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		v    url.Values
	}{
		{"non-numeric limit", url.Values{"limit": {"ten"}}},
		{"negative limit", url.Values{"limit": {"-1"}}},
		{"policy not json", url.Values{"policy_requirements": {"{verification_status"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLookupQuery(tt.v); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
