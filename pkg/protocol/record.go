package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// NamespaceSuffix is the top-level label every agent ID lives under.
const NamespaceSuffix = ".ans"

// Verification statuses assigned by the registry.
const (
	StatusProvisional = "provisional"
	StatusVerified    = "verified"
)

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// AgentRecord is the public, owner-signed description of an agent.
// AgentID is the primary key within the registry.
type AgentRecord struct {
	AgentID              string            `json:"agent_id"`
	Name                 string            `json:"name"`
	Description          string            `json:"description,omitempty"`
	Organization         string            `json:"organization,omitempty"`
	LogoURL              string            `json:"logo_url,omitempty"`
	Website              string            `json:"website,omitempty"`
	Tags                 []string          `json:"tags,omitempty"`
	Capabilities         []string          `json:"capabilities,omitempty"`
	Endpoints            map[string]string `json:"endpoints,omitempty"`
	PublicKey            string            `json:"public_key"`
	DataResidency        []string          `json:"data_residency,omitempty"`
	CriticalRegistration bool              `json:"critical_registration,omitempty"`
}

// ProofOfOwnership carries the owner's signature over the canonical record.
// RotationSignature is only set when the record replaces a previously
// registered public key; it must be made with the old key.
type ProofOfOwnership struct {
	Signature         string    `json:"signature"`
	Timestamp         time.Time `json:"timestamp"`
	RotationSignature string    `json:"rotation_signature,omitempty"`
}

// SignedRegistration is the body of POST /register.
type SignedRegistration struct {
	AgentRecord
	Proof ProofOfOwnership `json:"proof_of_ownership"`
}

// AgentEntry is a record as stored by the registry, with registry metadata.
type AgentEntry struct {
	AgentRecord
	DID                string    `json:"did"`
	VerificationStatus string    `json:"verification_status"`
	VerificationID     string    `json:"verification_id"`
	Signature          string    `json:"signature"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasCapabilities reports whether the record advertises every capability in want.
func (r *AgentRecord) HasCapabilities(want ...string) bool {
	for _, w := range want {
		found := false
		for _, c := range r.Capabilities {
			if c == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Normalize trims whitespace and turns the list fields into sorted sets so
// that two semantically equal records serialize identically.
func (r *AgentRecord) Normalize() {
	r.AgentID = strings.ToLower(strings.TrimSpace(r.AgentID))
	r.Name = strings.TrimSpace(r.Name)
	if pk := strings.TrimSpace(r.PublicKey); pk != "" {
		r.PublicKey = pk + "\n"
	}
	r.Capabilities = normalizeSet(r.Capabilities)
	r.Tags = normalizeSet(r.Tags)
	r.DataResidency = normalizeSet(r.DataResidency)
	if len(r.Endpoints) == 0 {
		r.Endpoints = nil
	}
}

// Validate checks the record's own fields. It does not verify the public key
// against a signature.
func (r *AgentRecord) Validate() error {
	var errs []error
	if err := ValidateAgentID(r.AgentID); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(r.PublicKey) == "" {
		errs = append(errs, errors.New("public_key is required"))
	} else if _, err := ParsePublicKey(r.PublicKey); err != nil {
		errs = append(errs, fmt.Errorf("public_key: %w", err))
	}
	for proto, raw := range r.Endpoints {
		if proto == "" {
			errs = append(errs, errors.New("endpoints: empty protocol name"))
			continue
		}
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("endpoints.%s: %w", proto, err))
		}
	}
	if r.LogoURL != "" {
		if err := validateURL(r.LogoURL); err != nil {
			errs = append(errs, fmt.Errorf("logo_url: %w", err))
		}
	}
	if r.Website != "" {
		if err := validateURL(r.Website); err != nil {
			errs = append(errs, fmt.Errorf("website: %w", err))
		}
	}
	for _, c := range r.Capabilities {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, errors.New("capabilities: empty capability"))
			break
		}
	}
	return errors.Join(errs...)
}

// ValidateAgentID enforces the dotted namespace rules: lowercase labels of
// [a-z0-9-], at least two labels, ending in ".ans".
func ValidateAgentID(id string) error {
	if id == "" {
		return errors.New("agent_id is required")
	}
	if len(id) > 253 {
		return fmt.Errorf("agent_id %q is longer than 253 characters", id)
	}
	if !strings.HasSuffix(id, NamespaceSuffix) {
		return fmt.Errorf("agent_id %q must end in %q", id, NamespaceSuffix)
	}
	labels := strings.Split(id, ".")
	if len(labels) < 2 {
		return fmt.Errorf("agent_id %q needs at least one label before %q", id, NamespaceSuffix)
	}
	for _, l := range labels {
		if !labelPattern.MatchString(l) {
			return fmt.Errorf("agent_id %q has invalid label %q", id, l)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
