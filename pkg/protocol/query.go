package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultLookupLimit applies when a query does not set Limit.
const DefaultLookupLimit = 10

// LookupQuery selects agents on GET /lookup. All set fields must match.
// Capabilities uses AND semantics.
type LookupQuery struct {
	AgentID      string
	Capabilities []string
	NamePrefix   string
	TrustLevel   string
	Limit        int
	PageToken    string
	Policy       *PolicyRequirements
}

// Values encodes q as URL query parameters.
func (q LookupQuery) Values() url.Values {
	v := url.Values{}
	if q.AgentID != "" {
		v.Set("agent_id", q.AgentID)
	}
	if len(q.Capabilities) > 0 {
		v.Set("capabilities", strings.Join(q.Capabilities, ","))
	}
	if q.NamePrefix != "" {
		v.Set("query", q.NamePrefix)
	}
	if q.TrustLevel != "" {
		v.Set("trust_level", q.TrustLevel)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.PageToken != "" {
		v.Set("page_token", q.PageToken)
	}
	if q.Policy != nil {
		if data, err := json.Marshal(q.Policy); err == nil {
			v.Set("policy_requirements", string(data))
		}
	}
	return v
}

// ParseLookupQuery decodes URL query parameters. Capabilities may be repeated
// or comma separated; empty parameters are ignored.
func ParseLookupQuery(v url.Values) (LookupQuery, error) {
	q := LookupQuery{
		AgentID:      strings.TrimSpace(v.Get("agent_id")),
		Capabilities: SplitList(v["capabilities"]...),
		NamePrefix:   v.Get("query"),
		TrustLevel:   strings.TrimSpace(v.Get("trust_level")),
		PageToken:    v.Get("page_token"),
	}
	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
		}
		q.Limit = n
	}
	if raw := strings.TrimSpace(v.Get("policy_requirements")); raw != "" {
		var p PolicyRequirements
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return q, fmt.Errorf("policy_requirements is not valid JSON: %w", err)
		}
		p.Capabilities = SplitList(p.Capabilities...)
		q.Policy = &p
	}
	return q, nil
}

// SplitList flattens comma separated values, trimming blanks.
func SplitList(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
