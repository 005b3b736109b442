package protocol

import "time"

// EstimatedVerificationTime is reported in every registration receipt.
const EstimatedVerificationTime = "30s"

// RegistrationReceipt acknowledges an accepted registration.
type RegistrationReceipt struct {
	AgentID                   string      `json:"agent_id"`
	DID                       string      `json:"did"`
	ProvisionalStatus         string      `json:"provisional_status"`
	VerificationPending       bool        `json:"verification_pending"`
	VerificationID            string      `json:"verification_id"`
	EstimatedVerificationTime string      `json:"estimated_verification_time"`
	DataResidencyConfirmed    []string    `json:"data_residency_confirmed"`
	Updated                   bool        `json:"updated"`
	Record                    *AgentEntry `json:"record"`
}

// RegistrationResponse is returned by POST /register with 202 Accepted.
type RegistrationResponse struct {
	Status       string              `json:"status"`
	Registration RegistrationReceipt `json:"registration"`
}

// Verification summarizes the registry's trust in a record.
type Verification struct {
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentResult is one entry of a lookup response.
type AgentResult struct {
	AgentRecord
	DID                 string       `json:"did"`
	Verification        Verification `json:"verification"`
	PolicyCompatibility bool         `json:"policy_compatibility"`
}

// LookupResponse is returned by GET /lookup. NextPageToken is set when more
// results follow; pass it back as page_token.
type LookupResponse struct {
	Status        string        `json:"status"`
	Results       []AgentResult `json:"results"`
	TotalMatches  int           `json:"total_matches"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

// PolicyRequirements constrains which results are flagged policy compatible.
type PolicyRequirements struct {
	VerificationStatus string   `json:"verification_status,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
}

// DeregisterRequest is the body of POST /deregister. Signature is made by the
// key on record over agent_id, reason and timestamp (unix seconds).
type DeregisterRequest struct {
	AgentID   string `json:"agent_id"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// DeregisterResponse acknowledges a removed record.
type DeregisterResponse struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status       string    `json:"status"`
	Uptime       string    `json:"uptime"`
	StartedAt    time.Time `json:"started_at"`
	AgentCount   int       `json:"agent_count"`
	StoreBackend string    `json:"store_backend"`
	SyncEnabled  bool      `json:"sync_enabled"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// DIDDocument is a W3C DID document for a registered agent.
type DIDDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         string               `json:"controller"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	Service            []DIDService         `json:"service,omitempty"`
}

// VerificationMethod binds a public key to a DID.
type VerificationMethod struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Controller   string `json:"controller"`
	PublicKeyJWK JWK    `json:"publicKeyJwk"`
}

// JWK is an EC public JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// DIDService advertises an agent endpoint in a DID document.
type DIDService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}
