package protocol

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// signingPayload is the subset of AgentRecord fields covered by the proof of
// ownership. A dedicated struct ensures deterministic JSON marshal order;
// map keys (endpoints) are sorted by encoding/json.
type signingPayload struct {
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

// deregisterPayload is the signed portion of a DeregisterRequest.
type deregisterPayload struct {
	AgentID   string `json:"agent_id"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// CanonicalRecord returns the bytes a proof of ownership signs.
func CanonicalRecord(r *AgentRecord) ([]byte, error) {
	return json.Marshal(signingPayload{
		AgentID:              r.AgentID,
		Name:                 r.Name,
		Description:          r.Description,
		Organization:         r.Organization,
		LogoURL:              r.LogoURL,
		Website:              r.Website,
		Tags:                 r.Tags,
		Capabilities:         r.Capabilities,
		Endpoints:            r.Endpoints,
		PublicKey:            r.PublicKey,
		DataResidency:        r.DataResidency,
		CriticalRegistration: r.CriticalRegistration,
	})
}

// SignRecord signs the canonical form of r and returns a SignedRegistration.
// The record is used as-is; callers normalize it first.
func SignRecord(r AgentRecord, priv *ecdsa.PrivateKey) (*SignedRegistration, error) {
	sig, err := signRecordHex(&r, priv)
	if err != nil {
		return nil, err
	}
	return &SignedRegistration{
		AgentRecord: r,
		Proof: ProofOfOwnership{
			Signature: sig,
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// SignRotation adds a rotation signature made with the previously registered key.
func SignRotation(reg *SignedRegistration, oldKey *ecdsa.PrivateKey) error {
	sig, err := signRecordHex(&reg.AgentRecord, oldKey)
	if err != nil {
		return err
	}
	reg.Proof.RotationSignature = sig
	return nil
}

// VerifyRecord checks a hex DER signature over the canonical form of r
// against the given PEM public key.
func VerifyRecord(r *AgentRecord, publicKeyPEM, signatureHex string) bool {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}
	return VerifyRecordWithKey(r, pub, signatureHex)
}

// VerifyRecordWithKey is VerifyRecord with an already parsed key.
func VerifyRecordWithKey(r *AgentRecord, pub *ecdsa.PublicKey, signatureHex string) bool {
	canonical, err := CanonicalRecord(r)
	if err != nil {
		return false
	}
	return verifyHex(pub, canonical, signatureHex)
}

// SignDeregistration fills in the timestamp and signature of req.
func SignDeregistration(req *DeregisterRequest, priv *ecdsa.PrivateKey) error {
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().Unix()
	}
	canonical, err := canonicalDeregister(req)
	if err != nil {
		return err
	}
	sig, err := signHex(priv, canonical)
	if err != nil {
		return err
	}
	req.Signature = sig
	return nil
}

// VerifyDeregistration checks the signature of req against pub.
func VerifyDeregistration(req *DeregisterRequest, pub *ecdsa.PublicKey) bool {
	if req.Signature == "" {
		return false
	}
	canonical, err := canonicalDeregister(req)
	if err != nil {
		return false
	}
	return verifyHex(pub, canonical, req.Signature)
}

func canonicalDeregister(req *DeregisterRequest) ([]byte, error) {
	return json.Marshal(deregisterPayload{
		AgentID:   req.AgentID,
		Reason:    req.Reason,
		Timestamp: req.Timestamp,
	})
}

func signRecordHex(r *AgentRecord, priv *ecdsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", errors.New("nil private key")
	}
	canonical, err := CanonicalRecord(r)
	if err != nil {
		return "", err
	}
	return signHex(priv, canonical)
}

func signHex(priv *ecdsa.PrivateKey, data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

func verifyHex(pub *ecdsa.PublicKey, data []byte, signatureHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
