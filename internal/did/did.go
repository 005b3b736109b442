// Package did derives did:ans identifiers and W3C DID documents for
// registered agents.
//
// An identifier has the form did:ans:<uuid>:<fingerprint>, where the
// fingerprint is the base58btc encoding of a sha2-256 multihash of the
// agent's PEM public key.
package did

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"

	"github.com/ans-project/ans/pkg/protocol"
)

const (
	// Prefix starts every identifier issued by the registry.
	Prefix = "did:ans:"

	contextDIDv1      = "https://www.w3.org/ns/did/v1"
	contextJWS2020    = "https://w3id.org/security/suites/jws-2020/v1"
	methodTypeJWK     = "JsonWebKey2020"
	serviceTypeA2A    = "AgentToAgentService"
	a2aEndpointKey    = "a2a"
	verificationKeyID = "#key-1"
)

// Fingerprint returns base58btc(multihash(sha2-256(publicKeyPEM))).
func Fingerprint(publicKeyPEM string) (string, error) {
	mh, err := multihash.Sum([]byte(publicKeyPEM), multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return base58.Encode(mh), nil
}

// New issues a fresh identifier for the given public key.
func New(publicKeyPEM string) (string, error) {
	fp, err := Fingerprint(publicKeyPEM)
	if err != nil {
		return "", err
	}
	return Prefix + uuid.NewString() + ":" + fp, nil
}

// Parse splits an identifier into its uuid and fingerprint parts.
func Parse(id string) (uuidPart, fingerprint string, err error) {
	if !strings.HasPrefix(id, Prefix) {
		return "", "", fmt.Errorf("%q is not a did:ans identifier", id)
	}
	parts := strings.Split(strings.TrimPrefix(id, Prefix), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed identifier %q", id)
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return "", "", fmt.Errorf("malformed identifier %q: %w", id, err)
	}
	return parts[0], parts[1], nil
}

// MatchesKey reports whether the identifier's fingerprint was derived from publicKeyPEM.
func MatchesKey(id, publicKeyPEM string) bool {
	_, fp, err := Parse(id)
	if err != nil {
		return false
	}
	want, err := Fingerprint(publicKeyPEM)
	if err != nil {
		return false
	}
	return fp == want
}

// IsDID reports whether s looks like a did:ans identifier rather than an agent ID.
func IsDID(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// Document builds the DID document for a stored agent.
func Document(entry *protocol.AgentEntry) (*protocol.DIDDocument, error) {
	if entry.DID == "" {
		return nil, errors.New("entry has no DID")
	}
	jwk, err := JWK(entry.PublicKey)
	if err != nil {
		return nil, err
	}
	keyID := entry.DID + verificationKeyID
	doc := &protocol.DIDDocument{
		Context:    []string{contextDIDv1, contextJWS2020},
		ID:         entry.DID,
		Controller: entry.DID,
		VerificationMethod: []protocol.VerificationMethod{{
			ID:           keyID,
			Type:         methodTypeJWK,
			Controller:   entry.DID,
			PublicKeyJWK: jwk,
		}},
		Authentication: []string{keyID},
	}
	if ep := entry.Endpoints[a2aEndpointKey]; ep != "" {
		doc.Service = append(doc.Service, protocol.DIDService{
			ID:              entry.DID + "#" + a2aEndpointKey,
			Type:            serviceTypeA2A,
			ServiceEndpoint: ep,
		})
	}
	return doc, nil
}

// JWK converts a PEM P-256 public key into its JSON Web Key form.
func JWK(publicKeyPEM string) (protocol.JWK, error) {
	pub, err := protocol.ParsePublicKey(publicKeyPEM)
	if err != nil {
		return protocol.JWK{}, err
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return protocol.JWK{}, fmt.Errorf("convert key: %w", err)
	}
	// Uncompressed point: 0x04 || X || Y.
	point := ecdhPub.Bytes()
	size := (len(point) - 1) / 2
	return protocol.JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(point[1 : 1+size]),
		Y:   base64.RawURLEncoding.EncodeToString(point[1+size:]),
	}, nil
}
