package protocol

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

const (
	pemPublicKey  = "PUBLIC KEY"
	pemPrivateKey = "PRIVATE KEY"
)

// KeyPair holds a PEM-encoded ECDSA P-256 identity. PublicKey is PKIX,
// PrivateKey is PKCS#8.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// GenerateKeyPair creates a fresh P-256 key pair from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	return GenerateKeyPairFrom(rand.Reader)
}

// GenerateKeyPairFrom creates a P-256 key pair reading entropy from r.
func GenerateKeyPairFrom(r io.Reader) (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), r)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate p256 key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal private key: %w", err)
	}
	pub, err := EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		PublicKey:  pub,
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: privDER})),
	}, nil
}

// EncodePublicKey returns the PKIX PEM form of pub.
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der})), nil
}

// ParsePublicKey decodes a PKIX PEM public key. Only P-256 ECDSA keys are accepted.
func ParsePublicKey(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != pemPublicKey {
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errors.New("public key is not ECDSA P-256")
	}
	return pub, nil
}

// ParsePrivateKey decodes a PKCS#8 PEM private key. Legacy "EC PRIVATE KEY"
// (SEC 1) blocks are accepted too.
func ParsePrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	var (
		key any
		err error
	)
	switch block.Type {
	case pemPrivateKey:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok || priv.Curve != elliptic.P256() {
		return nil, errors.New("private key is not ECDSA P-256")
	}
	return priv, nil
}

// MatchesPublicKey reports whether priv is the private half of the PEM public key.
func MatchesPublicKey(priv *ecdsa.PrivateKey, publicKeyPEM string) bool {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}
	return priv.PublicKey.Equal(pub)
}
