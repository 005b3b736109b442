// Package secrets provides age-based encryption for config values and
// private key files.
//
// Encrypted values use the format ENC[<base64(age-ciphertext)>]. They can be
// placed inline in TOML config files (for example server.api_keys or
// nats.token) or written in place of a PEM private key by `ansctl keygen
// --encrypt`. Each binary decrypts independently using an age identity
// resolved from env vars, config, or a default key file.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	encPrefix = "ENC["
	encSuffix = "]"

	// DefaultKeyFilename is the default age identity filename.
	DefaultKeyFilename = "age.key"

	// EnvAgeKey is the env var for a raw AGE-SECRET-KEY-1... string.
	EnvAgeKey = "ANS_AGE_KEY"

	// EnvAgeKeyFile is the env var for a path to an age identity file.
	EnvAgeKeyFile = "ANS_AGE_KEY_FILE"
)

// ErrNoIdentity is returned when encrypted data is found but no age identity
// is configured.
var ErrNoIdentity = errors.New("encrypted values present but no age identity is configured; set " +
	EnvAgeKey + ", " + EnvAgeKeyFile + ", or secrets.identity")

// IsEncrypted reports whether value is wrapped in ENC[...].
func IsEncrypted(value string) bool {
	return len(value) > len(encPrefix)+len(encSuffix) &&
		strings.HasPrefix(value, encPrefix) && strings.HasSuffix(value, encSuffix)
}

// Encrypt encrypts plaintext for the given recipients and returns an ENC[...] string.
func Encrypt(plaintext string, recipients ...age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize encryption: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// EncryptTo encrypts plaintext for an age1... recipient string.
func EncryptTo(plaintext, recipient string) (string, error) {
	r, err := age.ParseX25519Recipient(strings.TrimSpace(recipient))
	if err != nil {
		return "", fmt.Errorf("parse recipient: %w", err)
	}
	return Encrypt(plaintext, r)
}

// Decrypt decrypts an ENC[...] value using the provided identities.
func Decrypt(enc string, identities ...age.Identity) (string, error) {
	enc = strings.TrimSpace(enc)
	if !IsEncrypted(enc) {
		return "", fmt.Errorf("value is not encrypted (missing ENC[...] wrapper)")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc[len(encPrefix) : len(enc)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted data: %w", err)
	}
	return string(plaintext), nil
}

// GenerateIdentity generates a new X25519 age identity.
func GenerateIdentity() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// LoadIdentity loads age identities from a key file.
func LoadIdentity(keyPath string) ([]age.Identity, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()
	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	return identities, nil
}

// IdentityFromString parses a raw AGE-SECRET-KEY-1... string.
func IdentityFromString(key string) (*age.X25519Identity, error) {
	return age.ParseX25519Identity(strings.TrimSpace(key))
}

// DefaultIdentityPath returns ~/.config/ans/age.key.
func DefaultIdentityPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "ans", DefaultKeyFilename), nil
}

// ResolveIdentity finds an age identity from env vars, config, or the default
// key file. Returns (nil, nil) if no identity is configured anywhere.
//
// Priority: ANS_AGE_KEY env, ANS_AGE_KEY_FILE env, secrets.identity config,
// then ~/.config/ans/age.key.
func ResolveIdentity(v *viper.Viper) ([]age.Identity, error) {
	if raw := os.Getenv(EnvAgeKey); raw != "" {
		id, err := IdentityFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgeKey, err)
		}
		return []age.Identity{id}, nil
	}

	if path := os.Getenv(EnvAgeKeyFile); path != "" {
		return LoadIdentity(path)
	}

	if v != nil {
		if path := v.GetString("secrets.identity"); path != "" {
			return LoadIdentity(expandHome(path))
		}
	}

	defaultPath, err := DefaultIdentityPath()
	if err != nil {
		return nil, nil
	}
	if _, err := os.Stat(defaultPath); err != nil {
		return nil, nil
	}
	return LoadIdentity(defaultPath)
}

// Load decrypts every ENC[...] value in v in place. It fails if encrypted
// values are present and no identity can be resolved.
func Load(v *viper.Viper) error {
	identities, err := ResolveIdentity(v)
	if err != nil {
		return fmt.Errorf("resolve encryption identity: %w", err)
	}
	if identities == nil {
		if HasEncryptedValues(v) {
			return ErrNoIdentity
		}
		return nil
	}
	if err := DecryptViperConfig(v, identities); err != nil {
		return fmt.Errorf("decrypt config: %w", err)
	}
	return nil
}

// Reveal returns value unchanged unless it is ENC[...], in which case it is
// decrypted with the resolved identity. v may be nil.
func Reveal(value string, v *viper.Viper) (string, error) {
	if !IsEncrypted(strings.TrimSpace(value)) {
		return value, nil
	}
	identities, err := ResolveIdentity(v)
	if err != nil {
		return "", fmt.Errorf("resolve encryption identity: %w", err)
	}
	if identities == nil {
		return "", ErrNoIdentity
	}
	return Decrypt(value, identities...)
}

// DecryptViperConfig walks all Viper keys and decrypts any ENC[...] string
// values in place. String slices (such as server.api_keys) are decrypted
// element-wise.
func DecryptViperConfig(v *viper.Viper, identities []age.Identity) error {
	for _, key := range v.AllKeys() {
		if list, ok := v.Get(key).([]any); ok {
			out := make([]string, 0, len(list))
			changed := false
			for i, item := range list {
				s := fmt.Sprint(item)
				if IsEncrypted(s) {
					plain, err := Decrypt(s, identities...)
					if err != nil {
						return fmt.Errorf("decrypt config key %q[%d]: %w", key, i, err)
					}
					s, changed = plain, true
				}
				out = append(out, s)
			}
			if changed {
				v.Set(key, out)
			}
			continue
		}

		val := v.GetString(key)
		if !IsEncrypted(val) {
			continue
		}
		plaintext, err := Decrypt(val, identities...)
		if err != nil {
			return fmt.Errorf("decrypt config key %q: %w", key, err)
		}
		v.Set(key, plaintext)
	}
	return nil
}

// HasEncryptedValues reports whether any Viper value uses ENC[...].
func HasEncryptedValues(v *viper.Viper) bool {
	for _, key := range v.AllKeys() {
		if list, ok := v.Get(key).([]any); ok {
			for _, item := range list {
				if IsEncrypted(fmt.Sprint(item)) {
					return true
				}
			}
			continue
		}
		if IsEncrypted(v.GetString(key)) {
			return true
		}
	}
	return false
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}
