package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ans-project/ans/internal/secrets"
	"github.com/ans-project/ans/pkg/ansclient"
)

// newClient builds a registry client from the merged configuration.
func newClient() (*ansclient.Client, error) {
	opts := []ansclient.Option{
		ansclient.WithUserAgent("ansctl/" + Version),
		ansclient.WithTimeout(cfg.GetDuration("registry.timeout")),
	}
	if key := cfg.GetString("registry.api_key"); key != "" {
		opts = append(opts, ansclient.WithAPIKey(key))
	}
	return ansclient.New(cfg.GetString("registry.url"), opts...)
}

// readPrivateKey reads a PEM private key file, decrypting it if it was
// written by `ansctl keygen --encrypt`.
func readPrivateKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}
	pem, err := secrets.Reveal(strings.TrimSpace(string(data)), cfg)
	if err != nil {
		return "", fmt.Errorf("decrypt private key %s: %w", path, err)
	}
	return pem, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
