package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/spf13/cobra"

	"github.com/ans-project/ans/internal/secrets"
	"github.com/ans-project/ans/pkg/ansclient"
)

func newKeygenCmd() *cobra.Command {
	var (
		out       string
		encrypt   bool
		recipient string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a P-256 key pair for signing agent records",
		Long: `Generates an ECDSA P-256 key pair. Without --out both PEM blocks are
printed to stdout. With --out the private key is written to <out> (mode 0600)
and the public key to <out>.pub.

--encrypt stores the private key as an age ENC[...] value. The recipient is
--recipient or the public half of the default age identity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := ansclient.GenerateKeyPair()
			if err != nil {
				return err
			}

			private := kp.PrivateKey
			if encrypt {
				private, err = encryptPrivateKey(private, recipient)
				if err != nil {
					return err
				}
				private += "\n"
			}

			if out == "" {
				fmt.Print(kp.PublicKey)
				fmt.Print(private)
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("key file already exists: %s (remove it first to regenerate)", out)
			}
			if err := os.WriteFile(out, []byte(private), 0600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := os.WriteFile(out+".pub", []byte(kp.PublicKey), 0644); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}

			fmt.Printf("Private key written to: %s\n", out)
			fmt.Printf("Public key written to:  %s.pub\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "private key output path")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the private key with age")
	cmd.Flags().StringVar(&recipient, "recipient", "", "age public key (default: read from key file)")
	return cmd
}

func encryptPrivateKey(pem, recipient string) (string, error) {
	if recipient != "" {
		return secrets.EncryptTo(pem, recipient)
	}
	r, err := defaultRecipient()
	if err != nil {
		return "", err
	}
	return secrets.Encrypt(pem, r)
}

// defaultRecipient derives the recipient from the resolved age identity.
func defaultRecipient() (age.Recipient, error) {
	ids, err := secrets.ResolveIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if ids == nil {
		return nil, errors.New("no age key found; run 'ansctl secrets keygen' first or use --recipient")
	}
	x25519, ok := ids[0].(*age.X25519Identity)
	if !ok {
		return nil, errors.New("default key is not an X25519 identity; use --recipient to specify a public key")
	}
	return x25519.Recipient(), nil
}
