package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/spf13/cobra"

	"github.com/ans-project/ans/internal/secrets"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage age encryption for config values and private keys",
	}

	cmd.AddCommand(newSecretsKeygenCmd())
	cmd.AddCommand(newSecretsEncryptCmd())
	cmd.AddCommand(newSecretsDecryptCmd())

	return cmd
}

func newSecretsKeygenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new age identity",
		Long: `Generates a new X25519 age identity and writes it to a file. The public key
(recipient) is printed for use with 'ansctl secrets encrypt --recipient' and
'ansctl keygen --encrypt --recipient'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := secrets.GenerateIdentity()
			if err != nil {
				return fmt.Errorf("generate identity: %w", err)
			}

			if output == "" {
				output, err = secrets.DefaultIdentityPath()
				if err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(output), 0700); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("key file already exists: %s (remove it first to regenerate)", output)
			}

			content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
				time.Now().Format(time.RFC3339),
				identity.Recipient().String(),
				identity.String(),
			)
			if err := os.WriteFile(output, []byte(content), 0600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}

			fmt.Printf("Key file written to: %s\n", output)
			fmt.Printf("Public key: %s\n", identity.Recipient().String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: ~/.config/ans/age.key)")
	return cmd
}

func newSecretsEncryptCmd() *cobra.Command {
	var recipientKey string

	cmd := &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value for use in config files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				encrypted string
				err       error
			)
			if recipientKey != "" {
				encrypted, err = secrets.EncryptTo(args[0], recipientKey)
			} else {
				var r age.Recipient
				if r, err = defaultRecipient(); err != nil {
					return err
				}
				encrypted, err = secrets.Encrypt(args[0], r)
			}
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}

			fmt.Println(encrypted)
			return nil
		},
	}

	cmd.Flags().StringVar(&recipientKey, "recipient", "", "age public key (default: read from key file)")
	return cmd
}

func newSecretsDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <encrypted-value>",
		Short: "Decrypt an ENC[...] value (for debugging)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := secrets.Reveal(args[0], cfg)
			if err != nil {
				return err
			}
			fmt.Println(plaintext)
			return nil
		},
	}
}
