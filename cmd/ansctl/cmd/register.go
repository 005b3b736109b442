package cmd

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ans-project/ans/pkg/ansclient"
	"github.com/ans-project/ans/pkg/protocol"
)

func newRegisterCmd() *cobra.Command {
	var (
		keyFile    string
		rotateFrom string
		critical   bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "register <record-file>",
		Short: "Sign and register an agent record",
		Long: `Reads an agent record from a JSON, TOML or YAML file, signs it with --key and
submits it to the registry. public_key may be omitted; it is derived from the
signing key.

Changing the key of an existing agent requires --rotate-from with the
previously registered private key.

Example record (agent.toml):

  agent_id     = "my-python-agent.ans"
  name         = "My Python Agent"
  capabilities = ["python", "automation"]

  [endpoints]
  a2a = "https://agent.example.com/a2a"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFile == "" {
				return errors.New("--key is required")
			}
			rec, err := readRecord(args[0])
			if err != nil {
				return err
			}
			if critical {
				rec.CriticalRegistration = true
			}

			privPEM, err := readPrivateKey(keyFile)
			if err != nil {
				return err
			}
			priv, err := protocol.ParsePrivateKey(privPEM)
			if err != nil {
				return fmt.Errorf("parse private key: %w", err)
			}
			if rec.PublicKey == "" {
				if rec.PublicKey, err = protocol.EncodePublicKey(&priv.PublicKey); err != nil {
					return err
				}
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			var receipt *protocol.RegistrationReceipt
			if rotateFrom == "" {
				receipt, err = client.Register(cmd.Context(), rec, privPEM)
			} else {
				receipt, err = registerRotation(cmd, client, rec, priv, rotateFrom)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(receipt)
			}
			verb := "Registered"
			if receipt.Updated {
				verb = "Updated"
			}
			fmt.Printf("%s %s\n", verb, receipt.AgentID)
			fmt.Printf("DID:             %s\n", receipt.DID)
			fmt.Printf("Status:          %s\n", receipt.ProvisionalStatus)
			fmt.Printf("Verification ID: %s\n", receipt.VerificationID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyFile, "key", "k", "", "private key PEM file (may be ENC[...] encrypted)")
	cmd.Flags().StringVar(&rotateFrom, "rotate-from", "", "previously registered private key, when changing keys")
	cmd.Flags().BoolVar(&critical, "critical", false, "mark the registration critical (priority sync)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full receipt as JSON")
	return cmd
}

// registerRotation signs rec with the new key and countersigns it with the
// key currently on record.
func registerRotation(cmd *cobra.Command, client *ansclient.Client, rec protocol.AgentRecord, priv *ecdsa.PrivateKey, oldKeyFile string) (*protocol.RegistrationReceipt, error) {
	oldPEM, err := readPrivateKey(oldKeyFile)
	if err != nil {
		return nil, err
	}
	oldKey, err := protocol.ParsePrivateKey(oldPEM)
	if err != nil {
		return nil, fmt.Errorf("parse --rotate-from key: %w", err)
	}

	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	reg, err := protocol.SignRecord(rec, priv)
	if err != nil {
		return nil, err
	}
	if err := protocol.SignRotation(reg, oldKey); err != nil {
		return nil, err
	}
	return client.Submit(cmd.Context(), reg)
}

// readRecord decodes a record file using the json tags of AgentRecord, so
// the same field names work in every format viper reads.
func readRecord(path string) (protocol.AgentRecord, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return protocol.AgentRecord{}, fmt.Errorf("read record: %w", err)
	}
	var rec protocol.AgentRecord
	err := v.Unmarshal(&rec, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
		dc.ErrorUnused = true
	})
	if err != nil {
		return rec, fmt.Errorf("decode record %s: %w", path, err)
	}
	return rec, nil
}
