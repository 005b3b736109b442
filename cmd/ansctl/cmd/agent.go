package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <agent_id>",
		Short: "Show the registry entry for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			e, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(e)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Agent ID:\t%s\n", e.AgentID)
			fmt.Fprintf(w, "Name:\t%s\n", e.Name)
			if e.Organization != "" {
				fmt.Fprintf(w, "Organization:\t%s\n", e.Organization)
			}
			fmt.Fprintf(w, "DID:\t%s\n", e.DID)
			fmt.Fprintf(w, "Status:\t%s\n", e.VerificationStatus)
			fmt.Fprintf(w, "Capabilities:\t%s\n", strings.Join(e.Capabilities, ", "))
			names := make([]string, 0, len(e.Endpoints))
			for name := range e.Endpoints {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "Endpoint %s:\t%s\n", name, e.Endpoints[name])
			}
			fmt.Fprintf(w, "Updated:\t%s\n", e.UpdatedAt.Format("2006-01-02 15:04:05"))
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the entry as JSON")
	return cmd
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <did|agent_id>",
		Short: "Resolve a did:ans identifier to its DID document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			doc, err := client.ResolveDID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}
}

func newDeregisterCmd() *cobra.Command {
	var (
		keyFile string
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "deregister <agent_id>",
		Short: "Remove an agent, signed with its registered key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFile == "" {
				return fmt.Errorf("--key is required")
			}
			privPEM, err := readPrivateKey(keyFile)
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Deregister(cmd.Context(), args[0], reason, privPEM); err != nil {
				return err
			}
			fmt.Printf("Deregistered %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyFile, "key", "k", "", "private key PEM file (may be ENC[...] encrypted)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the sync event")
	return cmd
}
