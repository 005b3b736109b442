package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ans-project/ans/pkg/protocol"
)

func newLookupCmd() *cobra.Command {
	var (
		q      protocol.LookupQuery
		caps   string
		policy string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "lookup [agent_id]",
		Short: "Look up agents by ID, capability, name or trust level",
		Example: `  ansctl lookup translator.ans
  ansctl lookup --query "Translator" --trust-level provisional
  ansctl lookup --capabilities "sales,lead generation"
  ansctl lookup --policy-requirements '{"verification_status":"verified"}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if q.AgentID != "" {
					return fmt.Errorf("agent ID given both as argument and --agent-id")
				}
				q.AgentID = args[0]
			}
			q.Capabilities = protocol.SplitList(caps)
			if policy != "" {
				var p protocol.PolicyRequirements
				if err := json.Unmarshal([]byte(policy), &p); err != nil {
					return fmt.Errorf("--policy-requirements is not valid JSON: %w", err)
				}
				q.Policy = &p
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			resp, err := client.Search(cmd.Context(), q)
			if err != nil {
				return err
			}

			if len(resp.Results) == 0 {
				fmt.Println("No agents found matching the criteria.")
				return nil
			}
			if asJSON {
				return printJSON(resp)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT ID\tNAME\tTRUST\tCAPABILITIES\tDID")
			for _, r := range resp.Results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.AgentID, r.Name, r.Verification.Level,
					strings.Join(r.Capabilities, ","), r.DID,
				)
			}
			w.Flush()

			fmt.Printf("\n%d of %d matches", len(resp.Results), resp.TotalMatches)
			if resp.NextPageToken != "" {
				fmt.Printf(", next page: --page-token %s", resp.NextPageToken)
			}
			fmt.Println()
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&q.AgentID, "agent-id", "", "exact agent ID")
	f.StringVar(&caps, "capabilities", "", "comma separated capabilities, all required")
	f.StringVar(&q.NamePrefix, "query", "", "agent name prefix")
	f.StringVar(&q.TrustLevel, "trust-level", "", "verification status (provisional, verified)")
	f.StringVar(&policy, "policy-requirements", "", "policy requirements as JSON")
	f.IntVar(&q.Limit, "limit", 0, "maximum results (registry default 10)")
	f.StringVar(&q.PageToken, "page-token", "", "continue after this agent ID")
	f.BoolVar(&asJSON, "json", false, "print the raw lookup response")
	return cmd
}
