package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/jmerrifield20/SubzoneRegistry/pkg/client"
	"github.com/spf13/cobra"
)

// ── check ────────────────────────────────────────────────────────────────────

func (s *settings) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <label>",
		Short: "Check whether a label can be claimed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			avail, err := c.CheckAvailability(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			if s.jsonOutput() {
				return s.printJSON(avail)
			}
			if avail.Available {
				fmt.Fprintf(s.out, "✓ %s is available\n", avail.Label)
			} else {
				fmt.Fprintf(s.out, "✗ %s is not available: %s\n", avail.Label, avail.Reason)
			}
			return nil
		},
	}
}

// ── claim ────────────────────────────────────────────────────────────────────

func (s *settings) claimCmd() *cobra.Command {
	var recordType string
	cmd := &cobra.Command{
		Use:   "claim <label> <target>",
		Short: "Claim a subdomain and point it at an IPv4 address or host name",
		Long: `Claim registers <label> under the registry's parent zone.

The target is an IPv4 address for an A record (the default) or a host
name for a CNAME record:

  subzone claim myblog 192.0.2.10
  subzone claim docs --type CNAME myuser.github.io`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			res, err := c.Claim(cmd.Context(), client.ClaimRequest{
				Label:      args[0],
				RecordType: recordType,
				Target:     args[1],
			})
			if err != nil {
				return describe(err)
			}
			return s.printResult(res)
		},
	}
	cmd.Flags().StringVar(&recordType, "type", "A", "record type: A or CNAME")
	return cmd
}

// ── list ─────────────────────────────────────────────────────────────────────

func (s *settings) listCmd() *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your subdomains (all subdomains for admins)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			page, err := c.List(cmd.Context(), opts)
			if err != nil {
				return describe(err)
			}
			if s.jsonOutput() {
				return s.printJSON(page)
			}
			w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFQDN\tTYPE\tTARGET\tSTATUS\tDNS")
			for _, sd := range page.Subdomains {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					sd.ID, sd.FQDN, sd.RecordType, sd.Target, sd.Status, dnsWord(sd.DNSCreated, sd.Status))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Fprintf(s.out, "\nMore results: subzone list --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status: pending, approved or rejected")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "filter by owner id (admins only)")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "continue after this subdomain id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size (default 50, max 200)")
	return cmd
}

// ── get / set-target / approve / reject / sync / delete ──────────────────────

func (s *settings) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one subdomain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			res, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			return s.printResult(res)
		},
	}
}

func (s *settings) setTargetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-target <id> <target>",
		Short: "Point a subdomain at a new target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			res, err := c.SetTarget(cmd.Context(), args[0], args[1])
			if err != nil {
				return describe(err)
			}
			return s.printResult(res)
		},
	}
}

func (s *settings) statusCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			decide := c.Approve
			if verb == "reject" {
				decide = c.Reject
			}
			res, err := decide(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			return s.printResult(res)
		},
	}
}

func (s *settings) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <id>",
		Short: "Retry publishing a subdomain's DNS record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			res, err := c.SyncDNS(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			return s.printResult(res)
		},
	}
}

func (s *settings) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a subdomain and free its label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), args[0]); err != nil {
				return describe(err)
			}
			fmt.Fprintf(s.out, "✓ deleted %s\n", args[0])
			return nil
		},
	}
}

func (s *settings) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the subzone CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(s.out, "subzone %s\n", version)
		},
	}
}

// ── output ───────────────────────────────────────────────────────────────────

func (s *settings) printJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (s *settings) printResult(res *client.Result) error {
	if s.jsonOutput() {
		return s.printJSON(res)
	}
	sd := res.Subdomain
	fmt.Fprintf(s.out, "ID:      %s\n", sd.ID)
	fmt.Fprintf(s.out, "FQDN:    %s\n", sd.FQDN)
	fmt.Fprintf(s.out, "Record:  %s %s\n", sd.RecordType, sd.Target)
	fmt.Fprintf(s.out, "Status:  %s\n", sd.Status)
	fmt.Fprintf(s.out, "DNS:     %s\n", dnsWord(res.DNS.Synced, sd.Status))
	if res.DNS.Error != nil {
		fmt.Fprintf(s.out, "Error:   %s\n", *res.DNS.Error)
	}
	if res.DNS.RetryAvailable {
		fmt.Fprintf(s.out, "\nThe record is registered but not yet published. Retry with:\n  subzone sync %s\n", sd.ID)
	}
	return nil
}

func dnsWord(synced bool, status string) string {
	switch {
	case synced:
		return "published"
	case status == "approved":
		return "not published"
	default:
		return "-"
	}
}

// describe turns API errors into a one-line message for the terminal.
func describe(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case client.CodeUnauthenticated:
			return fmt.Errorf("%s (pass --token or set SUBZONE_TOKEN)", apiErr.Message)
		case "":
			return fmt.Errorf("registry returned %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	return err
}
