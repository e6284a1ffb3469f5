package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-forensics/custodia/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	actorID   string
	authToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "custodia",
	Short: "Custodia evidence ledger CLI",
	Long: `custodia is the command-line interface for the Custodia evidence ledger.

It registers evidence items, records custody events, drives transfer
approvals, and verifies chain integrity against a Custodia server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".custodia"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if actorID == "" {
			actorID = viper.GetString("actor_id")
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.custodia/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Custodia server URL")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "Actor ID (development servers only)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token from the agency identity provider")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(correlateCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client from flags, falling back to the saved
// ~/.custodia credentials profile.
func newClient() (*client.Client, error) {
	if serverURL != "" {
		opts := []client.Option{}
		if authToken != "" {
			opts = append(opts, client.WithBearerToken(authToken))
		}
		if actorID != "" {
			opts = append(opts, client.WithActorID(actorID))
		}
		return client.New(strings.TrimRight(serverURL, "/"), opts...)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	c, err := client.NewFromCredentialsDir(filepath.Join(home, ".custodia"))
	if err != nil {
		return nil, fmt.Errorf("no --server flag and no saved profile (run 'custodia login' first): %w", err)
	}
	return c, nil
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login <server-url>",
	Short: "Save a server profile to ~/.custodia",
	Long: `login writes the server URL and identity to ~/.custodia/credentials.json
so later commands can run without flags:

  custodia login https://custodia.internal:8443 --token eyJhbG...
  custodia login http://localhost:8080 --actor officer-7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if authToken == "" && actorID == "" {
			return fmt.Errorf("provide --token or (for development servers) --actor")
		}

		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		creds := &client.Credentials{
			BaseURL: strings.TrimRight(args[0], "/"),
			Token:   authToken,
			ActorID: actorID,
		}
		dir := filepath.Join(home, ".custodia")
		if err := creds.Save(dir); err != nil {
			return err
		}
		fmt.Printf("✓ Profile saved to %s\n", filepath.Join(dir, "credentials.json"))
		return nil
	},
}

// ── register ─────────────────────────────────────────────────────────────────

var (
	regCaseID      string
	regType        string
	regDescription string
)

var registerCmd = &cobra.Command{
	Use:   "register <evidence-id>",
	Short: "Register a new evidence item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		item, err := c.RegisterEvidence(context.Background(), client.RegisterEvidenceRequest{
			EvidenceID:   args[0],
			CaseID:       regCaseID,
			EvidenceType: regType,
			Description:  regDescription,
		})
		if err != nil {
			return fmt.Errorf("register evidence: %w", err)
		}

		fmt.Printf("✓ Evidence registered\n\n")
		fmt.Printf("  ID:   %s\n", item.ID)
		fmt.Printf("  Case: %s\n", item.CaseID)
		fmt.Printf("  Type: %s\n\n", item.EvidenceType)
		fmt.Printf("Next: custodia event %s --action collected --location <where>\n", item.ID)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&regCaseID, "case", "", "Case the item belongs to")
	registerCmd.Flags().StringVar(&regType, "type", "", "Evidence type (e.g. physical, digital, document)")
	registerCmd.Flags().StringVar(&regDescription, "description", "", "Free-form description")

	_ = registerCmd.MarkFlagRequired("case")
	_ = registerCmd.MarkFlagRequired("type")
}

// ── event ────────────────────────────────────────────────────────────────────

var (
	eventAction   string
	eventLocation string
)

var eventCmd = &cobra.Command{
	Use:   "event <evidence-id>",
	Short: "Record a custody event for an item",
	Long: `event appends a hash-chained custody record.

Actions: collected, transferred, analysis_started, analysis_ended, archived.
Transfers of custody should normally go through 'custodia transfer' so a
second actor approves them; recording "transferred" directly is for
import/backfill scenarios.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		event, err := c.AppendEvent(context.Background(), args[0], eventAction, eventLocation)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}

		fmt.Printf("✓ Event recorded\n\n")
		fmt.Printf("  Sequence: %d\n", event.Sequence)
		fmt.Printf("  Action:   %s\n", event.Action)
		fmt.Printf("  Actor:    %s\n", event.ActorID)
		fmt.Printf("  Hash:     %s\n", event.EntryHash)
		return nil
	},
}

func init() {
	eventCmd.Flags().StringVar(&eventAction, "action", "", "Custody action")
	eventCmd.Flags().StringVar(&eventLocation, "location", "", "Where the item is")

	_ = eventCmd.MarkFlagRequired("action")
	_ = eventCmd.MarkFlagRequired("location")
}

// ── history ──────────────────────────────────────────────────────────────────

var historyFormat string

var historyCmd = &cobra.Command{
	Use:   "history <evidence-id>",
	Short: "Show an item's full custody chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		events, err := c.History(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}

		if historyFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}

		if len(events) == 0 {
			fmt.Println("no custody events recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tACTION\tACTOR\tLOCATION\tTIME\tHASH")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Sequence, e.Action, e.ActorID, e.Location,
				e.Timestamp.Local().Format(time.RFC3339), shortHash(e.EntryHash),
			)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "Output format: text or json")
}

// shortHash abbreviates a 64-char hex hash for table output.
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12] + "…"
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <evidence-id> [evidence-id] ...",
	Short: "Verify chain integrity for one or more items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		broken := 0
		for _, id := range args {
			result, err := c.Verify(ctx, id)
			if err != nil {
				return fmt.Errorf("verify %s: %w", id, err)
			}
			if result.Intact {
				fmt.Printf("✓ %s intact (%d events)\n", id, result.Recomputed)
				continue
			}
			broken++
			at := -1
			if result.BrokenAt != nil {
				at = *result.BrokenAt
			}
			fmt.Printf("✗ %s BROKEN at sequence %d (%s)\n", id, at, result.BreakKind)
		}

		if broken > 0 {
			return fmt.Errorf("%d of %d chain(s) failed verification", broken, len(args))
		}
		return nil
	},
}

// ── transfer ─────────────────────────────────────────────────────────────────

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Manage custody transfer requests",
	Long: `transfer drives the two-party custody handoff workflow.

The current custodian creates a request; a different actor approves or
rejects it. Approval appends the "transferred" custody event atomically.`,
}

var (
	transferRecipient string
	transferPurpose   string
	transferNotes     string
)

var transferCreateCmd = &cobra.Command{
	Use:   "create <evidence-id>",
	Short: "Request a custody transfer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		tr, err := c.CreateTransfer(context.Background(), client.CreateTransferRequest{
			EvidenceID: args[0],
			Recipient:  transferRecipient,
			Purpose:    transferPurpose,
			Notes:      transferNotes,
		})
		if err != nil {
			return fmt.Errorf("create transfer: %w", err)
		}

		fmt.Printf("✓ Transfer requested\n\n")
		fmt.Printf("  Request ID: %s\n", tr.ID)
		fmt.Printf("  Evidence:   %s\n", tr.EvidenceID)
		fmt.Printf("  Recipient:  %s\n\n", tr.Recipient)
		fmt.Printf("Awaiting approval: custodia transfer approve %s\n", tr.ID)
		return nil
	},
}

var transferApproveForce bool

var transferApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending transfer (appends the custody event)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		tr, err := c.GetTransfer(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get transfer: %w", err)
		}

		fmt.Printf("\nTransfer to approve:\n\n")
		fmt.Printf("  Evidence:  %s\n", tr.EvidenceID)
		fmt.Printf("  Requested: %s\n", tr.RequestedBy)
		fmt.Printf("  Recipient: %s\n", tr.Recipient)
		if tr.Purpose != "" {
			fmt.Printf("  Purpose:   %s\n", tr.Purpose)
		}
		fmt.Println()

		if !transferApproveForce {
			fmt.Print("Approving records a permanent custody event. Confirm? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		result, err := c.ApproveTransfer(ctx, args[0])
		if err != nil {
			return fmt.Errorf("approve failed: %w", err)
		}

		fmt.Printf("✓ Transfer approved\n\n")
		fmt.Printf("  Event seq: %d\n", result.Event.Sequence)
		fmt.Printf("  Location:  %s\n", result.Event.Location)
		fmt.Printf("  Hash:      %s\n", result.Event.EntryHash)
		return nil
	},
}

var transferRejectReason string

var transferRejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a pending transfer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		tr, err := c.RejectTransfer(context.Background(), args[0], transferRejectReason)
		if err != nil {
			return fmt.Errorf("reject failed: %w", err)
		}
		fmt.Printf("✓ Transfer %s rejected\n", tr.ID)
		return nil
	},
}

var transferCancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Withdraw your own pending transfer request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		tr, err := c.CancelTransfer(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("cancel failed: %w", err)
		}
		fmt.Printf("✓ Transfer %s cancelled\n", tr.ID)
		return nil
	},
}

var transferListCmd = &cobra.Command{
	Use:   "list <evidence-id>",
	Short: "List all transfer requests for an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		transfers, err := c.ListTransfers(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list transfers: %w", err)
		}
		if len(transfers) == 0 {
			fmt.Println("no transfer requests")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tREQUESTED BY\tRECIPIENT\tDECIDED BY\tCREATED")
		for _, tr := range transfers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				tr.ID, tr.Status, tr.RequestedBy, tr.Recipient, tr.DecidedBy,
				tr.CreatedAt.Local().Format(time.RFC3339),
			)
		}
		return w.Flush()
	},
}

func init() {
	transferCreateCmd.Flags().StringVar(&transferRecipient, "to", "", "Receiving custodian or facility")
	transferCreateCmd.Flags().StringVar(&transferPurpose, "purpose", "", "Why custody is changing")
	transferCreateCmd.Flags().StringVar(&transferNotes, "notes", "", "Free-form notes")
	_ = transferCreateCmd.MarkFlagRequired("to")

	transferApproveCmd.Flags().BoolVar(&transferApproveForce, "force", false, "Skip confirmation prompt")
	transferRejectCmd.Flags().StringVar(&transferRejectReason, "reason", "", "Rejection reason")

	transferCmd.AddCommand(transferCreateCmd)
	transferCmd.AddCommand(transferApproveCmd)
	transferCmd.AddCommand(transferRejectCmd)
	transferCmd.AddCommand(transferCancelCmd)
	transferCmd.AddCommand(transferListCmd)
}

// ── correlate ────────────────────────────────────────────────────────────────

var (
	correlateByType   bool
	correlateLocation string
	correlateWithin   time.Duration
	correlateFormat   string
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Find cross-case evidence correlations",
	Long: `correlate asks the server for evidence pairs in different cases that
match the given criteria. Results are investigative leads, not conclusions.

  custodia correlate --type --location "Warehouse*" --within 48h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !correlateByType && correlateLocation == "" && correlateWithin == 0 {
			return errors.New("set at least one of --type, --location, --within")
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		matches, err := c.CorrelateCases(context.Background(), client.CorrelateQuery{
			ByType:     correlateByType,
			Location:   correlateLocation,
			TimeWindow: correlateWithin,
		})
		if err != nil {
			return fmt.Errorf("correlate: %w", err)
		}

		if correlateFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(matches)
		}

		if len(matches) == 0 {
			fmt.Println("no correlations found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tCASE A\tEVIDENCE A\tCASE B\tEVIDENCE B\tREASONS")
		for _, m := range matches {
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\t%s\t%s\n",
				m.Score, m.CaseA, m.EvidenceA, m.CaseB, m.EvidenceB,
				strings.Join(m.Reasons, ", "),
			)
		}
		return w.Flush()
	},
}

func init() {
	correlateCmd.Flags().BoolVar(&correlateByType, "type", false, "Match on evidence type")
	correlateCmd.Flags().StringVar(&correlateLocation, "location", "", "Match on location (glob pattern or substring)")
	correlateCmd.Flags().DurationVar(&correlateWithin, "within", 0, "Match events recorded within this window (e.g. 48h)")
	correlateCmd.Flags().StringVar(&correlateFormat, "format", "text", "Output format: text or json")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the custodia CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("custodia %s\n", version)
	},
}
