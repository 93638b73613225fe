package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aamirshehzad9/GentleOmega/internal/handler"
	"github.com/aamirshehzad9/GentleOmega/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL   string
	adminSecret string
	cfgFile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "omega",
	Short: "GentleOmega proof ledger CLI",
	Long: `omega is the command-line interface for a GentleOmega server.

It inspects the proof ledger, verifies and repairs the hash chain, and
drives the chain reconciliation loop over the server's HTTP API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.omega")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if adminSecret == "" {
			adminSecret = viper.GetString("admin_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.omega/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "GentleOmega server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", "", "shared admin secret for cycle/repair commands")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client; admin commands get a short-lived JWT minted
// from the shared secret.
func newClient(admin bool) (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(30 * time.Second)}
	if admin {
		token, err := handler.IssueAdminToken(adminSecret, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("set --admin-secret or admin_secret in config: %w", err)
		}
		opts = append(opts, client.WithAdminToken(token))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── status ───────────────────────────────────────────────────────────────────

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chain connectivity and submission backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		status, err := c.Status(context.Background())
		if err != nil {
			return err
		}
		if statusJSON {
			return printJSON(status)
		}
		fmt.Printf("Status:     %s\n", status.Status)
		fmt.Printf("RPC:        ok=%t latency=%dms\n", status.RPCOk, status.RPCLatencyMS)
		fmt.Printf("Last block: %d\n", status.LastBlock)
		fmt.Printf("Queued:     %d\n", status.QueuedTx)
		fmt.Printf("Pending:    %d\n", status.PendingTx)
		fmt.Printf("Verified:   %d\n", status.Verified)
		fmt.Printf("Failed:     %d\n", status.FailedTx)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output raw JSON")
}

// ── metrics ──────────────────────────────────────────────────────────────────

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show ledger totals and synchronization state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		metrics, err := c.Metrics(context.Background())
		if err != nil {
			return err
		}
		return printJSON(metrics)
	},
}

// ── verify / repair ──────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the hash-chained ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		result, err := c.VerifyLedger(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Integrity: %s (%d entries, %d verified)\n",
			result.Integrity, result.Entries, result.Verified)
		if len(result.BrokenLinks) > 0 {
			fmt.Println("Broken links:")
			for _, b := range result.BrokenLinks {
				fmt.Printf("  - %s\n", b)
			}
			return fmt.Errorf("ledger integrity compromised")
		}
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Relink broken previous_hash pointers in the ledger (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(true)
		if err != nil {
			return err
		}
		result, err := c.RepairLedger(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Repaired %d link(s); integrity now %s\n",
			result.Repaired, result.Verification.Integrity)
		return nil
	},
}

// ── cycle ────────────────────────────────────────────────────────────────────

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one reconciliation cycle immediately (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(true)
		if err != nil {
			return err
		}
		result, err := c.RunCycle(context.Background())
		if err != nil {
			return err
		}
		m := result.Metrics
		fmt.Printf("Cycle complete: enqueued=%d submitted=%d confirmed=%d rpc_ok=%t\n",
			m.Enqueued, m.Submitted, m.Confirmed, m.RPCOk)
		return nil
	},
}

// ── ledger ───────────────────────────────────────────────────────────────────

var (
	ledgerLimit  int
	ledgerStatus string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Browse recent ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		entries, err := c.Ledger(context.Background(), ledgerLimit, ledgerStatus)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tHASH\tTX")
		for _, e := range entries {
			hash := e.Hash
			if len(hash) > 16 {
				hash = hash[:16]
			}
			tx := ""
			if e.TxHash != nil {
				tx = *e.TxHash
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.ID, e.ContentType, e.Status, hash, tx)
		}
		return w.Flush()
	},
}

func init() {
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "Maximum number of entries (1-1000)")
	ledgerCmd.Flags().StringVar(&ledgerStatus, "status", "", "Filter by submission status (queued, pending, confirmed, failed)")
}

// ── task ─────────────────────────────────────────────────────────────────────

var (
	taskType string
	taskData string
	taskWait bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit a task to the orchestrator",
	Long: `Submit a task and optionally wait for it to finish:

  omega task --type create_item --data '{"name":"invoice-42"}' --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]any
		if taskData != "" {
			if err := json.Unmarshal([]byte(taskData), &data); err != nil {
				return fmt.Errorf("invalid --data JSON: %w", err)
			}
		}

		c, err := newClient(false)
		if err != nil {
			return err
		}

		ctx := context.Background()
		id, err := c.SubmitTask(ctx, taskType, data)
		if err != nil {
			return err
		}
		fmt.Printf("Task submitted: %s\n", id)

		if !taskWait {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		task, err := c.WaitTask(waitCtx, id, time.Second)
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

func init() {
	taskCmd.Flags().StringVar(&taskType, "type", "create_item", "Task type")
	taskCmd.Flags().StringVar(&taskData, "data", "", "Task payload as a JSON object")
	taskCmd.Flags().BoolVar(&taskWait, "wait", false, "Poll until the task reaches a terminal state")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the omega CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("omega %s\n", version)
	},
}
