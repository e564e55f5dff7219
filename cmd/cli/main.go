package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/auth"
	"github.com/iho/goescrow/internal/infrastructure/postgres"
)

type options struct {
	baseURL string
	token   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Escrow operator CLI",
		Long:          `A command line interface for operating the escrow service: ledger checks, dispute resolution, migrations and token minting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("ESCROW_URL", "http://localhost:8080"), "Base URL of the escrow API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ESCROW_TOKEN"), "Bearer token for API calls")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(ledgerCmd(opts), txCmd(opts), migrateCmd(), tokenCmd())
	return rootCmd
}

func ledgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations (admin)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "consistency",
		Short: "Check ledger consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]any
			status, err := opts.call(http.MethodGet, "/api/v1/ledger/consistency", nil, &result)
			if err != nil {
				return err
			}
			if status == http.StatusConflict {
				printJSON(cmd.OutOrStdout(), result)
				return errors.New("consistency check FAILED")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Consistency check PASSED")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile [account-id]",
		Short: "Reconcile one account, or print the full report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/ledger/reconcile"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			var result map[string]any
			if _, err := opts.call(http.MethodGet, path, nil, &result); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), result)
			return nil
		},
	})

	return cmd
}

func txCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Escrow transaction operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <transaction-id>",
		Short: "Show a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]any
			if _, err := opts.call(http.MethodGet, "/api/v1/transactions/"+url.PathEscape(args[0]), nil, &result); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), result)
			return nil
		},
	})

	var outcome, method string
	resolve := &cobra.Command{
		Use:   "resolve <transaction-id>",
		Short: "Resolve a disputed transaction (arbiter)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := domain.ParseOutcome(outcome); err != nil {
				return err
			}
			body := map[string]string{"outcome": outcome}
			if method != "" {
				body["method"] = method
			}
			var result map[string]any
			if _, err := opts.call(http.MethodPost, "/api/v1/transactions/"+url.PathEscape(args[0])+"/resolve", body, &result); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), result)
			return nil
		},
	}
	resolve.Flags().StringVar(&outcome, "outcome", "", "release or refund")
	resolve.Flags().StringVar(&method, "method", "", "Payment method for a release")
	_ = resolve.MarkFlagRequired("outcome")
	cmd.AddCommand(resolve)

	return cmd
}

func migrateCmd() *cobra.Command {
	var databaseURL, path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&path, "path", envOr("MIGRATIONS_PATH", postgres.DefaultMigrationsPath), "Migrations directory")

	migrator := func() (*postgres.Migrator, error) {
		if databaseURL == "" {
			return nil, errors.New("--database-url or DATABASE_URL is required")
		}
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		return postgres.NewMigrator(databaseURL, path, logger), nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				return m.Up()
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				return m.Down()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
				return nil
			},
		},
	)

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Session token utilities",
	}

	var secret, subject, role, name string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			r := domain.Role(role)
			if !r.IsValid() {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.NewJWTManager(secret, ttl).Generate(&domain.User{ID: subject, Name: name, Role: r})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	mint.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
	mint.Flags().StringVar(&subject, "subject", "", "Account id")
	mint.Flags().StringVar(&role, "role", string(domain.RoleUser), "user, arbiter or admin")
	mint.Flags().StringVar(&name, "name", "", "Display name")
	mint.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = mint.MarkFlagRequired("subject")
	cmd.AddCommand(mint)

	return cmd
}

// call sends a JSON request and decodes the response into out. 409 is
// returned as a status rather than an error so callers can report it.
func (o *options) call(method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, o.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(raw), 200))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
