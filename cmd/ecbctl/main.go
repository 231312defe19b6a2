package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/app"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/auth"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/config"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/database"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/logging"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/reports"
)

const programName = "ecbctl"

var (
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Operator tools for the energy credits backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.LoadConfig(configFile); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logger, err = logging.New(cfg.Logging); err != nil {
				return err
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.json", "path to JSON config file")

	rootCmd.AddCommand(tokenCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(auditCommand())
	rootCmd.AddCommand(exportCommand())
	rootCmd.AddCommand(certificateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}

func tokenCommand() *cobra.Command {
	var (
		account string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Security.JWTSecret == "" {
				return fmt.Errorf("ECB_SECURITY_JWT_SECRET must be set")
			}
			id := uuid.New()
			if account != "" {
				var err error
				if id, err = uuid.Parse(account); err != nil {
					return fmt.Errorf("invalid account id: %w", err)
				}
			}
			token, err := auth.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer).IssueToken(id, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account: %s\ntoken:   %s\n", id, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (random when empty)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant: producer, verifier, treasury")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer database.Close(db)
			if err := database.Migrate(db, app.Migrators...); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
}

func auditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Run the conservation audit once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.Auditor.Run(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				if !report.OK() {
					return fmt.Errorf("audit found %d violations", len(report.Violations))
				}
				return nil
			})
		},
	}
}

func exportCommand() *cobra.Command {
	var (
		format  string
		out     string
		archive bool
	)
	cmd := &cobra.Command{
		Use:       "export [trades|mints]",
		Short:     "Write an export to a file, or archive all exports to object storage",
		ValidArgs: []string{"trades", "mints"},
		Args:      cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if archive {
					keys, err := a.Reports.Archive(cmd.Context())
					for _, key := range keys {
						fmt.Fprintln(cmd.OutOrStdout(), key)
					}
					return err
				}
				if len(args) != 1 {
					return fmt.Errorf("choose trades or mints, or pass --archive")
				}

				var (
					artifact *reports.Artifact
					err      error
				)
				switch args[0] {
				case "trades":
					artifact, err = a.Reports.ExportTrades(cmd.Context(), reports.Format(format))
				case "mints":
					artifact, err = a.Reports.ExportMints(cmd.Context(), reports.Format(format))
				default:
					return fmt.Errorf("unknown export %q", args[0])
				}
				if err != nil {
					return err
				}
				return writeArtifact(cmd, artifact, out)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(reports.FormatCSV), "csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (defaults to the artifact name)")
	cmd.Flags().BoolVar(&archive, "archive", false, "upload every export to the configured bucket")
	return cmd
}

func certificateCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "certificate <retirement-id>",
		Short: "Render the PDF certificate of a retirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid retirement id: %w", err)
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				artifact, err := a.Reports.Certificate(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeArtifact(cmd, artifact, out)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (defaults to the artifact name)")
	return cmd
}

func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg.Anchoring.WebsocketFeeds = false
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func writeArtifact(cmd *cobra.Command, artifact *reports.Artifact, out string) error {
	if out == "" {
		out = artifact.Name
	}
	if err := os.WriteFile(out, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(artifact.Data))
	return nil
}
