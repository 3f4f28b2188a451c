package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/odontoclinic/clinic/internal/config"
	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/platform/auth"
	"github.com/odontoclinic/clinic/internal/platform/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clinic-server",
		Short:         "Dental teaching clinic procedure API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(odontogramCmd())
	return rootCmd
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadServerConfig loads and validates the configuration needed to run the
// server or touch the database.
func loadServerConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg.IsDev()))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for one clinic schema",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig()
			if err != nil {
				return err
			}
			clinic, _ := cmd.Flags().GetString("clinic")
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}
			schema, err := db.SchemaFor(clinic)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, cfg.MigrationsDir).WithLogger(newLogger(cfg.IsDev()))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig()
			if err != nil {
				return err
			}
			clinic, _ := cmd.Flags().GetString("clinic")
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}
			schema, err := db.SchemaFor(clinic)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, cfg.MigrationsDir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage teaching clinics",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <id>",
		Short: "Create a clinic schema and apply all migrations to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig()
			if err != nil {
				return err
			}
			schema, err := db.SchemaFor(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating clinic schema: %s\n", schema)
			if err := db.CreateClinicSchema(ctx, pool, args[0], cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Clinic created.")
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}
			u, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			clinic, _ := cmd.Flags().GetString("clinic")
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.IssueToken([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, u, clinic, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	addActorFlags(cmd)
	cmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func addActorFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", auth.DevUserID, "Acting user id")
	cmd.Flags().String("name", "", "Acting user display name")
	cmd.Flags().String("role", string(odontology.RoleStudent), "Acting user role: student, professor or admin")
}

func actorFromFlags(cmd *cobra.Command) (odontology.User, error) {
	raw, _ := cmd.Flags().GetString("user")
	id, err := uuid.Parse(raw)
	if err != nil {
		return odontology.User{}, fmt.Errorf("invalid --user: %w", err)
	}
	name, _ := cmd.Flags().GetString("name")
	role, _ := cmd.Flags().GetString("role")
	switch r := odontology.Role(role); r {
	case odontology.RoleStudent, odontology.RoleProfessor, odontology.RoleAdmin:
		return odontology.User{ID: id, Name: name, Role: r}, nil
	default:
		return odontology.User{}, fmt.Errorf("invalid --role %q", role)
	}
}
