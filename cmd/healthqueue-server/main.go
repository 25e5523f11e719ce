package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/healthqueue/healthqueue/internal/config"
	"github.com/healthqueue/healthqueue/internal/domain/queue"
	"github.com/healthqueue/healthqueue/internal/domain/settings"
	"github.com/healthqueue/healthqueue/internal/platform/auth"
	"github.com/healthqueue/healthqueue/internal/platform/db"
	"github.com/healthqueue/healthqueue/internal/platform/jobs"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "healthqueue-server",
		Short:        "Clinic patient queue server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API server, display feed and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withPool loads config and opens a short-lived pool for one CLI command.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

// withApp wires the full service graph for commands that need more than SQL.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	// migrate down
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Down(ctx, steps)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s).\n", count)
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(downCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the patient queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print waiting, called, serving and priority counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				stats, err := queue.NewStorePG(pool).Stats(ctx)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reseed",
		Short: "Raise the Redis queue number counter above the highest stored number",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				rdb, err := connectRedis(ctx, cfg)
				if err != nil {
					return err
				}
				defer rdb.Close()

				highest, err := queue.NewStorePG(pool).MaxQueueNumber(ctx)
				if err != nil {
					return err
				}
				if err := queue.NewRedisAllocator(rdb, cfg.QueueCounterKey).Seed(ctx, highest); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Counter seeded; next number is above %d.\n", highest)
				return nil
			})
		},
	})

	return cmd
}

func printStats(w io.Writer, s queue.Stats) {
	fmt.Fprintf(w, "waiting:  %d\n", s.Waiting)
	fmt.Fprintf(w, "called:   %d\n", s.Called)
	fmt.Fprintf(w, "serving:  %d\n", s.Serving)
	fmt.Fprintf(w, "priority: %d\n", s.PriorityWaiting)
}

// cliActor attributes CLI-initiated changes in the audit trail.
var cliActor = settings.Actor{ID: "cli", Role: auth.RoleAdmin}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or reset clinic settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				doc, err := settings.NewRepoPG(pool).Load(ctx)
				if err != nil {
					return err
				}
				current, err := settings.Decode(doc)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "stored settings are malformed (%v); showing defaults\n", err)
				}
				return printJSON(cmd.OutOrStdout(), current)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				restored, err := a.settings.Reset(ctx, cliActor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), restored)
			})
		},
	})

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Run one retention pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			async, _ := cmd.Flags().GetBool("async")
			return withApp(func(ctx context.Context, a *app) error {
				if async {
					return enqueuePurge(cmd.OutOrStdout(), a)
				}
				counts, err := a.retention.RunPurge(ctx, time.Now())
				printCounts(cmd.OutOrStdout(), counts)
				return err
			})
		},
	}
	cmd.Flags().Bool("async", false, "Enqueue the purge for the job worker instead of running it here")
	return cmd
}

func enqueuePurge(w io.Writer, a *app) error {
	client := asynq.NewClient(jobs.RedisOpt(a.redis.Options()))
	defer client.Close()

	task, err := jobs.NewRetentionPurgeTask("cli")
	if err != nil {
		return err
	}
	info, err := client.Enqueue(task, asynq.Queue("low"))
	if err != nil {
		return fmt.Errorf("enqueue purge: %w", err)
	}
	fmt.Fprintf(w, "Enqueued %s as %s.\n", info.Type, info.ID)
	return nil
}

func printCounts(w io.Writer, counts map[string]int64) {
	types := make([]string, 0, len(counts))
	for rt := range counts {
		types = append(types, rt)
	}
	sort.Strings(types)
	for _, rt := range types {
		fmt.Fprintf(w, "%-12s %d\n", rt, counts[rt])
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("sub")
			email, _ := cmd.Flags().GetString("email")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--sub is required")
			}
			for _, r := range roles {
				switch r {
				case auth.RoleDoctor, auth.RoleStaff, auth.RoleAdmin:
				default:
					return fmt.Errorf("unknown role %q (want %s)", r, strings.Join([]string{auth.RoleDoctor, auth.RoleStaff, auth.RoleAdmin}, ", "))
				}
			}
			token, err := auth.IssueToken(jwtConfig(cfg), subject, email, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "User id")
	cmd.Flags().String("email", "", "User email")
	cmd.Flags().StringSlice("role", []string{auth.RoleStaff}, "Role(s): doctor, staff, admin")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
