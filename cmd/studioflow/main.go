package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studioflow/internal/app"
	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	"studioflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "studioflow",
	Short: "Studioflow project phase workflow",
	Long: `Studioflow moves client projects through the studio's eight delivery phases:
onboarding, ideation, design, review, production, payment, sign-off and delivery.
- Each phase has client actions; required ones gate automatic advancement.
- Automation rules advance a project once every required action of its phase is done.
- Owners and studio staff approve a phase or request changes; staff may jump anywhere.
- Every move is kept in an append-only history, newest first with 'studioflow phase history'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("dsn") != "" {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("STUDIOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "path to studioflow.yml (default <workspace>/studioflow.yml)")
	flags.String("driver", "sqlite", "database driver: sqlite or postgres")
	flags.String("dsn", "", "database DSN (default sqlite file in the workspace)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "actor identifier")
	flags.Bool("admin", true, "act with administrator rights")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "config", "driver", "dsn", "json", "actor-id", "admin", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("STUDIOFLOW_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.Context) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
					Logger:   a.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving studioflow API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", basePath+"/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.PreRunE = bindSecret
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed the phase catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.Context) error {
				version, err := migrate.Latest()
				if err != nil {
					return err
				}
				out := map[string]any{
					"dialect":        a.DB.Dialect,
					"schema_version": version,
					"phases":         a.Engine.Catalog.Len(),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Schema at version %d (%s), %d phases seeded\n", version, a.DB.Dialect, a.Engine.Catalog.Len())
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default studioflow.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate studioflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Config OK: %d phases, %d webhooks\n", len(cfg.Catalog.Phases), len(cfg.Notifications.Webhooks))
			return nil
		},
	})
	return cfg
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// withApp opens the workspace store. Offline runs skip notifier setup so
// one-shot commands never wait on Redis or SMTP.
func withApp(ctx context.Context, offline bool, fn func(context.Context, *app.Context) error) error {
	logger := newLogger()
	slog.SetDefault(logger)
	a, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		Driver:     viper.GetString("driver"),
		DSN:        viper.GetString("dsn"),
		ConfigPath: viper.GetString("config"),
		Logger:     logger,
		Offline:    offline,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withEngine runs a workflow command with notifications enabled.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	return withApp(ctx, false, func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a.Engine, currentActor())
	})
}

func currentActor() domain.Actor {
	return domain.Actor{ID: viper.GetString("actor-id"), Admin: viper.GetBool("admin")}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitCode(err error) int {
	switch engine.KindOf(err) {
	case engine.KindPrecondition:
		return 3
	case engine.KindNotFound:
		return 4
	case engine.KindForbidden:
		return 5
	case engine.KindTransient:
		return 75
	}
	return 1
}

// bindSecret binds the running command's --jwt-secret flag; serve and token
// both declare one.
func bindSecret(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
}
