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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"vfxhub/internal/app"
	"vfxhub/internal/config"
	"vfxhub/internal/db"
	"vfxhub/internal/server"
	vfxhubsdk "vfxhub/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "vfxhub",
	Short: "vfxhub CLI",
	Long: `vfxhub coordinates VFX production work.
- Studios post projects and split them into tasks; artists bid on tasks.
- Shares grant another user access to a project or task after approval.
- Messages are direct (between two users) or scoped to a project.
- Machines are render nodes assigned to users by admins.
- V3 Coins is the internal ledger; balances only change through the coin procedure.
- Every write lands in a change log; 'watch' commands follow it live and fall back to polling.

'serve' runs the backend. Every other command talks to a running backend at --url
with the token stored by 'vfxhub login' (VFXHUB_TOKEN in the workspace .env).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// values already in the environment win over the workspace .env
	_ = godotenv.Load(envPath())
	viper.SetEnvPrefix("VFXHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("url", "http://127.0.0.1:8080", "backend base URL")
	flags.String("token", "", "bearer token")
	flags.String("api-key", "", "API key")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("jwt-secret", "", "HS256 secret for serve and admin token")
	for _, name := range []string{"workspace", "json", "url", "token", "api-key", "verbose", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(postCmd())
	rootCmd.AddCommand(machineCmd())
	rootCmd.AddCommand(coinsCmd())
	rootCmd.AddCommand(changesCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath, adminID string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("VFXHUB_JWT_SECRET is required for bearer auth")
			}
			a, err := app.Open(cmd.Context(), app.Options{Workspace: workspace, AdminID: adminID, Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:    a.Engine,
				BasePath:  basePath,
				Auth:      server.AuthConfig{JWTSecret: secret, DevLogin: devLogin, Logger: logger},
				Hub:       a.Hub,
				Heartbeat: a.Config.Heartbeat(),
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			hooks := server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, logger.With("component", "webhooks"))
			go hooks.Run(cmd.Context())

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				// websocket clients get CLOSED before the listener stops
				a.Hub.Close()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			logger.Info("serving vfxhub API", "addr", addr, "base_path", basePath, "dev_login", devLogin)
			fmt.Printf("Serving vfxhub API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from vfxhub.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from vfxhub.yml)")
	cmd.Flags().StringVar(&adminID, "admin-id", "", "seed this user id as admin")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage vfxhub.yml",
		Long:  "vfxhub.yml sets the listen address, database driver, realtime buffers, sync intervals and outbound webhooks. Missing files fall back to defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default vfxhub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printOr(cfg, func() {
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				_ = enc.Encode(cfg)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate vfxhub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func logLevel() slog.Level {
	if viper.GetBool("verbose") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func envPath() string {
	workspace := viper.GetString("workspace")
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".env")
}

// setEnvValue rewrites one key of the workspace .env, keeping the others.
func setEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	return godotenv.Write(values, path)
}

func newClient() *vfxhubsdk.Client {
	c := vfxhubsdk.New(viper.GetString("url"), viper.GetString("token"))
	c.APIKey = viper.GetString("api-key")
	return c
}

func syncConfig() *config.Config {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return config.Default()
	}
	return cfg
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printOr prints v as JSON under --json and calls render otherwise.
func printOr(v any, render func()) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func shortTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04")
}
