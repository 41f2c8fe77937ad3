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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyline/internal/app"
	"agencyline/internal/config"
	"agencyline/internal/domain"
	"agencyline/internal/engine"
	"agencyline/internal/logging"
	"agencyline/internal/migrate"
	"agencyline/internal/repo"
	"agencyline/internal/scheduler"
	"agencyline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "Agencyline CLI",
	Long: `Agencyline is the client reporting portal of a web agency.
- Admins manage users, websites and who works on what.
- Developers log work against the websites they are assigned to.
- Clients follow the feed of their websites, review actions and answer questions.
Run 'al serve' for the HTTP API; the other commands operate on the same database as the first admin.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENCYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/"+config.FileName+")")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(websiteCmd())
	rootCmd.AddCommand(worklogCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), TokenTTL: cfg.Auth.TokenTTL}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AGENCYLINE_JWT_SECRET is required for bearer auth")
			}
			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: cfg.Server.BasePath,
				Auth:     authCfg,
				Logger:   logger,
				Metrics:  a.Metrics,
				Storage:  a.Storage,
			})
			if err != nil {
				return err
			}
			if cfg.Scanner.Enabled {
				sched := scheduler.NewScanScheduler(a.Engine, cfg.Scanner.RunAt, logger)
				go sched.Start(ctx)
				defer sched.Stop()
			}
			server.StartWebhookDispatcher(ctx, a.Engine, logger)

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("shutdown failed", "error", err)
				}
			}()
			logger.Info("serving agencyline API",
				"addr", cfg.Server.Addr,
				"base_path", cfg.Server.BasePath,
				"docs", "/docs",
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			conn, _, err := app.OpenDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"version": v})
			}
			fmt.Printf("database at version %d\n", v)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage " + config.FileName}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
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
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var in engine.UserInput
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Role = domain.Role(role)
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				created, err := e.CreateUser(ctx, admin, in)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{created})
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleClient), "admin, developer or client")
	cmd.Flags().StringVar(&in.GSTIN, "gstin", "", "client tax id")
	cmd.Flags().StringVar(&in.Address, "address", "", "client billing address")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				users, err := e.ListUsers(ctx, admin, domain.Role(role))
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func printUsers(users []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(users)
	}
	tw := newTable("ID", "Name", "Email", "Role")
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role})
	}
	tw.Render()
	return nil
}

func websiteCmd() *cobra.Command {
	w := &cobra.Command{Use: "website", Short: "Manage client websites"}
	w.AddCommand(websiteCreateCmd())
	w.AddCommand(websiteListCmd())
	w.AddCommand(websiteAssignCmd())
	w.AddCommand(websiteScanCmd())
	return w
}

func websiteCreateCmd() *cobra.Command {
	var in engine.WebsiteInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a website",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				site, err := e.CreateWebsite(ctx, admin, in)
				if err != nil {
					return err
				}
				return printWebsites([]domain.Website{site})
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "website name")
	cmd.Flags().StringVar(&in.URL, "url", "", "public url")
	cmd.Flags().StringVar(&in.ClientID, "client", "", "owning client id")
	cmd.Flags().StringSliceVar(&in.DeveloperIDs, "developer", nil, "assigned developer id (repeatable)")
	cmd.Flags().StringVar(&in.GSCPropertyURL, "gsc-property", "", "Search Console property url")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func websiteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List websites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				sites, err := e.ListWebsites(ctx, admin)
				if err != nil {
					return err
				}
				return printWebsites(sites)
			})
		},
	}
}

func websiteAssignCmd() *cobra.Command {
	var client string
	var developers []string
	cmd := &cobra.Command{
		Use:   "assign <website-id>",
		Short: "Set the client and developers of a website",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd engine.WebsiteUpdate
			if cmd.Flags().Changed("client") {
				upd.ClientID = &client
			}
			if cmd.Flags().Changed("developer") {
				upd.DeveloperIDs = &developers
			}
			if upd.ClientID == nil && upd.DeveloperIDs == nil {
				return fmt.Errorf("--client or --developer required")
			}
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				site, err := e.UpdateWebsite(ctx, admin, args[0], upd)
				if err != nil {
					return err
				}
				return printWebsites([]domain.Website{site})
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "owning client id")
	cmd.Flags().StringSliceVar(&developers, "developer", nil, "developer id (repeatable); replaces the current set")
	return cmd
}

func websiteScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [website-id]",
		Short: "Run the SEO scan for one website, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				if len(args) == 0 {
					sum, err := e.ScanAll(ctx)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(sum)
					}
					fmt.Printf("scanned %d websites, %d failed\n", sum.Scanned, sum.Failed)
					return nil
				}
				site, err := e.ScanWebsite(ctx, admin, args[0])
				if err != nil {
					return err
				}
				return printWebsites([]domain.Website{site})
			})
		},
	}
}

func printWebsites(sites []domain.Website) error {
	if viper.GetBool("json") {
		return printJSON(sites)
	}
	tw := newTable("ID", "Name", "URL", "Client", "Developers", "SEO", "Last scan")
	for _, s := range sites {
		tw.AppendRow(table.Row{s.ID, s.Name, s.URL, s.ClientID, strings.Join(s.DeveloperIDs, ","), s.SeoHealthScore, s.LastSeoScan})
	}
	tw.Render()
	return nil
}

func worklogCmd() *cobra.Command {
	w := &cobra.Command{Use: "worklog", Short: "Inspect work logs"}
	w.AddCommand(worklogListCmd())
	return w
}

func worklogListCmd() *cobra.Command {
	var q engine.FeedQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the work log feed, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				page, err := e.ListWorkLogs(ctx, admin, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable("ID", "Website", "Type", "Title", "Status", "Starred", "Created")
				for _, wl := range page.Items {
					site := wl.WebsiteID
					if wl.Website != nil {
						site = wl.Website.Name
					}
					tw.AppendRow(table.Row{wl.ID, site, wl.Type, wl.Title, wl.Status, wl.IsStarred, wl.CreatedAt})
				}
				tw.Render()
				if page.HasMore {
					fmt.Printf("more results: --page %d\n", page.Page+1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.WebsiteID, "website", "", "website id")
	cmd.Flags().StringVar(&q.Type, "type", "", "log, action, report, observation or all")
	cmd.Flags().BoolVar(&q.StarredOnly, "starred", false, "starred only")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "page size (default from config)")
	return cmd
}

func statsCmd() *cobra.Command {
	s := &cobra.Command{Use: "stats", Short: "Search Console statistics"}
	s.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Pull the lookback window for every configured website",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				n, err := e.SyncStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"synced": n})
				}
				fmt.Printf("stored %d daily rows\n", n)
				return nil
			})
		},
	})
	return s
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				events, err := e.ListEvents(ctx, admin, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <email>",
		Short: "Issue a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("AGENCYLINE_JWT_SECRET is required to sign tokens")
			}
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.User) error {
				u, err := e.Repo.GetUserByEmail(ctx, args[0])
				if err != nil {
					return err
				}
				tok, err := server.IssueToken(secret, u, e.Config.Auth.TokenTTL, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": tok, "user": u})
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyDeleteCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create an API key; the key is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				key, raw, err := e.CreateAPIKey(ctx, admin, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"apiKey": key, "key": raw})
				}
				fmt.Printf("api key %s for user %s\n%s\n", key.ID, key.UserID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				keys, err := e.ListAPIKeys(ctx, admin, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "User", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, e engine.Engine, admin domain.User) error {
				if err := e.DeleteAPIKey(ctx, admin, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// --- helpers ---

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func withAdmin(ctx context.Context, fn func(context.Context, engine.Engine, domain.User) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	admin, err := a.Admin(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, a.Engine, admin)
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
