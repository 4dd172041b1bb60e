package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashgraphonline/holdesk/cache"
	"github.com/hashgraphonline/holdesk/concurrency"
	"github.com/hashgraphonline/holdesk/config"
	"github.com/hashgraphonline/holdesk/credentials"
	"github.com/hashgraphonline/holdesk/entity"
	"github.com/hashgraphonline/holdesk/loader"
	"github.com/hashgraphonline/holdesk/log"
	"github.com/hashgraphonline/holdesk/mcp"
	"github.com/hashgraphonline/holdesk/metrics"
	"github.com/hashgraphonline/holdesk/mirror"
	"github.com/hashgraphonline/holdesk/pool"
	"github.com/hashgraphonline/holdesk/registry"
	"github.com/hashgraphonline/holdesk/session"
	"github.com/hashgraphonline/holdesk/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	forceSyncFlag     bool
	tagsFlag          []string
	limitFlag         int
	offsetFlag        int
	jsonFlag          bool
	entityTypeFlag    string
	entitySessionFlag string

	rootCmd = &cobra.Command{
		Use:   "holdesk",
		Short: "Holdesk - a Hedera conversational agent with MCP tooling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	syncCmd = &cobra.Command{
		Use:   "sync [registry]",
		Short: "Sync MCP registry listings into the local cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()
			env, err := newEnv(cfg)
			if err != nil {
				return err
			}
			defer env.close()

			svc := registry.NewSyncService(env.cache, env.fetchers(cfg), registry.SyncOptions{
				Freshness: time.Duration(cfg.RegistrySyncIntervalSeconds) * time.Second,
				Force:     forceSyncFlag,
			})

			var results []registry.SyncResult
			if len(args) == 1 {
				result, err := svc.Sync(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				results = append(results, result)
			} else {
				results = svc.SyncAll(cmd.Context())
			}

			for _, r := range results {
				switch {
				case r.Skipped:
					fmt.Printf("%s: fresh, skipped\n", r.Registry)
				case r.Error != "":
					fmt.Printf("%s: failed: %s\n", r.Registry, r.Error)
				default:
					fmt.Printf("%s: %d servers in %s\n", r.Registry, r.ServerCount, r.Duration.Round(time.Millisecond))
				}
			}
			return nil
		},
	}

	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Search the cached MCP registry listings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()
			env, err := newEnv(cfg)
			if err != nil {
				return err
			}
			defer env.close()

			var query string
			if len(args) == 1 {
				query = args[0]
			}
			result := env.cache.SearchServers(cmd.Context(), cache.SearchOptions{
				Query:  query,
				Tags:   tagsFlag,
				Offset: offsetFlag,
				Limit:  limitFlag,
			})

			if jsonFlag {
				return printJSON(result)
			}
			for _, s := range result.Servers {
				fmt.Printf("%-40s %-12s %s\n", s.ID, s.Registry, s.Description)
			}
			source := "store"
			if result.FromCache {
				source = "cache"
			}
			fmt.Printf("%d of %d results (from %s)\n", len(result.Servers), result.Total, source)
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache and sync statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()
			env, err := newEnv(cfg)
			if err != nil {
				return err
			}
			defer env.close()

			stats := env.cache.CacheStats(cmd.Context())
			if jsonFlag {
				return printJSON(map[string]any{
					"cache": stats,
					"sync":  env.cache.SyncSnapshot(cmd.Context()),
				})
			}
			fmt.Printf("Cached servers: %d, memoized searches: %d (hits %d, hit rate %.0f%%)\n",
				stats.TotalServers, stats.CacheEntries, stats.TotalHits, stats.HitRate*100)
			for _, rec := range env.cache.SyncSnapshot(cmd.Context()) {
				fmt.Printf("%-12s %-8s servers=%d last=%s\n",
					rec.Registry, rec.Status, rec.ServerCount, rec.LastSyncAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Run the progressive agent load and report phase progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()
			env, err := newEnv(cfg)
			if err != nil {
				return err
			}
			defer env.close()

			ld := loader.New(env.runtime(cfg), loader.Options{
				OnProgress: func(p loader.Progress) {
					fmt.Printf("[%3d%%] %-30s %s\n", p.Percent, p.Phase, p.Status)
				},
			})
			result := ld.LoadAgent(cmd.Context(), cfg)
			ld.WaitForBackground()

			if !result.Success {
				return fmt.Errorf("agent load failed: %s", result.Error)
			}
			fmt.Printf("core ready in %s (session %s)\n",
				result.CoreReadyTime.Round(time.Millisecond), result.SessionID)
			return nil
		},
	}

	connectCmd = &cobra.Command{
		Use:   "connect <server-id> <command> [args...]",
		Short: "Connect to an MCP server and list its tools",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()
			env, err := newEnv(cfg)
			if err != nil {
				return err
			}
			defer env.close()

			conn, err := env.pool.Connect(cmd.Context(), mcp.ServerConfig{
				ID:      args[0],
				Name:    args[0],
				Command: args[1],
				Args:    args[2:],
			})
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", args[0], err)
			}
			for _, tool := range conn.Tools() {
				fmt.Printf("%-30s %s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Verify the configured Hedera account and LLM API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()
			svc := mirror.NewService()

			hedera, err := svc.TestHedera(cmd.Context(), mirror.HederaCredentials{
				AccountID:  cfg.AccountID,
				PrivateKey: cfg.PrivateKey,
				Network:    mirror.Network(cfg.Network),
			})
			if err != nil {
				return err
			}
			if hedera.Success {
				fmt.Printf("hedera: ok, balance %s\n", hedera.Balance)
			} else {
				fmt.Printf("hedera: %s\n", hedera.Error)
			}

			if cfg.OpenAIAPIKey != "" {
				printLLM("openai", svc.TestOpenAI(cmd.Context(), mirror.LLMCredentials{APIKey: cfg.OpenAIAPIKey}))
			}
			if cfg.AnthropicAPIKey != "" {
				printLLM("anthropic", svc.TestAnthropic(cmd.Context(), mirror.LLMCredentials{APIKey: cfg.AnthropicAPIKey}))
			}
			return nil
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug information like config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}
			redacted := *cfg
			if redacted.PrivateKey != "" {
				redacted.PrivateKey = "<redacted>"
			}
			configJSON, _ := json.MarshalIndent(redacted, "", "  ")
			fmt.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJSON)
			fmt.Printf("Debug logging: %v\n", log.IsDebugEnabled())
			return nil
		},
	}

	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	sessionListCmd = &cobra.Command{
		Use:   "list",
		Short: "List chat sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(env *env) error {
				sessions, err := session.NewService(env.store).List(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Printf("%-38s %-8s %s\n", s.ID, s.Mode, s.Title)
				}
				return nil
			})
		},
	}

	sessionNewCmd = &cobra.Command{
		Use:   "new [title]",
		Short: "Create a chat session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(env *env) error {
				var title string
				if len(args) == 1 {
					title = args[0]
				}
				s, err := session.NewService(env.store).Create(cmd.Context(), title, session.DefaultMode)
				if err != nil {
					return err
				}
				fmt.Println(s.ID)
				return nil
			})
		},
	}

	sessionShowCmd = &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(env *env) error {
				svc := session.NewService(env.store)
				s, err := svc.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if s == nil {
					return fmt.Errorf("unknown session: %s", args[0])
				}
				msgs, err := svc.Messages(cmd.Context(), s.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%s (%s)\n", s.Title, s.Mode)
				for _, m := range msgs {
					fmt.Printf("[%s] %s\n", m.Role, m.Content)
				}
				return nil
			})
		},
	}

	sessionDeleteCmd = &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(env *env) error {
				deleted, err := session.NewService(env.store).Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("unknown session: %s", args[0])
				}
				return nil
			})
		},
	}

	entityCmd = &cobra.Command{
		Use:   "entity",
		Short: "Inspect remembered ledger entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	entityListCmd = &cobra.Command{
		Use:   "list",
		Short: "List active entity associations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(env *env) error {
				assocs, err := entity.NewService(env.store).List(cmd.Context(), entityTypeFlag, entitySessionFlag, limitFlag)
				if err != nil {
					return err
				}
				printEntities(assocs)
				return nil
			})
		},
	}

	entitySearchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search entity associations by name, id, or transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(env *env) error {
				assocs, err := entity.NewService(env.store).Search(cmd.Context(), args[0], entityTypeFlag, limitFlag)
				if err != nil {
					return err
				}
				printEntities(assocs)
				return nil
			})
		},
	}

	credentialCmd = &cobra.Command{
		Use:   "credential",
		Short: "Manage stored service credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	credentialSetCmd = &cobra.Command{
		Use:   "set <service> <account> <password>",
		Short: "Store a credential, replacing any existing entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := credentialManager()
			if err != nil {
				return err
			}
			return mgr.Store(args[0], args[1], args[2])
		},
	}

	credentialGetCmd = &cobra.Command{
		Use:   "get <service> <account>",
		Short: "Print a stored credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := credentialManager()
			if err != nil {
				return err
			}
			password, found, err := mgr.Get(args[0], args[1])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no credential for %s/%s", args[0], args[1])
			}
			fmt.Println(password)
			return nil
		},
	}

	credentialDeleteCmd = &cobra.Command{
		Use:   "delete <service> <account>",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := credentialManager()
			if err != nil {
				return err
			}
			deleted, err := mgr.Delete(args[0], args[1])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("no credential for %s/%s", args[0], args[1])
			}
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of holdesk",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("holdesk version %s\n", version)
		},
	}
)

// env holds the wired runtime collaborators. Everything is constructed here
// and passed down explicitly.
type env struct {
	store   *store.Store
	metrics *metrics.Metrics
	cache   *cache.Manager
	manager *concurrency.Manager
	pool    *pool.Pool
}

func newEnv(cfg *config.Config) (*env, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	cm := cache.NewManager(st, cache.Options{
		SearchTTL: time.Duration(cfg.SearchCacheTTLSeconds) * time.Second,
		Schedule:  cache.FixedIntervalSchedule(time.Duration(cfg.RegistrySyncIntervalSeconds) * time.Second),
		Metrics:   m,
	})
	manager := concurrency.NewManager(concurrency.Options{
		MaxConcurrency: cfg.MaxConnections,
	})
	p := pool.New(mcp.NewStdioConnector(), manager, m)

	return &env{store: st, metrics: m, cache: cm, manager: manager, pool: p}, nil
}

func (e *env) close() {
	e.pool.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.manager.Shutdown(ctx); err != nil {
		log.S().Warnw("scheduler shutdown incomplete", "error", err)
	}
	if err := e.store.Close(); err != nil {
		log.S().Warnw("failed to close store", "error", err)
	}
}

func (e *env) fetchers(cfg *config.Config) []registry.Fetcher {
	fetchers := []registry.Fetcher{registry.NewCatalogFetcher()}
	if cfg.RemoteRegistryEnabled {
		fetchers = append(fetchers, registry.NewPulseMCPFetcher(registry.PulseMCPBaseURL))
	}
	return fetchers
}

// runtime adapts the wired services to the loader's agent interface. The
// warmup phase pre-warms the registry cache with a default search.
func (e *env) runtime(cfg *config.Config) loader.Runtime {
	return &agentRuntime{env: e, cfg: cfg}
}

type agentRuntime struct {
	env *env
	cfg *config.Config
}

func (r *agentRuntime) Initialize(ctx context.Context, cfg *config.Config) (string, error) {
	svc := mirror.NewService()
	result, err := svc.TestHedera(ctx, mirror.HederaCredentials{
		AccountID:  cfg.AccountID,
		PrivateKey: cfg.PrivateKey,
		Network:    mirror.Network(cfg.Network),
	})
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("hedera account check failed: %s", result.Error)
	}
	sessionID := fmt.Sprintf("session-%d", time.Now().UnixMilli())
	log.S().Infow("core agent initialized", "account", cfg.AccountID, "balance", result.Balance)
	return sessionID, nil
}

func (r *agentRuntime) Warmup(ctx context.Context) error {
	result := r.env.cache.SearchServers(ctx, cache.SearchOptions{})
	log.S().Debugw("cache warmed", "servers", len(result.Servers), "fromCache", result.FromCache)
	return nil
}

// withEnv wraps a command body with logging setup and environment wiring.
func withEnv(fn func(env *env) error) error {
	log.Initialize(false)
	defer log.Close()

	cfg := config.LoadConfig()
	env, err := newEnv(cfg)
	if err != nil {
		return err
	}
	defer env.close()
	return fn(env)
}

// credentialManager opens the encrypted credential file next to the config.
// The master password comes from the environment so it never lands in shell
// history as an argument.
func credentialManager() (*credentials.Manager, error) {
	master := os.Getenv("HOLDESK_MASTER_PASSWORD")
	if master == "" {
		return nil, fmt.Errorf("HOLDESK_MASTER_PASSWORD is not set")
	}
	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return credentials.NewManager(filepath.Join(configDir, "credentials.enc"), master), nil
}

func printEntities(assocs []*entity.Association) {
	for _, a := range assocs {
		fmt.Printf("%-20s %-12s %-38s %s\n", a.EntityID, a.EntityType, a.EntityName, a.TransactionID)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printLLM(name string, result mirror.LLMTestResult) {
	if result.Success {
		fmt.Printf("%s: ok\n", name)
		return
	}
	fmt.Printf("%s: %s\n", name, result.Error)
}

func init() {
	syncCmd.Flags().BoolVarP(&forceSyncFlag, "force", "f", false,
		"Sync even when the registry was refreshed recently")
	searchCmd.Flags().StringSliceVarP(&tagsFlag, "tag", "t", nil,
		"Filter by tag (repeatable)")
	searchCmd.Flags().IntVar(&limitFlag, "limit", 0, "Page size")
	searchCmd.Flags().IntVar(&offsetFlag, "offset", 0, "Page offset")
	searchCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print results as JSON")
	statsCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print results as JSON")
	entityListCmd.Flags().StringVar(&entityTypeFlag, "type", "", "Filter by entity type")
	entityListCmd.Flags().StringVar(&entitySessionFlag, "session", "", "Filter by session id")
	entityListCmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum results")
	entitySearchCmd.Flags().StringVar(&entityTypeFlag, "type", "", "Filter by entity type")
	entitySearchCmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum results")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	entityCmd.AddCommand(entityListCmd)
	entityCmd.AddCommand(entitySearchCmd)
	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialGetCmd)
	credentialCmd.AddCommand(credentialDeleteCmd)

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
