package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"

	"github.com/asaidimu/go-jsondb/config"
	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/jsondb"
	"github.com/asaidimu/go-jsondb/core/migration"
	"github.com/asaidimu/go-jsondb/migrations"
	"github.com/asaidimu/go-jsondb/sqlite"
	"github.com/asaidimu/go-jsondb/utils"
	_ "github.com/mattn/go-sqlite3" // SQLite driver "sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver "sqlite"
)

var (
	configPath string
	getDepth   int
	getLimit   int
	getDesc    bool
	initForce  bool
)

var rootCmd = &cobra.Command{
	Use:           "jsondb",
	Short:         "Path addressed JSON document store with schema migrations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error {
			m, err := migration.NewMigrator(store, logger, migrations.All())
			if err != nil {
				return err
			}
			version, err := m.Migrate(ctx, cfg.Migration.TargetVersion)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current and latest schema versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error {
			m, err := migration.NewMigrator(store, logger, migrations.All())
			if err != nil {
				return err
			}
			current, err := m.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current %d\nlatest  %d\n", current, m.Latest())
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print the JSON stored at a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error {
			opts := &jsondb.GetOptions{Depth: getDepth, LimitToFirst: getLimit}
			if getDesc {
				opts.Order = jsondb.OrderDesc
			}
			data, err := store.GetJSON(ctx, args[0], opts)
			if err != nil {
				return err
			}
			if data == nil {
				data = []byte("null")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <path> <json>",
	Short: "Store a JSON value at a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := utils.ParseJSON([]byte(args[1]))
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error {
			return store.Set(ctx, args[0], value)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file> [path]",
	Short: "Store the contents of a JSON file at a path (default /)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		value, err := utils.ParseJSON(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}
		path := "/"
		if len(args) == 2 {
			path = args[1]
		}
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error {
			if err := store.Set(ctx, path, value); err != nil {
				return err
			}
			logger.Info("Imported document", zap.String("file", args[0]), zap.String("path", path))
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the --config path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}
		if err := config.Default().Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

// Environment is the stored shape of an entry under /environments.
type Environment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage environments",
}

var envAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an environment unless one with the same name exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error {
			env, err := addEnvironment(ctx, store, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.ID)
			return nil
		})
	},
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List environments by name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error {
			envs, err := listEnvironments(ctx, store)
			if err != nil {
				return err
			}
			for _, env := range envs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", env.ID, env.Name)
			}
			return nil
		})
	},
}

// addEnvironment returns the environment called name, creating it when
// there is none.
func addEnvironment(ctx context.Context, store jsondb.Store, name string) (*Environment, error) {
	ids, err := store.FetchIdsByPropertyValue(ctx, migrations.EnvironmentsPath, "name", name)
	if err != nil {
		return nil, err
	}
	if ids != nil && ids.Size > 0 {
		return &Environment{ID: ids.Values[0], Name: name}, nil
	}

	env := &Environment{ID: store.CreateKey(), Name: name}
	doc, err := utils.ToDocument(env)
	if err != nil {
		return nil, err
	}
	if err := store.Set(ctx, jsondb.RecordPath(migrations.EnvironmentsPath, env.ID), doc); err != nil {
		return nil, err
	}
	return env, nil
}

// listEnvironments returns every stored environment sorted by name.
func listEnvironments(ctx context.Context, store jsondb.Store) ([]Environment, error) {
	collection, err := jsondb.GetDocument(ctx, store, migrations.EnvironmentsPath)
	if err != nil {
		return nil, err
	}
	envs := make([]Environment, 0, len(collection))
	for key, v := range collection {
		doc, ok := core.AsDocument(v)
		if !ok {
			continue
		}
		env, err := utils.FromDocument[Environment](doc)
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", key, err)
		}
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].Name != envs[j].Name {
			return envs[i].Name < envs[j].Name
		}
		return envs[i].ID < envs[j].ID
	})
	return envs, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "jsondb.yaml", "path to the configuration file")
	getCmd.Flags().IntVar(&getDepth, "depth", 0, "collapse values nested deeper than this (0 for unlimited)")
	getCmd.Flags().IntVar(&getLimit, "limit", 0, "return at most this many children (0 for unlimited)")
	getCmd.Flags().BoolVar(&getDesc, "desc", false, "order children descending")

	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	envCmd.AddCommand(envAddCmd, envListCmd)
	rootCmd.AddCommand(migrateCmd, versionCmd, getCmd, setCmd, importCmd, configCmd, envCmd)
}

// withStore loads the configuration, opens the database and runs fn against
// the store.
func withStore(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, store *sqlite.Store, logger *zap.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	store, err := sqlite.NewStore(ctx, db, logger, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	return fn(ctx, cfg, store, logger)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
