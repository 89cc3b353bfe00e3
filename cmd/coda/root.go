package main

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"asisaid.cn/coda/internal/common/config"
	"asisaid.cn/coda/internal/common/logger"
	"asisaid.cn/coda/internal/service"
	"asisaid.cn/coda/internal/session"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	configPath string
	overrides  storeFlags

	cfg     *config.Config
	session *session.Session
	tags    *service.TagService
}

// storeFlags override store settings from the command line.
type storeFlags struct {
	backend  string
	uri      string
	host     string
	port     int
	dbname   string
	dataDir  string
	readOnly bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "coda",
		Short: "Track key/value tags for files in a document store",
		Long: `coda tracks arbitrary key/value metadata ("tags") for files and
directories and finds files by tag.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.session == nil {
				return nil
			}
			return a.session.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to config file to use for default coda options")
	flags.StringVar(&a.overrides.backend, "backend", "", "store backend (badger, sqlite, redis, mongo, memory)")
	flags.StringVar(&a.overrides.uri, "uri", "", "MongoDB connection URI (overrides host and port)")
	flags.StringVar(&a.overrides.host, "host", "", "store host")
	flags.IntVar(&a.overrides.port, "port", 0, "store port")
	flags.StringVar(&a.overrides.dbname, "dbname", "", "store database name")
	flags.StringVar(&a.overrides.dataDir, "data-dir", "", "directory for embedded stores")
	flags.BoolVar(&a.overrides.readOnly, "read-only", false, "refuse to modify the store")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newStatusCommand(a))
	rootCmd.AddCommand(newListCommand(a))
	rootCmd.AddCommand(newFindCommand(a))
	rootCmd.AddCommand(newAddCommand(a))
	rootCmd.AddCommand(newDeleteCommand(a))
	rootCmd.AddCommand(newTagCommand(a))
	rootCmd.AddCommand(newUntagCommand(a))
	rootCmd.AddCommand(newServeCommand(a))

	return rootCmd
}

// setup loads configuration, starts logging and builds the session.
func (a *app) setup(cmd *cobra.Command) error {
	overrides := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		overrides["store.backend"] = a.overrides.backend
	}
	if flags.Changed("uri") {
		overrides["store.uri"] = a.overrides.uri
	}
	if flags.Changed("host") {
		overrides["store.host"] = a.overrides.host
	}
	if flags.Changed("port") {
		overrides["store.port"] = a.overrides.port
	}
	if flags.Changed("dbname") {
		overrides["store.dbname"] = a.overrides.dbname
	}
	if flags.Changed("data-dir") {
		overrides["store.data_dir"] = a.overrides.dataDir
	}
	if flags.Changed("read-only") {
		overrides["store.write"] = !a.overrides.readOnly
	}

	cfg, err := config.Load(a.configPath, overrides)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		Output:      cfg.Logger.Output,
		Development: cfg.Logger.Development,
		MaxSizeMB:   cfg.Logger.MaxSizeMB,
		MaxBackups:  cfg.Logger.MaxBackups,
		MaxAgeDays:  cfg.Logger.MaxAgeDays,
		Compress:    cfg.Logger.Compress,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.session = session.New(cfg.Store)
	a.tags = service.NewTagService(a.session)
	return nil
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "coda %s (commit %s, %s)\n", Version, GitCommit, runtime.Version())
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
