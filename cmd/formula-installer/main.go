package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/open-edge-platform/formula-installer/internal/catalog"
	"github.com/open-edge-platform/formula-installer/internal/config"
	"github.com/open-edge-platform/formula-installer/internal/installer"
	"github.com/open-edge-platform/formula-installer/internal/provider"
	_ "github.com/open-edge-platform/formula-installer/internal/provider/filesrc"
	_ "github.com/open-edge-platform/formula-installer/internal/provider/gitsrc"
	_ "github.com/open-edge-platform/formula-installer/internal/provider/httpsrc"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
	"github.com/open-edge-platform/formula-installer/internal/utils/signature"
)

// Exit codes of the install command. The test command exits with the code
// of the smoke test instead.
const (
	exitOK      = 0
	exitFailure = 1
	exitPartial = 2
)

// Global flags
var (
	configFile  string
	logLevel    string
	verbose     bool
	catalogRoot string
	workers     int
)

// exitError carries an exit code other than exitFailure through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()

	rootCmd := createRootCommand()
	rootCmd.SetArgs(args)
	return exitCode(rootCmd.ExecuteContext(ctx))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitFailure
}

func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "formula-installer",
		Short: "Installs pinned formulae into isolated prefixes",
		Long: `formula-installer installs command line tools described by formula
descriptors. Every source archive and dependency resource is pinned by a
SHA-256 checksum and verified before anything is written to the prefix.

Dependencies are staged into <prefix>/vendor, the tool is installed into
<prefix>/bin and shell completions are copied into place.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to the configuration file (default $"+config.ConfigEnvVar+" or the per-user config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging (same as --log-level debug)")
	rootCmd.PersistentFlags().StringVar(&catalogRoot, "catalog", "",
		"Directory of formula descriptors (overrides config)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0,
		"Number of concurrent downloads (overrides config)")

	rootCmd.AddCommand(createInstallCommand())
	rootCmd.AddCommand(createTestCommand())
	rootCmd.AddCommand(createFetchCommand())
	rootCmd.AddCommand(createUninstallCommand())
	rootCmd.AddCommand(createListCommand())
	rootCmd.AddCommand(createInfoCommand())
	rootCmd.AddCommand(createValidateCommand())

	attachSetupHooks(rootCmd)
	return rootCmd
}

// attachSetupHooks installs the config and logging setup on every
// subcommand, so it runs before any RunE.
func attachSetupHooks(rootCmd *cobra.Command) {
	for _, cmd := range rootCmd.Commands() {
		cmd.PersistentPreRunE = setup
	}
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig(config.FindConfigFile(configFile))
	if err != nil {
		return err
	}
	if level := resolveRequestedLogLevel(cmd); level != "" {
		cfg.Logging.Level = level
	}
	if catalogRoot != "" {
		cfg.Catalog = catalogRoot
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	config.GlConfig = cfg

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return err
	}
	if err := provider.InitAll(cfg); err != nil {
		return err
	}
	return nil
}

// resolveRequestedLogLevel returns the level requested on the command line,
// or "" to keep the configured one.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if boolFlagSet(cmd.Flags(), "verbose") {
		return "debug"
	}
	return ""
}

// boolFlagSet reports whether a bool flag was given and is true.
func boolFlagSet(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed && f.Value.String() == "true"
}

func newProcessor() (*installer.Processor, error) {
	cfg := config.GlConfig
	var keyring openpgp.KeyRing
	if cfg.Keyring != "" {
		kr, err := signature.LoadKeyRing(cfg.Keyring)
		if err != nil {
			return nil, err
		}
		keyring = kr
	}
	return installer.NewProcessor(cfg, keyring)
}

func newCatalog() *catalog.Catalog {
	return catalog.New(config.GlConfig.Catalog)
}
