package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/xverify/pkg"
	"github.com/ngld/xverify/pkg/config"
	"github.com/ngld/xverify/pkg/logging"
	"github.com/ngld/xverify/pkg/toolchain"
	"github.com/ngld/xverify/pkg/workspace"
)

// session holds the state shared by all subcommands once the root command ran.
type session struct {
	ctx    context.Context
	cfg    *config.Config
	root   string
	logger *zerolog.Logger
}

var current session

var rootCmd = &cobra.Command{
	Use:   "xverify",
	Short: "Verifies embedded Rust workspaces with a cross and a host toolchain",
	Long: `xverify builds, lints and formats a cargo workspace for its microcontroller target under
the vendor toolchain and runs the unit tests on the host under the standard toolchain.

Jobs, toolchains and members are declared in verify.star. Without it, the stock ESP32 setup
is used: the cross toolchain is loaded from ~/export-esp.sh.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("chdir", "C", "", "run as if xverify was started in this directory")
	flags.String("log-level", "", "minimum log level (trace, debug, info, warn, error)")
	flags.Bool("json", false, "log JSON events instead of console messages")
	flags.StringP("workspace", "w", "", "workspace declaration to load instead of verify.star")
	flags.String("home", "", "directory that replaces ~ in env script paths")
}

func setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	dir, err := flags.GetString("chdir")
	if err != nil {
		return err
	}

	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return eris.Wrap(err, "Failed to retrieve the current working directory")
		}
	}

	root, err := pkg.GetProjectRoot(dir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("json") {
		cfg.Log.JSON, _ = flags.GetBool("json")
	}
	if flags.Changed("workspace") {
		cfg.Workspace, _ = flags.GetString("workspace")
	}
	if flags.Changed("home") {
		cfg.Home, _ = flags.GetString("home")
	}

	if err = cfg.Validate(); err != nil {
		return err
	}

	if cfg.Debug {
		os.Setenv(logging.DebugEnv, "1")
	}

	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(logging.NewConsoleWriter(os.Stderr))
	}
	logger = logger.Level(cfg.LogLevel())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	current = session{
		ctx:    logging.WithLogger(ctx, &logger),
		cfg:    cfg,
		root:   root,
		logger: &logger,
	}

	logger.Debug().Str("root", root).Msg("project root found")
	return nil
}

// splitArgs separates KEY=VALUE workspace options from positional arguments.
func splitArgs(args []string) ([]string, map[string]string) {
	positional := make([]string, 0, len(args))
	options := make(map[string]string)
	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > 0 {
			options[part[:pos]] = part[pos+1:]
		} else {
			positional = append(positional, part)
		}
	}

	return positional, options
}

func loadWorkspace(s session, options map[string]string) (*workspace.Workspace, error) {
	opts := workspace.LoadOptions{Options: options}
	path := s.cfg.WorkspacePath(s.root)

	_, err := os.Stat(path)
	if err == nil {
		return workspace.Load(s.ctx, path, s.root, opts)
	}

	if !eris.Is(err, os.ErrNotExist) {
		return nil, eris.Wrapf(err, "Failed to check %s", path)
	}

	if s.cfg.Workspace != workspace.DefaultFile {
		return nil, eris.Errorf("Workspace declaration %s not found", path)
	}

	return workspace.Discover(s.ctx, s.root, opts)
}

func newResolver(s session) (*toolchain.Resolver, error) {
	resolver, err := toolchain.NewResolver(s.root)
	if err != nil {
		return nil, err
	}

	if s.cfg.Home != "" {
		resolver.Home = s.cfg.Home
	}
	return resolver, nil
}

// Execute runs the CLI. Interrupts cancel the running jobs.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		switch {
		case eris.Is(err, errVerificationFailed):
			// the report already explains what went wrong
		case current.logger != nil:
			current.logger.Error().Err(err).Msg("")
		default:
			pkg.PrintError(err.Error())
		}

		stop()
		os.Exit(1)
	}
}
