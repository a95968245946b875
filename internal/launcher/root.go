// Package launcher implements the contain-agent command line: it resolves
// the profile, workspace and proxy mode, then runs the agent container
// inside the proxy lifecycle and reports its exit status.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/strongdm/contain-agent/internal/configstore"
	"github.com/strongdm/contain-agent/internal/proxy"
	"github.com/strongdm/contain-agent/internal/telemetry/otel"
)

const commandName = "contain-agent"

// Main runs the CLI. args defaults to os.Args. Any non-zero status is
// returned as an *ExitCodeError after the reason has been printed.
func Main(args []string) error {
	if len(args) == 0 {
		args = os.Args
	}
	code := execute(context.Background(), args[1:], streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
	if code != ExitOK {
		return &ExitCodeError{code: code}
	}
	return nil
}

// execute runs one invocation and returns the process exit status.
func execute(parent context.Context, args []string, s streams) int {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := newConsole(s)
	root := newRootCommand(s, ui)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	var exitErr *ExitCodeError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, errInterrupted) {
		ui.reportError(err)
	}
	return exitCodeFor(err)
}

func newRootCommand(s streams, ui *console) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   commandName + " [flags] [MOUNT_DIR] [COMMAND...]",
		Short: "Run coding agents in a container",
		Long: `Run an AI coding agent in a container with the workspace mounted at
/workspace and profile files mounted under /home/agent. With --dump the
container's traffic is recorded through mitmdump for later review.`,
		Args:          cobra.ArbitraryArgs,
		Version:       productVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, args, &opts, s, ui)
		},
	}
	cmd.SetIn(s.in)
	cmd.SetOut(s.out)
	cmd.SetErr(s.err)
	cmd.SetVersionTemplate(versionText())
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage.", err, c.CommandPath())
	})

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	opts.bind(flags)

	cmd.AddCommand(newProfilesCommand(s, ui))
	cmd.AddCommand(newConfigCommand(s))
	return cmd
}

func runRoot(cmd *cobra.Command, args []string, opts *options, s streams, ui *console) error {
	// Reject conflicting proxy modes before touching anything else.
	if err := proxy.ValidateModes(opts.dump, opts.passive); err != nil {
		return err
	}

	home, err := configstore.ResolveHomeDir()
	if err != nil {
		return err
	}
	cwd, err := getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := configstore.Load()
	if err != nil {
		return err
	}
	resolved, err := cfg.Resolve(cwd)
	if err != nil {
		return err
	}
	opts.applyConfig(cmd.Flags(), resolved)
	if err := opts.validate(); err != nil {
		return err
	}

	logger := log.New(s.err, "", 0)
	otelCfg := otel.LoadConfigFromEnv()
	otelCfg.Writer = s.err
	provider, err := otel.Setup(cmd.Context(), otelCfg)
	if err != nil {
		logger.Printf("Warning: telemetry disabled: %v", err)
		provider = nil
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Printf("Warning: telemetry shutdown: %v", err)
		}
	}()

	sess := &session{
		id:        newSession(),
		opts:      *opts,
		home:      home,
		cwd:       cwd,
		logger:    logger,
		ui:        ui,
		telemetry: provider,
	}
	if opts.verbose {
		logConfigScopes(logger, cmd.Flags(), resolved)
	}
	return sess.run(cmd.Context(), args)
}

func logConfigScopes(logger *log.Logger, fs *pflag.FlagSet, resolved configstore.Resolved) {
	for _, key := range []string{configstore.KeyImage, configstore.KeyProfile, configstore.KeyCommand} {
		scope := string(resolved.Scope(key))
		if fs.Changed(key) {
			scope = "flag"
		}
		logger.Printf("event=config.resolve key=%s scope=%s", key, scope)
	}
}
