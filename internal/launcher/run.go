package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strongdm/contain-agent/internal/command"
	"github.com/strongdm/contain-agent/internal/dumpfile"
	"github.com/strongdm/contain-agent/internal/profile"
	"github.com/strongdm/contain-agent/internal/proxy"
	"github.com/strongdm/contain-agent/internal/sensitive"
	"github.com/strongdm/contain-agent/internal/telemetry/otel"
)

const defaultProfileName = "default"

var (
	getwd         = os.Getwd
	newGuard      = sensitive.Default
	newSession    = func() string { return uuid.NewString() }
	recorderGrace = time.Duration(0)
)

// session carries everything resolved for one launch.
type session struct {
	id     string
	opts   options
	home   string
	cwd    string
	logger *log.Logger
	ui     *console

	telemetry *otel.Provider

	workspaceArg string
	commandArgs  []string

	profileName string
	profileDir  string
	mounts      []profile.Mount
	envFile     string
	workspace   string
}

func (s *session) debugf(format string, args ...interface{}) {
	if s.opts.verbose {
		s.logger.Printf(format, args...)
	}
}

// run performs one launch. It returns nil, an *ExitCodeError carrying the
// container's status, errInterrupted, or a validation error.
func (s *session) run(ctx context.Context, args []string) error {
	s.splitArgs(args)
	if err := s.checkWorkspaceArg(); err != nil {
		return err
	}
	if err := s.resolveProfile(); err != nil {
		return err
	}
	if err := s.resolveEnvFile(); err != nil {
		return err
	}
	if err := s.resolveWorkspace(); err != nil {
		return err
	}
	s.ui.summary(s)

	lc, err := s.lifecycle()
	if err != nil {
		return err
	}

	handle, ctx := s.telemetry.Session().Start(ctx, otel.SessionInfo{
		ID:      s.id,
		Mode:    string(lc.Mode()),
		Image:   s.opts.image,
		Profile: s.profileName,
	})
	s.debugf("event=launch.start session=%s mode=%s image=%s", s.id, lc.Mode(), s.opts.image)

	exitCode := -1
	runErr := proxy.Run(ctx, tracedLifecycle{Lifecycle: lc, handle: handle}, func(ctx context.Context) error {
		inv, err := command.Build(command.Spec{
			Runtime:       s.opts.runtime,
			Image:         s.opts.image,
			Workspace:     s.workspace,
			Overrides:     lc.Overrides(),
			Mounts:        s.mounts,
			KeepAfterExit: s.opts.keepContainer(),
			EnvFile:       s.envFile,
			Command:       s.commandArgs,
		})
		if err != nil {
			return err
		}
		s.ui.starting(inv)

		end := handle.Phase("container.run")
		started := time.Now()
		code, err := runContainer(ctx, inv, s.ui.streams)
		handle.RecordContainer(time.Since(started))
		end(err)
		exitCode = code
		return err
	})

	if ctx.Err() != nil {
		s.ui.interrupted()
		handle.Finish(ExitInterrupted, errInterrupted)
		return errInterrupted
	}
	if runErr != nil {
		handle.Finish(ExitFailure, runErr)
		return runErr
	}
	handle.Finish(exitCode, nil)
	s.debugf("event=launch.finish session=%s exit_code=%d", s.id, exitCode)
	if exitCode != 0 {
		return &ExitCodeError{code: exitCode}
	}
	return nil
}

// splitArgs treats the first positional as the workspace when mounting; the
// rest is the command.
func (s *session) splitArgs(args []string) {
	if s.opts.mountWorkspace() && len(args) > 0 {
		s.workspaceArg = args[0]
		args = args[1:]
	}
	s.commandArgs = append([]string(nil), args...)
	if len(s.commandArgs) == 0 && len(s.opts.command) > 0 {
		s.commandArgs = append([]string(nil), s.opts.command...)
		s.debugf("event=command.default argv=%q", s.commandArgs)
	}
}

func (s *session) checkWorkspaceArg() error {
	if s.workspaceArg == "" {
		return nil
	}
	if _, err := os.Stat(s.workspaceArg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &command.WorkspaceNotFoundError{Path: s.workspaceArg}
		}
		return fmt.Errorf("stat %s: %w", s.workspaceArg, err)
	}
	return nil
}

func (s *session) resolveProfile() error {
	local, home := profile.DefaultLocations(s.cwd, s.home)
	set, err := profile.Discover(local, home)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(s.opts.profile)
	if name == "" && !s.opts.noProfile && hasDefaultProfile(home) {
		// A local profiles/default still takes precedence once selected.
		name = defaultProfileName
	}
	if name == "" {
		return nil
	}

	dir, err := set.Resolve(name)
	if err != nil {
		return err
	}
	mounts, err := profile.Mounts(dir)
	if err != nil {
		return err
	}
	s.profileName = name
	s.profileDir = dir
	s.mounts = mounts
	s.ui.profile(name, dir, mounts)
	return nil
}

// hasDefaultProfile reports whether the per-user default profile exists.
// Only that one triggers automatic selection.
func hasDefaultProfile(homeProfiles string) bool {
	info, err := os.Stat(filepath.Join(homeProfiles, defaultProfileName))
	return err == nil && info.IsDir()
}

// resolveEnvFile prefers an explicit --env-file over the profile's .env.
// Only one env file is ever passed to the runtime.
func (s *session) resolveEnvFile() error {
	if explicit := strings.TrimSpace(s.opts.envFile); explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return &EnvFileError{Path: explicit, Err: err}
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		} else if !errors.Is(err, os.ErrNotExist) {
			return &EnvFileError{Path: explicit, Err: err}
		}
		s.envFile = abs
		if s.profileDir != "" {
			if profileEnv, ok := profile.EnvFile(s.profileDir); ok {
				s.debugf("event=envfile.override explicit=%s ignored=%s", abs, profileEnv)
			}
		}
	} else if s.profileDir != "" {
		if profileEnv, ok := profile.EnvFile(s.profileDir); ok {
			s.envFile = profileEnv
		}
	}

	if s.envFile == "" {
		return nil
	}
	if info, err := os.Stat(s.envFile); err != nil || info.IsDir() {
		s.logger.Printf("Warning: env file %s not found; continuing without it", s.envFile)
		s.envFile = ""
		return nil
	}
	return nil
}

func (s *session) resolveWorkspace() error {
	if !s.opts.mountWorkspace() {
		return nil
	}
	target := s.workspaceArg
	if target == "" {
		target = s.cwd
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("Cannot resolve directory '%s' to absolute path: %w", target, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if s.opts.force {
		s.debugf("event=guard.skip path=%s", abs)
	} else if newGuard().IsProtected(abs) {
		return &SensitiveDirectoryError{Path: abs}
	}
	s.workspace = abs
	return nil
}

func (s *session) lifecycle() (proxy.Lifecycle, error) {
	certDir := strings.TrimSpace(s.opts.mitmproxyDir)
	if certDir == "" {
		certDir = filepath.Join(s.home, proxy.DefaultCertDirName)
	}
	cfg, err := proxy.NewConfig(s.opts.proxyHost, certDir)
	if err != nil {
		return nil, err
	}
	codec, err := dumpfile.ParseCodec(s.opts.dumpCompress)
	if err != nil {
		return nil, err
	}
	return proxy.Select(proxy.Options{
		DumpFile: s.opts.dump,
		Passive:  s.opts.passive,
		Config:   cfg,
		Recorder: proxy.RecorderOptions{
			HomeDir:       s.home,
			GraceInterval: recorderGrace,
			Compression:   codec,
			Logger:        s.logger,
			Verbose:       s.opts.verbose,
		},
	})
}

// tracedLifecycle reports Enter and Exit as child spans of the launch.
type tracedLifecycle struct {
	proxy.Lifecycle
	handle *otel.SessionHandle
}

func (t tracedLifecycle) Enter(ctx context.Context) error {
	end := t.handle.Phase("proxy.enter")
	err := t.Lifecycle.Enter(ctx)
	end(err)
	return err
}

func (t tracedLifecycle) Exit() {
	end := t.handle.Phase("proxy.exit")
	t.Lifecycle.Exit()
	end(nil)
}
