package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/strongdm/contain-agent/internal/command"
	"github.com/strongdm/contain-agent/internal/profile"
	"github.com/strongdm/contain-agent/internal/proxy"
)

// streams are the terminal handles passed through to the container.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

type consoleStyles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
	errText lipgloss.Style
}

// console prints launch progress. Styling is applied only when stdout is a
// colour-capable terminal.
type console struct {
	streams streams
	styles  consoleStyles
}

func newConsole(s streams) *console {
	plain := lipgloss.NewStyle()
	c := &console{streams: s, styles: consoleStyles{
		title: plain, label: plain, value: plain, muted: plain, warning: plain, errText: plain,
	}}
	if supportsColor(s.out) {
		accent := lipgloss.Color("#58d4ff")
		c.styles = consoleStyles{
			title:   lipgloss.NewStyle().Bold(true).Foreground(accent),
			label:   lipgloss.NewStyle().Faint(true),
			value:   lipgloss.NewStyle().Bold(true),
			muted:   lipgloss.NewStyle().Faint(true),
			warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb454")),
			errText: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff6b6b")),
		}
	}
	return c
}

func supportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	type fd interface {
		Fd() uintptr
	}
	f, ok := w.(fd)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (c *console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.streams.out, format, args...)
}

func (c *console) profile(name, dir string, mounts []profile.Mount) {
	c.printf("Using profile '%s' from %s\n", c.styles.value.Render(name), dir)
	c.printf("Mounting %d items from profile:\n", len(mounts))
	for _, m := range mounts {
		c.printf("  %s %s %s\n", m.Host, c.styles.muted.Render("->"), m.Container)
	}
}

func (c *console) summary(s *session) {
	line := func(label, value string) {
		if value == "" {
			c.printf(" - %s\n", label)
			return
		}
		c.printf(" - %s %s\n", c.styles.label.Render(label+":"), c.styles.value.Render(value))
	}

	c.printf("\n%s\n", c.styles.title.Render("Launching container with:"))
	if s.profileName != "" {
		line("Profile", s.profileName)
	}
	if s.workspace != "" {
		line("Working directory", s.workspace)
	} else {
		line("No workspace mounted", "")
	}
	if len(s.commandArgs) > 0 {
		line("Command", strings.Join(s.commandArgs, " "))
	}
	if s.envFile != "" {
		line("Loading environment from", s.envFile)
	}
	switch {
	case s.opts.dump != "":
		line("Recording traffic to", s.opts.dump)
	case s.opts.passive:
		line("Proxy", s.opts.proxyHost)
	}
	if s.opts.keepContainer() {
		line("Container will be preserved after exit", "")
	} else {
		line("Container will be removed after exit", "")
	}
	if s.opts.force {
		c.printf(" - %s\n", c.styles.warning.Render("Force flag is enabled (protection bypassed)"))
	}
}

func (c *console) starting(inv command.Invocation) {
	c.printf("\nStarting container: %s\n\n", inv.String())
}

func (c *console) interrupted() {
	c.printf("\nInterrupted by user\n")
}

// reportError prints err for the operator, expanding the errors whose
// remedy is worth spelling out.
func (c *console) reportError(err error) {
	w := c.streams.err
	var notFound *profile.NotFoundError
	var wsErr *command.WorkspaceNotFoundError
	var certErr *proxy.CertDirNotFoundError
	switch {
	case errors.As(err, &notFound):
		fmt.Fprintf(w, "%s Profile '%s' not found\n", c.styles.errText.Render("Error:"), notFound.Name)
		fmt.Fprintln(w, "\nAvailable profiles:")
		for _, name := range notFound.Available {
			fmt.Fprintf(w, " - %s\n", name)
		}
	case errors.As(err, &wsErr):
		fmt.Fprintf(w, "%s does not exist; perhaps you forgot to use --no-mount?\n", wsErr.Path)
	case errors.As(err, &certErr):
		fmt.Fprintf(w, "%s %s\n", c.styles.errText.Render("ERROR:"), certErr.Error())
	case errors.Is(err, proxy.ErrRecorderNotFound):
		fmt.Fprintf(w, "%s %v. Install mitmproxy (or uv) or place a mitmdump binary in ~/%s/\n",
			c.styles.errText.Render("ERROR:"), err, profile.HomeDirName)
	default:
		fmt.Fprintf(w, "%s %v\n", c.styles.errText.Render("ERROR:"), err)
	}
}
