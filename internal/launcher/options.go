package launcher

import (
	"strings"

	"github.com/spf13/pflag"

	"github.com/strongdm/contain-agent/internal/command"
	"github.com/strongdm/contain-agent/internal/configstore"
	"github.com/strongdm/contain-agent/internal/dumpfile"
	"github.com/strongdm/contain-agent/internal/proxy"
)

// options mirrors the root command's flags.
type options struct {
	dump         string
	passive      bool
	proxyHost    string
	mitmproxyDir string
	profile      string
	noProfile    bool
	rm           bool
	noRm         bool
	force        bool
	mount        bool
	noMount      bool
	envFile      string
	image        string
	runtime      string
	dumpCompress string
	verbose      bool

	// command is the configured default command, used when no trailing
	// command is given on the command line.
	command []string
}

func (o *options) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.dump, "dump", "", "Enable mitmproxy and dump traffic to `FILE`")
	fs.BoolVar(&o.passive, "proxy", false, "Configure proxy settings without starting mitmdump (you run mitmproxy yourself)")
	fs.StringVar(&o.proxyHost, "proxy-host", proxy.DefaultAddress, "Proxy `host:port` as seen from the container")
	fs.StringVar(&o.mitmproxyDir, "mitmproxy-dir", "", "Directory holding mitmproxy certificates (default ~/.mitmproxy)")
	fs.StringVar(&o.profile, "profile", "", "Mount files/dirs from profile `NAME` to /home/agent/<name>")
	fs.BoolVar(&o.noProfile, "no-profile", false, "Do not use the default profile")
	fs.BoolVar(&o.rm, "rm", true, "Remove container after exit")
	fs.BoolVar(&o.noRm, "no-rm", false, "Keep the container after exit")
	fs.BoolVar(&o.force, "force", false, "Force mounting sensitive directories")
	fs.BoolVar(&o.mount, "mount", true, "Mount workspace directory")
	fs.BoolVar(&o.noMount, "no-mount", false, "Do not mount a workspace directory")
	fs.StringVar(&o.envFile, "env-file", "", "Path to .env file to load (default <profile>/.env)")
	fs.StringVar(&o.image, "image", command.DefaultImage, "Container image name")
	fs.StringVar(&o.runtime, "runtime", command.DefaultRuntime, "Container runtime binary")
	fs.StringVar(&o.dumpCompress, "dump-compress", string(dumpfile.CodecNone), "Compress the traffic dump after recording: none, zstd or brotli")
	fs.BoolVarP(&o.verbose, "verbose", "V", false, "Enable verbose logging")
}

func (o options) keepContainer() bool {
	return o.noRm || !o.rm
}

func (o options) mountWorkspace() bool {
	return o.mount && !o.noMount
}

// applyConfig fills every flag the operator did not set from the resolved
// configuration. Flags always win; --no-profile also drops a configured
// profile.
func (o *options) applyConfig(fs *pflag.FlagSet, cfg configstore.Resolved) {
	fill := func(flag string, dst *string, value string) {
		if fs.Changed(flag) || strings.TrimSpace(value) == "" {
			return
		}
		*dst = value
	}
	fill("image", &o.image, cfg.Image)
	fill("runtime", &o.runtime, cfg.Runtime)
	fill("proxy-host", &o.proxyHost, cfg.ProxyHost)
	fill("mitmproxy-dir", &o.mitmproxyDir, cfg.MitmproxyDir)
	if !o.noProfile {
		fill("profile", &o.profile, cfg.Profile)
	}
	fill("dump-compress", &o.dumpCompress, cfg.DumpCompression)
	o.command = cfg.Command
}

func (o options) validate() error {
	if err := proxy.ValidateModes(o.dump, o.passive); err != nil {
		return err
	}
	if _, err := dumpfile.ParseCodec(o.dumpCompress); err != nil {
		return err
	}
	return nil
}
