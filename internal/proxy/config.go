package proxy

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/strongdm/contain-agent/internal/profile"
)

const (
	// DefaultAddress is where the operator's recorder is expected to listen,
	// as seen from inside the container.
	DefaultAddress = "host.rancher-desktop.internal:8080"

	// DefaultPort is mitmdump's own default listen port.
	DefaultPort = 8080

	// DefaultCertDirName is mitmproxy's configuration directory under $HOME.
	DefaultCertDirName = ".mitmproxy"

	// CACertFileName is the CA bundle mitmproxy writes into its cert dir.
	CACertFileName = "mitmproxy-ca-cert.pem"

	// ContainerCertDir is where the host cert dir is mounted read-only.
	ContainerCertDir = profile.ContainerHome + "/" + DefaultCertDirName
)

// Config describes the recorder endpoint and its certificate directory.
type Config struct {
	Host    string
	Port    int
	CertDir string
}

// NewConfig parses address (host:port, [v6]:port or a bare host) and
// absolutizes certDir.
func NewConfig(address, certDir string) (Config, error) {
	host, port, err := ParseAddress(address)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(certDir) == "" {
		return Config{}, fmt.Errorf("certificate directory must not be empty")
	}
	abs, err := filepath.Abs(certDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve certificate directory %q: %w", certDir, err)
	}
	return Config{Host: host, Port: port, CertDir: filepath.Clean(abs)}, nil
}

// ParseAddress splits a proxy address. A missing port defaults to DefaultPort.
func ParseAddress(raw string) (string, int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", 0, fmt.Errorf("proxy address must not be empty")
	}

	var host, port string
	switch {
	case strings.HasPrefix(value, "[") && strings.Contains(value, "]:"):
		closing := strings.LastIndex(value, "]:")
		host = value[1:closing]
		port = value[closing+2:]
	case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
		host = strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")
	case strings.Count(value, ":") > 1:
		return "", 0, fmt.Errorf("invalid proxy address %q: bracket IPv6 hosts", value)
	case strings.HasPrefix(value, ":"):
		port = value[1:]
	case strings.Contains(value, ":"):
		h, p, err := net.SplitHostPort(value)
		if err != nil {
			return "", 0, fmt.Errorf("invalid proxy address %q: %w", value, err)
		}
		host, port = h, p
	default:
		host = value
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, fmt.Errorf("invalid proxy address %q: host is required", value)
	}
	if strings.TrimSpace(port) == "" {
		return host, DefaultPort, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || n <= 0 || n > 65535 {
		return "", 0, fmt.Errorf("invalid proxy port %q", port)
	}
	return host, n, nil
}

// Address renders host:port, bracketing IPv6 hosts.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL is the proxy URL handed to HTTP clients inside the container.
func (c Config) URL() string {
	return "http://" + c.Address()
}

// CACertFile is the host-side CA bundle path.
func (c Config) CACertFile() string {
	return filepath.Join(c.CertDir, CACertFileName)
}
