package proxy

import "strings"

// Environment variable names set for proxied sessions. They are always
// emitted together.
const (
	EnvSSLCertFile      = "SSL_CERT_FILE"
	EnvNodeExtraCACerts = "NODE_EXTRA_CA_CERTS"
	EnvHTTPProxy        = "HTTP_PROXY"
	EnvAllProxy         = "all_proxy"
)

// EnvVar is a single KEY=value pair for the container invocation.
type EnvVar struct {
	Name  string
	Value string
}

// String renders the docker -e form.
func (e EnvVar) String() string {
	return e.Name + "=" + e.Value
}

// Overrides is the environment a proxy lifecycle contributes to the
// container. Values already point at container-side paths. The zero value
// means "no proxy".
type Overrides struct {
	// HostCertDir is mounted read-only at ContainerCertDir.
	HostCertDir      string
	ContainerCertDir string

	SSLCertFile      string
	NodeExtraCACerts string
	HTTPProxy        string
	AllProxy         string
}

// IsZero reports whether the overrides carry nothing.
func (o Overrides) IsZero() bool {
	return o == Overrides{}
}

// Pairs returns the four variables in fixed order, or nil for the zero value.
func (o Overrides) Pairs() []EnvVar {
	if o.IsZero() {
		return nil
	}
	return []EnvVar{
		{Name: EnvSSLCertFile, Value: o.SSLCertFile},
		{Name: EnvNodeExtraCACerts, Value: o.NodeExtraCACerts},
		{Name: EnvHTTPProxy, Value: o.HTTPProxy},
		{Name: EnvAllProxy, Value: o.AllProxy},
	}
}

// CertMount renders the read-only bind mount for the certificate directory.
func (o Overrides) CertMount() string {
	if o.IsZero() {
		return ""
	}
	return o.HostCertDir + ":" + o.ContainerCertDir + ":ro"
}

// overridesFor computes the environment for cfg, rewriting every host-side
// reference to the cert dir to its container mount point.
func overridesFor(cfg Config) Overrides {
	rewrite := func(value string) string {
		if cfg.CertDir == "" {
			return value
		}
		return strings.ReplaceAll(value, cfg.CertDir, ContainerCertDir)
	}
	certFile := rewrite(cfg.CACertFile())
	url := rewrite(cfg.URL())
	return Overrides{
		HostCertDir:      cfg.CertDir,
		ContainerCertDir: ContainerCertDir,
		SSLCertFile:      certFile,
		NodeExtraCACerts: certFile,
		HTTPProxy:        url,
		AllProxy:         url,
	}
}
