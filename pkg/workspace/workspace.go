// Package workspace manages the run's working directory and the trust
// material generated into it.
package workspace

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/security"
)

// Directory names under the workspace root
const (
	CertsDir    = "certs"
	KeysDir     = "keys"
	RenderedDir = "rendered"
	LogsDir     = "logs"
	VolumesDir  = "volumes"
)

// File names of the generated trust material
const (
	RootCertFile       = "ca.crt"
	RootKeyFile        = "ca.key"
	ProxyCertName      = "proxy"
	ConnectionKeyFile  = "connection.pem"
	ConnectionPubFile  = "connection.pub"
	AuthorizedKeysFile = "authorized_keys"
)

// ephemeral directories are recreated on every run. Volumes outlive a run
// until the topology is torn down.
var ephemeral = []string{CertsDir, KeysDir, RenderedDir, LogsDir}

// Workspace is the run's working directory
type Workspace struct {
	root string
}

// New returns a workspace rooted at root. Nothing is created until Prepare.
func New(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Prepare wipes and recreates the per-run directories
func (w *Workspace) Prepare() error {
	logger := log.WithComponent("workspace")

	if err := os.MkdirAll(w.root, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	for _, dir := range ephemeral {
		p := filepath.Join(w.root, dir)
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", dir, err)
		}
		if err := os.MkdirAll(p, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(w.VolumesDir(), 0755); err != nil {
		return fmt.Errorf("failed to create volumes directory: %w", err)
	}

	logger.Debug().Str("root", w.root).Msg("Workspace prepared")
	return nil
}

// Root returns the absolute workspace path
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) CertsDir() string    { return filepath.Join(w.root, CertsDir) }
func (w *Workspace) KeysDir() string     { return filepath.Join(w.root, KeysDir) }
func (w *Workspace) RenderedDir() string { return filepath.Join(w.root, RenderedDir) }
func (w *Workspace) LogsDir() string     { return filepath.Join(w.root, LogsDir) }
func (w *Workspace) VolumesDir() string  { return filepath.Join(w.root, VolumesDir) }

// RootCertPath is where the shared root certificate is written
func (w *Workspace) RootCertPath() string {
	return filepath.Join(w.CertsDir(), RootCertFile)
}

// WriteRendered stores a rendered payload for service under
// rendered/<service>/<rel> and returns its path
func (w *Workspace) WriteRendered(service, rel string, content []byte, mode os.FileMode) (string, error) {
	dir := filepath.Join(w.RenderedDir(), service)
	p := filepath.Clean(filepath.Join(dir, rel))
	if rel == "" || filepath.IsAbs(rel) || !strings.HasPrefix(p, dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("rendered path %q escapes %s", rel, dir)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("failed to create rendered directory: %w", err)
	}
	if mode == 0 {
		mode = 0644
	}
	if err := os.WriteFile(p, content, mode); err != nil {
		return "", fmt.Errorf("failed to write rendered file: %w", err)
	}
	return p, nil
}

// TrustOptions configures the generated trust material
type TrustOptions struct {
	Organization string
	KeyBits      int

	// Proxy server certificate
	ProxyCommonName string
	ProxyDNSNames   []string
	ProxyIPs        []net.IP
}

// TrustMaterial is the run's generated certificates and keys
type TrustMaterial struct {
	CA            *security.CertAuthority
	RootCertPath  string
	RootKeyPath   string
	ProxyCertPath string
	ProxyKeyPath  string

	ConnectionKey      *security.KeyPair
	ConnectionKeyPath  string
	ConnectionPubPath  string
	AuthorizedKeysPath string
}

// GenerateTrust creates a fresh root CA, the proxy's server certificate and
// the connection key pair, and writes them into certs/ and keys/
func (w *Workspace) GenerateTrust(opts TrustOptions) (*TrustMaterial, error) {
	logger := log.WithComponent("workspace")

	if opts.Organization == "" {
		opts.Organization = "stackup"
	}
	if opts.ProxyCommonName == "" {
		opts.ProxyCommonName = "localhost"
	}
	if len(opts.ProxyDNSNames) == 0 {
		opts.ProxyDNSNames = []string{opts.ProxyCommonName}
	}
	if len(opts.ProxyIPs) == 0 {
		opts.ProxyIPs = []net.IP{net.IPv4(127, 0, 0, 1)}
	}

	ca := security.NewCertAuthority(opts.Organization, opts.KeyBits)
	if err := ca.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize root CA: %w", err)
	}

	m := &TrustMaterial{
		CA:                 ca,
		RootCertPath:       w.RootCertPath(),
		RootKeyPath:        filepath.Join(w.CertsDir(), RootKeyFile),
		ProxyCertPath:      filepath.Join(w.CertsDir(), ProxyCertName+".crt"),
		ProxyKeyPath:       filepath.Join(w.CertsDir(), ProxyCertName+".key"),
		ConnectionKeyPath:  filepath.Join(w.KeysDir(), ConnectionKeyFile),
		ConnectionPubPath:  filepath.Join(w.KeysDir(), ConnectionPubFile),
		AuthorizedKeysPath: filepath.Join(w.KeysDir(), AuthorizedKeysFile),
	}

	if err := os.WriteFile(m.RootCertPath, ca.RootCertPEM(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write root certificate: %w", err)
	}
	if err := os.WriteFile(m.RootKeyPath, ca.RootKeyPEM(), 0600); err != nil {
		return nil, fmt.Errorf("failed to write root key: %w", err)
	}

	proxy, err := ca.IssueServerCertificate(opts.ProxyCommonName, opts.ProxyDNSNames, opts.ProxyIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to issue proxy certificate: %w", err)
	}
	if err := security.SaveCertToFile(proxy, w.CertsDir(), ProxyCertName); err != nil {
		return nil, err
	}

	pair, err := security.GenerateKeyPair(opts.KeyBits)
	if err != nil {
		return nil, err
	}
	m.ConnectionKey = pair

	files := []struct {
		path    string
		content []byte
		mode    os.FileMode
	}{
		{m.ConnectionKeyPath, pair.PrivatePEM, 0600},
		{m.ConnectionPubPath, pair.PublicPEM, 0644},
		{m.AuthorizedKeysPath, pair.AuthorizedKey, 0644},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, f.content, f.mode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", filepath.Base(f.path), err)
		}
	}

	logger.Info().
		Str("root_cert", m.RootCertPath).
		Str("proxy_cert", m.ProxyCertPath).
		Msg("Trust material generated")
	return m, nil
}
