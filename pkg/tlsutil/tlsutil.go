// Package tlsutil builds client TLS configuration for NATS connections from
// PEM files on disk.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360/natsrpc/errors"
)

// Files names the PEM material for a client connection.
type Files struct {
	// CAFiles are trusted in addition to the system pool.
	CAFiles []string
	// CertFile and KeyFile present a client certificate when both are set.
	CertFile string
	KeyFile  string
	// MinVersion is "1.2" or "1.3". Anything else means TLS 1.2.
	MinVersion         string
	InsecureSkipVerify bool
}

// Resolve returns a copy of f with every relative path joined to base.
func (f Files) Resolve(base string) Files {
	out := f
	out.CAFiles = make([]string, len(f.CAFiles))
	for i, ca := range f.CAFiles {
		out.CAFiles[i] = resolve(base, ca)
	}
	out.CertFile = resolve(base, f.CertFile)
	out.KeyFile = resolve(base, f.KeyFile)
	return out
}

func resolve(base, path string) string {
	if path == "" || base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// LoadClientConfig creates a tls.Config for a NATS client.
// The system CA bundle is always trusted; CAFiles are added to it.
func LoadClientConfig(f Files) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(f.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}

	for _, caFile := range f.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil",
				"LoadClientConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile),
			)
		}
	}
	tlsConfig.RootCAs = rootCAs

	switch {
	case f.CertFile != "" && f.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case f.CertFile != "" || f.KeyFile != "":
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "LoadClientConfig",
			"cert_file and key_file must be set together")
	}

	// Operators opt into this explicitly through configuration.
	if f.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}
