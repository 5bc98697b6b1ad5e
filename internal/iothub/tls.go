package iothub

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Credentials is the device's X.509 identity.
type Credentials struct {
	TLS *tls.Config
	// RegistrationID is the certificate's common name unless overridden.
	RegistrationID string
}

// LoadCredentials reads a client certificate and key and, when caPath is not
// empty, a CA bundle to trust instead of the system roots.
func LoadCredentials(certPath, keyPath, caPath string) (*Credentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse client certificate: %w", err)
	}
	if leaf.Subject.CommonName == "" {
		return nil, errors.New("client certificate has no common name")
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", caPath)
		}
		cfg.RootCAs = pool
	}

	return &Credentials{TLS: cfg, RegistrationID: leaf.Subject.CommonName}, nil
}

// ready reports whether the credentials can authenticate a connection.
func (c *Credentials) ready() bool {
	return c != nil && c.TLS != nil && len(c.TLS.Certificates) > 0 && c.RegistrationID != ""
}
