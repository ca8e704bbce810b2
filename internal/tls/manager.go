package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"

	"hongson-portal/internal/config"
	"hongson-portal/internal/util"

	"golang.org/x/crypto/acme/autocert"
)

// Manager picks the portal's certificate: ACME via autocert, a configured
// key pair, or a self-signed development certificate, in that order.
type Manager struct {
	server   config.ServerConfig
	autoCert *autocert.Manager

	mu       sync.Mutex
	fallback *tls.Certificate
}

func NewManager(server config.ServerConfig) (*Manager, error) {
	m := &Manager{server: server}

	if server.AutoCert {
		if err := os.MkdirAll(server.AutoCertDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create autocert directory: %w", err)
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(server.Domain),
			Cache:      autocert.DirCache(server.AutoCertDir),
			Email:      server.Email,
		}
		util.Info("AutoCert configured",
			util.String("domain", server.Domain),
			util.String("cache_dir", server.AutoCertDir))
	}

	return m, nil
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert certificate unavailable, using fallback",
			util.String("server_name", hello.ServerName),
			util.ErrorField(err))
	}
	return m.fallbackCertificate()
}

func (m *Manager) fallbackCertificate() (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fallback != nil {
		return m.fallback, nil
	}

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		m.fallback = &cert
		return m.fallback, nil
	}

	hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}
	cert, err := NewDevCertGenerator(m.server.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.fallback = &cert
	return m.fallback, nil
}

func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// AutocertManager is nil unless AUTO_CERT is enabled.
func (m *Manager) AutocertManager() *autocert.Manager {
	return m.autoCert
}
