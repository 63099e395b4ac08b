package config

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wricardo/fastws/route"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func writeSelfSignedCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("FASTWS_TEST_TOKEN", "secret-token")
	t.Setenv("FASTWS_TEST_PORT", "4100")

	path := writeTempFile(t, `
server:
  port: ${FASTWS_TEST_PORT}
ngrok:
  enabled: true
  authtoken: ${FASTWS_TEST_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Ngrok.AuthToken != "secret-token" {
		t.Errorf("Ngrok.AuthToken = %q, want secret-token", cfg.Ngrok.AuthToken)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	} else if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}

	path := writeTempFile(t, "server: [unterminated")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, `
server:
  verbose: true
  websocket:
    compression: shared
static:
  root: ./public
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults() error: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if !cfg.Server.Verbose {
		t.Error("Server.Verbose should be kept")
	}
	if cfg.Server.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if cfg.Server.WebSocket.Path != DefaultWSPath {
		t.Errorf("WebSocket.Path = %q, want %q", cfg.Server.WebSocket.Path, DefaultWSPath)
	}
	if cfg.Server.WebSocket.Compression != "shared" {
		t.Errorf("WebSocket.Compression = %q, want shared", cfg.Server.WebSocket.Compression)
	}
	if cfg.Server.WebSocket.IdleTimeout != DefaultWSIdleTimeout {
		t.Errorf("WebSocket.IdleTimeout = %v, want %v", cfg.Server.WebSocket.IdleTimeout, DefaultWSIdleTimeout)
	}
	if cfg.Static.Cache != DefaultStaticCache {
		t.Errorf("Static.Cache = %d, want %d", cfg.Static.Cache, DefaultStaticCache)
	}
	if cfg.Metrics.Path != DefaultMetricsPath || cfg.MCP.Path != DefaultMCPPath || cfg.Admin.Path != DefaultAdminPath {
		t.Errorf("admin paths = %q, %q, %q", cfg.Metrics.Path, cfg.MCP.Path, cfg.Admin.Path)
	}
	if cfg.AdminEnabled() {
		t.Error("admin routes should be off by default")
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("log = %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadAndValidate_Invalid(t *testing.T) {
	path := writeTempFile(t, `
server:
  websocket:
    compression: zstd
`)
	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validate config") {
		t.Errorf("error should be wrapped, got %v", err)
	}
	if !errors.Is(err, route.ErrInvalidOptions) {
		t.Errorf("expected route.ErrInvalidOptions, got %v", err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"negative shutdown", func(c *Config) { c.Server.ShutdownTimeout = -time.Second }, "server.shutdown_timeout"},
		{"negative session idle", func(c *Config) { c.Server.SessionIdle = -time.Second }, "server.session_idle"},
		{"relative ws path", func(c *Config) { c.Server.WebSocket.Path = "ws" }, "server.websocket.path"},
		{"bad compression", func(c *Config) { c.Server.WebSocket.Compression = "gzip" }, "compression"},
		{"fractional idle timeout", func(c *Config) { c.Server.WebSocket.IdleTimeout = 1500 * time.Millisecond }, "idle timeout"},
		{"negative payload", func(c *Config) { c.Server.WebSocket.MaxPayloadLength = -1 }, "max payload"},
		{"cert without key", func(c *Config) { c.TLS.CertFile = "cert.pem" }, "tls.cert_file"},
		{"zero cache", func(c *Config) { c.Static.Cache = 0 }, "static.cache"},
		{"files without root", func(c *Config) { c.Static.Files = []string{"/app.js"} }, "static.root"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics.path"},
		{"mcp path", func(c *Config) { c.MCP.Enabled = true; c.MCP.Path = "mcp" }, "mcp.path"},
		{"same admin paths", func(c *Config) {
			c.Metrics.Enabled = true
			c.MCP.Enabled = true
			c.MCP.Path = c.Metrics.Path
		}, "must differ"},
		{"admin path", func(c *Config) { c.MCP.Enabled = true; c.Admin.Path = "admin" }, "admin.path"},
		{"ngrok without token", func(c *Config) { c.Ngrok.Enabled = true }, "ngrok.authtoken"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"valid tuned", func(c *Config) {
			c.Server.WebSocket.Compression = "dedicated"
			c.Server.WebSocket.MaxPayloadLength = 1 << 20
			c.Ngrok.Enabled = true
			c.Ngrok.AuthToken = "tok"
			c.Log.Format = "JSON"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestTLSConfig_Load(t *testing.T) {
	var disabled TLSConfig
	tlsConfig, err := disabled.Load()
	if err != nil || tlsConfig != nil {
		t.Fatalf("disabled TLS should load nil, got %v, %v", tlsConfig, err)
	}

	certFile, keyFile := writeSelfSignedCert(t)
	enabled := TLSConfig{CertFile: certFile, KeyFile: keyFile}
	tlsConfig, err = enabled.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(tlsConfig.Certificates))
	}

	broken := TLSConfig{CertFile: keyFile, KeyFile: keyFile}
	if _, err := broken.Load(); err == nil {
		t.Error("expected error loading a key as certificate")
	}
}

func TestServerOptions(t *testing.T) {
	cfg := Default()
	cfg.Server.Verbose = true
	cfg.Static.Root = t.TempDir()
	cfg.Static.Cache = 7

	opts, err := cfg.ServerOptions(nil, nil)
	if err != nil {
		t.Fatalf("ServerOptions() error: %v", err)
	}
	if !opts.Verbose || opts.Cache != 7 || opts.StaticRoot != cfg.Static.Root {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.TLS != nil {
		t.Error("TLS should be nil when not configured")
	}
	if opts.Codec == nil {
		t.Error("Codec should be set")
	}

	cfg.TLS = TLSConfig{CertFile: "missing.pem", KeyFile: "missing.key"}
	if _, err := cfg.ServerOptions(nil, nil); err == nil {
		t.Error("expected error for missing certificate files")
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("expected JSON record, got %s", out)
	}

	buf.Reset()
	LogConfig{Level: "debug", Format: "text"}.NewLogger(&buf).Debug("dbg")
	if !strings.Contains(buf.String(), "msg=dbg") {
		t.Errorf("expected text record, got %s", buf.String())
	}
}

func TestAdminEnabled(t *testing.T) {
	cfg := Default()
	cfg.MCP.Enabled = true
	if !cfg.AdminEnabled() {
		t.Error("MCP should turn on the admin routes")
	}
	cfg = Default()
	cfg.Admin.Enabled = true
	if !cfg.AdminEnabled() {
		t.Error("admin.enabled should turn on the admin routes")
	}
}

func TestWebSocketConfig_Options(t *testing.T) {
	ws := WebSocketConfig{Compression: "shared", IdleTimeout: 30 * time.Second, MaxPayloadLength: 64}
	opts := ws.Options()
	if opts.Compression != "shared" || opts.IdleTimeout != 30*time.Second || opts.MaxPayloadLength != 64 {
		t.Errorf("unexpected options: %+v", opts)
	}
}
