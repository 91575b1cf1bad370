package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wrtkit/router-command/pkg/proxy"
)

const exampleConfig = `
listen: ":9443"
timeout: 15s
tls:
  cert: /etc/wrt-proxy/cert.pem
  key: /etc/wrt-proxy/key.pem
auth:
  secret: hunter2
  issuer: wrt-proxy
snapshots: /var/lib/wrt-proxy/snapshots.db
routers:
  lounge:
    host: 192.168.1.1
    password: secret
    window: 25ms
    stale_factor: 3
    max_batch: 8
    ttl:
      system_info: 5s
  attic:
    host: https://192.168.2.1/ubus
    username: admin
    password_file: /etc/wrt-proxy/attic-password
    insecure_tls: true
`

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(exampleConfig))
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if config.Listen != ":9443" {
		t.Errorf("Unexpected listen address: %s", config.Listen)
	}
	if time.Duration(config.Timeout) != 15*time.Second {
		t.Errorf("Unexpected timeout: %s", time.Duration(config.Timeout))
	}
	if config.Auth.Issuer != "wrt-proxy" {
		t.Errorf("Unexpected issuer: %s", config.Auth.Issuer)
	}

	lounge, ok := config.Routers["lounge"]
	if !ok {
		t.Fatal("Missing router 'lounge'")
	}
	if time.Duration(lounge.Window) != 25*time.Millisecond {
		t.Errorf("Unexpected window: %s", time.Duration(lounge.Window))
	}
	if lounge.StaleFactor != 3 || lounge.MaxBatch != 8 {
		t.Errorf("Unexpected tuning: stale_factor=%d max_batch=%d", lounge.StaleFactor, lounge.MaxBatch)
	}
	if time.Duration(lounge.TTL["system_info"]) != 5*time.Second {
		t.Errorf("Unexpected TTL override: %v", lounge.TTL)
	}
	if lounge.username() != "root" {
		t.Errorf("Expected default username, got %s", lounge.username())
	}

	attic := config.Routers["attic"]
	if attic.username() != "admin" {
		t.Errorf("Unexpected username: %s", attic.username())
	}
	if !attic.InsecureTLS {
		t.Error("Expected insecure_tls to be set")
	}
}

func TestParseConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte("auth: {secret: s}\nrouters: {r: {host: 10.0.0.1}}\n"))
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if config.Listen != defaultListen {
		t.Errorf("Expected default listen address, got %s", config.Listen)
	}
	if time.Duration(config.Timeout) != proxy.DefaultTimeout {
		t.Errorf("Expected default timeout, got %s", time.Duration(config.Timeout))
	}
}

func TestParseConfigRejectsUnknownFields(t *testing.T) {
	_, err := ParseConfig([]byte("auth: {secret: s}\nrouters: {r: {hostname: 10.0.0.1}}\n"))
	if err == nil || !strings.Contains(err.Error(), "malformed config") {
		t.Errorf("Expected unknown-field error, got %v", err)
	}
}

func TestParseConfigRejectsBadDuration(t *testing.T) {
	_, err := ParseConfig([]byte("timeout: fast\nauth: {secret: s}\nrouters: {r: {host: h}}\n"))
	if err == nil {
		t.Error("Expected error for unparsable duration")
	}
}

func TestParseConfigValidation(t *testing.T) {
	type params struct {
		name string
		yaml string
	}
	testCases := []params{
		{name: "no routers", yaml: "auth: {secret: s}\n"},
		{name: "router without host", yaml: "auth: {secret: s}\nrouters: {r: {username: root}}\n"},
		{name: "no auth secret", yaml: "routers: {r: {host: h}}\n"},
		{name: "tls cert without key", yaml: "auth: {secret: s}\nrouters: {r: {host: h}}\ntls: {cert: c.pem}\n"},
	}
	for _, test := range testCases {
		if _, err := ParseConfig([]byte(test.yaml)); err == nil {
			t.Errorf("%s: expected validation error", test.name)
		}
	}
}

func TestAuthSecretFromFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(filename, []byte("sesame\n"), 0600); err != nil {
		t.Fatalf("Failed to write secret file: %s", err)
	}
	auth := AuthConfig{Secret: "ignored", SecretFile: filename}
	secret, err := auth.secret()
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if string(secret) != "sesame" {
		t.Errorf("Unexpected secret: %q", secret)
	}
}

func TestRouterPasswordFromFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(filename, []byte(" hunter2 \n"), 0600); err != nil {
		t.Fatalf("Failed to write password file: %s", err)
	}
	router := RouterConfig{Host: "h", PasswordFile: filename}
	password, err := router.password()
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if password != "hunter2" {
		t.Errorf("Unexpected password: %q", password)
	}
}
