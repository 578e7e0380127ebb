package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `{
		"broker": {
			"username": "phase",
			"password": "s3cret",
			"host": "rabbit.internal",
			"port": 5672,
			"vhost": "/",
			"sub_exchange": "phase_out",
			"pub_exchange": "phase_in",
			"token": "shared-token"
		},
		"origin_server": "dimension-1"
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Host != "rabbit.internal" {
		t.Errorf("host: got %q", cfg.Broker.Host)
	}
	if cfg.OriginServer != "dimension-1" {
		t.Errorf("origin: got %q", cfg.OriginServer)
	}
	if cfg.Health.Port != DefaultHealthPort {
		t.Errorf("health port default: got %d", cfg.Health.Port)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `{
		"broker": {
			"username": "phase",
			"password": "filepass",
			"host": "filehost",
			"token": "filetoken"
		}
	}`)

	t.Setenv("PHASE_BROKER_HOST", "envhost")
	t.Setenv("PHASE_BROKER_PASSWORD", "envpass")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Host != "envhost" {
		t.Errorf("env override host: got %q", cfg.Broker.Host)
	}
	if cfg.Broker.Password != "envpass" {
		t.Errorf("env override password: got %q", cfg.Broker.Password)
	}
}

func TestLoadConfig_MissingFileEnvOnly(t *testing.T) {
	t.Setenv("PHASE_BROKER_USERNAME", "phase")
	t.Setenv("PHASE_BROKER_HOST", "rabbit")
	t.Setenv("PHASE_TOKEN", "tok")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Username != "phase" {
		t.Errorf("username: got %q", cfg.Broker.Username)
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"username", "host", "token", "exchange"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestAMQPURI_EncodesPassword(t *testing.T) {
	b := BrokerConfig{
		Username: "phase",
		Password: "p@ss/w:rd",
		Host:     "rabbit",
		Port:     5672,
		VHost:    "/",
	}
	uri := b.AMQPURI()
	if strings.Contains(uri, "p@ss/w:rd") {
		t.Errorf("password not encoded: %q", uri)
	}
	if !strings.HasPrefix(uri, "amqp://phase:") {
		t.Errorf("unexpected uri shape: %q", uri)
	}
}

func TestRedacted_OmitsSecrets(t *testing.T) {
	b := BrokerConfig{Username: "phase", Password: "hunter2", Token: "tok", Host: "rabbit"}
	red := b.Redacted()
	for k, v := range red {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == "hunter2" || s == "tok" {
			t.Errorf("secret leaked under key %q", k)
		}
	}
	if _, ok := red["password"]; ok {
		t.Error("password key present in redacted output")
	}
	if _, ok := red["token"]; ok {
		t.Error("token key present in redacted output")
	}
}
