package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	if c.ListenAddr != ":7070" || c.HTTPAddr != ":8080" || c.Codec != "json" || c.DrainTimeout != 30*time.Second {
		t.Fatalf("defaults = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jarpc.yaml")
	yml := `
listen_addr: ":9000"
codec: cbor
call_timeout: 2s
etcd_endpoints: ["e1:2379"]
context:
  region: eu
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	var c Config
	if err := c.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JARPC_CODEC", "json")
	t.Setenv("JARPC_ETCD_ENDPOINTS", "a:1, b:2")
	t.Setenv("JARPC_RATE_LIMIT", "5")
	t.Setenv("JARPC_RATE_BURST", "10")
	if err := c.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	c.SetDefaults()

	if c.ListenAddr != ":9000" || c.HTTPAddr != "" {
		t.Errorf("addrs = %q %q", c.ListenAddr, c.HTTPAddr)
	}
	if c.Codec != "json" || c.CallTimeout != 2*time.Second {
		t.Errorf("codec %q timeout %v", c.Codec, c.CallTimeout)
	}
	if strings.Join(c.EtcdEndpoints, ",") != "a:1,b:2" {
		t.Errorf("etcd = %v", c.EtcdEndpoints)
	}
	if c.RateLimit != 5 || c.RateBurst != 10 {
		t.Errorf("rate = %v/%d", c.RateLimit, c.RateBurst)
	}
	if c.Context["region"] != "eu" {
		t.Errorf("context = %v", c.Context)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyEnvRejectsMalformed(t *testing.T) {
	t.Setenv("JARPC_DRAIN_TIMEOUT", "soon")
	t.Setenv("JARPC_MAX_TASKS", "many")
	var c Config
	err := c.ApplyEnv()
	if err == nil || !strings.Contains(err.Error(), "JARPC_DRAIN_TIMEOUT") || !strings.Contains(err.Error(), "JARPC_MAX_TASKS") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	c := Config{Codec: "xml", DrainTimeout: time.Second, RateLimit: 1}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"nothing to serve", "unknown codec", "rate_burst"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}
