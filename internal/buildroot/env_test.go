package buildroot

import "testing"

// TestComposeEnvOverlayRules exercises P6: pre-existing K=old with
// {+K: new} => K=new:old; {K+: new} => K=old:new; {K: new} => K=new
// regardless of any pre-existing value.
func TestComposeEnvOverlayRules(t *testing.T) {
	inherited := []string{"K=old", "J=old", "L=old"}

	cfg := &Config{Env: map[string]string{
		"+K": "new",
		"J+": "new",
		"L":  "new",
	}}

	got := envMap(ComposeEnv(cfg, "/orig", inherited))

	if got["K"] != "new:old" {
		t.Errorf("K = %q, want new:old", got["K"])
	}
	if got["J"] != "old:new" {
		t.Errorf("J = %q, want old:new", got["J"])
	}
	if got["L"] != "new" {
		t.Errorf("L = %q, want new", got["L"])
	}
}

func TestComposeEnvAlwaysSetsPathAndDebianChroot(t *testing.T) {
	got := envMap(ComposeEnv(&Config{}, "/orig/root", nil))
	if got["PATH"] != DefaultPath {
		t.Errorf("PATH = %q, want %q", got["PATH"], DefaultPath)
	}
	if got["debian_chroot"] != "/orig/root" {
		t.Errorf("debian_chroot = %q, want /orig/root", got["debian_chroot"])
	}
}

func TestComposeEnvPrefixRuleWithNoPreexistingValue(t *testing.T) {
	cfg := &Config{Env: map[string]string{"+FRESH": "value"}}
	got := envMap(ComposeEnv(cfg, "/orig", nil))
	if got["FRESH"] != "value" {
		t.Errorf("FRESH = %q, want value (no pre-existing value to append)", got["FRESH"])
	}
}

func envMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
