package buildroot

import (
	"os"
	"sort"
	"strings"
)

// ComposeEnv builds the environment the child process will see: the
// inherited host environment is discarded entirely and replaced with
// PATH, debian_chroot=originalRoot, and cfg.Env applied through the
// "+" prefix/suffix overlay rule.
//
// The "+"-rule lookups read inherited, the environment this manager
// itself was invoked with, captured once before any clearing -
// otherwise a rule like {"+PATH": "/opt/bin"} could never see a
// pre-existing PATH since the overlay starts from a blank slate.
func ComposeEnv(cfg *Config, originalRoot string, inherited []string) []string {
	host := make(map[string]string, len(inherited))
	for _, kv := range inherited {
		if key, val, ok := strings.Cut(kv, "="); ok {
			host[key] = val
		}
	}

	result := map[string]string{
		"PATH":          DefaultPath,
		"debian_chroot": originalRoot,
	}

	for key, val := range cfg.Env {
		switch {
		case strings.HasPrefix(key, "+"):
			k := strings.TrimPrefix(key, "+")
			if cur := host[k]; cur != "" {
				val = val + ":" + cur
			}
			result[k] = val
		case strings.HasSuffix(key, "+"):
			k := strings.TrimSuffix(key, "+")
			if cur := host[k]; cur != "" {
				val = cur + ":" + val
			}
			result[k] = val
		default:
			result[key] = val
		}
	}

	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+result[k])
	}
	return out
}

// HostEnviron returns the environment this process was invoked with,
// as a slice of "KEY=VALUE" strings. Kept as a function (rather than
// calling os.Environ directly from ComposeEnv) so tests can supply a
// synthetic environment.
func HostEnviron() []string {
	return os.Environ()
}
