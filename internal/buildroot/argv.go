package buildroot

import (
	"os"
	"strings"
)

// placeholderBuildRoot is substituted in every argv element with the
// effective root, letting a config reference the assembled path
// before it is known (e.g. "--root=$$build_root$$").
const placeholderBuildRoot = "$$build_root$$"

// ComposeArgv builds the argv the lifecycle will exec, given the
// command-line-supplied args:
//
//  1. If cfg.Exec is set, it and cfg.Args are pushed to the front of
//     args.
//  2. If the result is still empty, the first shell candidate whose
//     path exists under effectiveRoot is used, falling back to the
//     first configured shell (or "/bin/sh" if none) otherwise.
//  3. Every occurrence of the $$build_root$$ placeholder in every
//     element is substituted with effectiveRoot.
func ComposeArgv(cfg *Config, effectiveRoot string, args []string) []string {
	if cfg.Exec != nil {
		prefix := make([]string, 0, 1+len(cfg.Args))
		prefix = append(prefix, *cfg.Exec)
		prefix = append(prefix, cfg.Args...)
		args = append(prefix, args...)
	}

	if len(args) == 0 {
		args = []string{chooseShell(cfg, effectiveRoot)}
	}

	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, placeholderBuildRoot, effectiveRoot)
	}
	return out
}

func chooseShell(cfg *Config, effectiveRoot string) string {
	for _, shell := range cfg.Shell {
		candidate := JoinChrootRelative(effectiveRoot, shell)
		if _, err := os.Stat(candidate); err == nil {
			return shell
		}
	}
	if len(cfg.Shell) > 0 {
		return cfg.Shell[0]
	}
	return "/bin/sh"
}
