package buildroot

import "strings"

// ComposeLowerDir produces the overlay "lowerdir=" payload for cfg,
// grounded on the teacher's mountRootfs string-join in rootfs.go but
// generalized to the base-variant substitution rule:
//
//  1. If Base names an existing directory, it is prepended to the
//     working list (outermost candidate).
//  2. The working list is walked inner-to-outer (i.e. in reverse),
//     substituting L for "L.<base>" when that variant exists, and
//     appending L to the result only if it resolves to a directory.
//
// Entries that resolve to nothing are silently omitted; the join
// order is the overlay's outer-to-inner priority.
func ComposeLowerDir(cfg *Config) string {
	working := make([]string, 0, len(cfg.Lower)+1)
	if cfg.Base != nil && resolveExistingDir(*cfg.Base) {
		working = append(working, *cfg.Base)
	}
	working = append(working, cfg.Lower...)

	var resolved []string
	for i := len(working) - 1; i >= 0; i-- {
		entry := working[i]
		if cfg.Base != nil {
			variant := entry + "." + *cfg.Base
			if resolveExistingDir(variant) {
				entry = variant
			}
		}
		if resolveExistingDir(entry) {
			resolved = append(resolved, entry)
		}
	}
	return strings.Join(resolved, ":")
}
