package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// archive names end up in file names and object keys
func IsValidName(name string) bool {
	if len(name) == 0 {
		return false
	}
	if name[0] == '-' || name[0] == '.' || name[len(name)-1] == '-' {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return false
		}
	}
	return true
}

// WithinDir reports whether target resolves inside base.
func WithinDir(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	return target == base || strings.HasPrefix(target, base+string(os.PathSeparator))
}
