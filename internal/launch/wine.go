package launch

import (
	"path/filepath"
	"strings"

	"usvfs/internal/pathutil"
)

// wineSuffixes are the executable basenames whose children receive a
// WINEDLLOVERRIDES entry assembled from the forced-library table.
var wineSuffixes = []string{
	"wine",
	"wine-staging",
	"wine64",
	"wine64-staging",
	"proton",
}

// IsWineLike reports whether basename names a wine or proton loader,
// matched case-insensitively on the suffix.
func IsWineLike(basename string) bool {
	for _, suf := range wineSuffixes {
		if pathutil.IEqual(basename, suf) || pathutil.IHasSuffix(basename, suf) {
			return true
		}
	}
	return false
}

// WineDLLOverrides assembles the WINEDLLOVERRIDES value for a set of
// forced library paths: each library contributes one "name=n,b" term,
// joined by semicolons. The override name is the library's basename
// with its extension stripped, since that is the unit wine's loader
// keys overrides on.
func WineDLLOverrides(libs []string) string {
	if len(libs) == 0 {
		return ""
	}
	terms := make([]string, 0, len(libs))
	for _, lib := range libs {
		name := filepath.Base(lib)
		name = strings.TrimSuffix(name, filepath.Ext(name))
		if name == "" {
			continue
		}
		terms = append(terms, name+"=n,b")
	}
	return strings.Join(terms, ";")
}
