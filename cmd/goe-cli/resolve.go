package main

import (
	"fmt"
	"sort"
	"strings"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "", "-", "", "_", "", "/", "")
	return replacer.Replace(name)
}

// resolvePath matches input against known attribute paths ignoring case and
// separators, so "setcurrent" and "ac/power" resolve.
func resolvePath(input string, paths []string) (string, error) {
	needle := normalizeName(input)
	for _, path := range paths {
		if path == input || normalizeName(path) == needle {
			return path, nil
		}
	}
	available := append([]string(nil), paths...)
	sort.Strings(available)
	return "", fmt.Errorf("attribute %q not found. Available: %s", input, strings.Join(available, ", "))
}
