package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// refPattern matches ${NAME} references in configuration values.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand replaces every ${NAME} reference in s with its value from vars.
// All unresolved names are collected and reported in a single error, so a
// value with several typos surfaces them all at once.
func Expand(s string, vars map[string]string) (string, error) {
	var missing []string
	out := refPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := refPattern.FindStringSubmatch(m)[1]
		val, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("undefined variable(s): %s", strings.Join(dedupe(missing), ", "))
	}
	return out, nil
}

// ExpandAll expands every value of m against vars, returning a new map.
func ExpandAll(m map[string]string, vars map[string]string) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		ev, err := Expand(v, vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

// ExpandSlice expands every element of list against vars, returning a new slice.
func ExpandSlice(list []string, vars map[string]string) ([]string, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]string, len(list))
	for i, v := range list {
		ev, err := Expand(v, vars)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

// Refs returns the ${NAME} reference names appearing in s, in order of
// first appearance.
func Refs(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
