// Package fileset expands declared input/output patterns into concrete file
// lists and computes freshness (outdated inputs/outputs/pairs) per the
// symmetric/asymmetric pairing rules.
package fileset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pake/internal/pakeerr"
)

// Pattern is one declared input or output element, independent of any task
// registration type so this package has no upward dependency.
type Pattern struct {
	Raw     string
	Derived bool // output-only: template containing a single "%" marker
}

// Lit builds a literal/glob (non-derived) Pattern.
func Lit(raw string) Pattern { return Pattern{Raw: raw} }

// Classification is the execution-time result of expanding a task's declared
// inputs/outputs and computing freshness.
type Classification struct {
	ConcreteInputs  []string
	ConcreteOutputs []string

	OutdatedInputs  []string
	OutdatedOutputs []string
	OutdatedPairs   []Pair

	Outdated bool
}

// Pair is a single (input, output) tuple deemed outdated under the symmetric
// pairing rule.
type Pair struct {
	Input  string
	Output string
}

// isGlob reports whether raw contains glob metacharacters.
func isGlob(raw string) bool {
	return strings.ContainsAny(raw, "*?[")
}

// expand turns one declared pattern into a sorted, deduplicated list of
// concrete paths. Literal paths pass through unchanged (existence is
// validated separately for inputs); globs (including a recursive "**"
// segment) are expanded against the current filesystem state.
func expand(raw string) ([]string, error) {
	if !isGlob(raw) {
		return []string{raw}, nil
	}
	if strings.Contains(raw, "**") {
		return expandRecursiveGlob(raw)
	}
	matches, err := filepath.Glob(raw)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// expandRecursiveGlob supports a single "**" path segment meaning "zero or
// more directories", matching the remaining suffix pattern underneath it.
func expandRecursiveGlob(raw string) ([]string, error) {
	parts := strings.SplitN(raw, "**", 2)
	base := strings.TrimSuffix(parts[0], string(filepath.Separator))
	if base == "" {
		base = "."
	}
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	var out []string
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		candidate := filepath.Join(path, suffix)
		matches, gerr := filepath.Glob(candidate)
		if gerr != nil {
			return gerr
		}
		out = append(out, matches...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return dedupe(out), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// stem returns the basename of path without its last extension, the
// substitution value for a derived output's "%" marker.
func stem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// ExpandInputs expands every declared input pattern into the deduplicated,
// order-preserving concrete input list. A derived pattern used as an input
// is rejected: derived forms are output-only.
func ExpandInputs(patterns []Pattern) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range patterns {
		if p.Derived {
			return nil, pakeerr.BadArguments("derived pattern %q is only valid as an output", p.Raw)
		}
		matches, err := expand(p.Raw)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

// ExpandOutputs expands every declared output pattern. A derived pattern
// produces one concrete output per concrete input by substituting the
// input's stem for "%".
func ExpandOutputs(patterns []Pattern, concreteInputs []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		if p.Derived {
			for _, in := range concreteInputs {
				out = append(out, strings.Replace(p.Raw, "%", stem(in), 1))
			}
			continue
		}
		matches, err := expand(p.Raw)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

// Mtime returns the modification time of path in the same unit as
// os.FileInfo.ModTime's UnixNano, so callers can compare freshness without
// importing time. Directories participate identically to files: their mtime
// is the directory's own mtime, never a recursive walk of its contents.
func Mtime(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().UnixNano(), true
}

// Classify expands taskName's declared inputs/outputs and computes
// freshness per the symmetric/asymmetric pairing rules. A missing concrete
// input is a fatal pakeerr.MissingInput for the task.
func Classify(taskName string, inputPatterns, outputPatterns []Pattern) (*Classification, error) {
	concreteInputs, err := ExpandInputs(inputPatterns)
	if err != nil {
		return nil, err
	}
	for _, in := range concreteInputs {
		if _, ok := Mtime(in); !ok {
			return nil, &pakeerr.MissingInput{Task: taskName, Path: in}
		}
	}

	concreteOutputs, err := ExpandOutputs(outputPatterns, concreteInputs)
	if err != nil {
		return nil, err
	}

	c := &Classification{ConcreteInputs: concreteInputs, ConcreteOutputs: concreteOutputs}

	if len(concreteInputs) == 0 && len(concreteOutputs) == 0 {
		c.Outdated = true
		return c, nil
	}

	if len(concreteOutputs) == 0 {
		// Inputs declared, no outputs: always outdated (open question §9).
		c.Outdated = true
		c.OutdatedInputs = concreteInputs
		return c, nil
	}

	if len(concreteInputs) == len(concreteOutputs) {
		for i, in := range concreteInputs {
			out := concreteOutputs[i]
			inTime, _ := Mtime(in)
			outTime, outExists := Mtime(out)
			if !outExists || inTime > outTime {
				c.OutdatedPairs = append(c.OutdatedPairs, Pair{Input: in, Output: out})
				c.OutdatedInputs = append(c.OutdatedInputs, in)
				c.OutdatedOutputs = append(c.OutdatedOutputs, out)
			}
		}
		c.Outdated = len(c.OutdatedPairs) > 0
		return c, nil
	}

	// Asymmetric: outdated iff any output missing or max(input mtime) > min(output mtime).
	var maxIn int64
	for _, in := range concreteInputs {
		t, _ := Mtime(in)
		if t > maxIn {
			maxIn = t
		}
	}
	var minOut int64
	missingOutput := false
	first := true
	for _, out := range concreteOutputs {
		t, ok := Mtime(out)
		if !ok {
			missingOutput = true
			continue
		}
		if first || t < minOut {
			minOut = t
			first = false
		}
	}
	c.Outdated = missingOutput || maxIn > minOut
	if c.Outdated {
		c.OutdatedInputs = concreteInputs
		c.OutdatedOutputs = concreteOutputs
	}
	return c, nil
}
