// Package registry stores the ordered list of allowed domain patterns.
//
// The registry is a newline-delimited text file. Comment-only and blank
// lines are preserved verbatim; inline comments start at '#' and are
// stripped before resolution. The file may be edited by external tooling
// between invocations, so every operation re-reads it from disk.
package registry

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates the registry file does not exist.
var ErrNotFound = errors.New("registry file not found")

// Line is one raw registry line plus its resolution-relevant pattern.
type Line struct {
	Raw     string // verbatim, without trailing newline
	Pattern string // comment-stripped and trimmed; empty for blank/comment lines
}

// Registry reads and mutates the on-disk domain list.
type Registry struct {
	path string
}

// New returns a Registry backed by the file at path.
func New(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the backing file path.
func (r *Registry) Path() string {
	return r.path
}

// Normalize strips an inline comment and surrounding whitespace from a raw
// entry. The result may be empty (comment-only or blank input).
func Normalize(s string) string {
	if idx := strings.Index(s, "#"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// Lines returns every line of the registry verbatim, in file order.
// A missing file returns ErrNotFound; callers decide whether that is fatal.
func (r *Registry) Lines() ([]Line, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, r.path)
		}
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer f.Close()

	var lines []Line
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		raw := scanner.Text()
		lines = append(lines, Line{Raw: raw, Pattern: Normalize(raw)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return lines, nil
}

// Domains returns the normalized non-blank patterns in file order.
// A missing file is treated as an empty registry.
func (r *Registry) Domains() ([]string, error) {
	lines, err := r.Lines()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var domains []string
	for _, l := range lines {
		if l.Pattern != "" {
			domains = append(domains, l.Pattern)
		}
	}
	return domains, nil
}

// Add appends the normalized pattern unless it is already present.
// Returns true when the file changed. Adding a pattern that normalizes to
// nothing (blank or comment-only input) is an error.
func (r *Registry) Add(domain string) (bool, error) {
	pattern := Normalize(domain)
	if pattern == "" {
		return false, fmt.Errorf("%q is not a domain", domain)
	}

	lines, err := r.Lines()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	for _, l := range lines {
		if l.Pattern == pattern {
			return false, nil
		}
	}

	lines = append(lines, Line{Raw: pattern, Pattern: pattern})
	if err := r.write(lines); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes every line whose pattern matches the normalized domain,
// keeping any comment the line carried out of the file with it. An absent
// pattern or a missing file is a no-op, not an error.
func (r *Registry) Remove(domain string) (bool, error) {
	pattern := Normalize(domain)
	if pattern == "" {
		return false, fmt.Errorf("%q is not a domain", domain)
	}

	lines, err := r.Lines()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	kept := lines[:0]
	removed := false
	for _, l := range lines {
		if l.Pattern == pattern {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	if !removed {
		return false, nil
	}

	if err := r.write(kept); err != nil {
		return false, err
	}
	return true, nil
}

// write replaces the registry atomically: the new content lands in a
// temp file in the same directory and is renamed over the target, so
// external readers never observe a truncated file.
func (r *Registry) write(lines []Line) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Raw)
		b.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create registry temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set registry permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}
