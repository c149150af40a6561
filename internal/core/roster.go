package core

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	rosterReadyHeader    = "Ready. IP addresses of all instances:"
	rosterNotReadyHeader = "NOT ready. IP addresses of all instances:"
)

// Roster is the result of one readiness check: whether every instance was
// running and the addresses of those that have one, in provider order.
type Roster struct {
	Ready     bool
	Addresses []string
}

// WriteRosterFile replaces the roster file atomically. The first line is a
// readiness header, followed by one address per line.
func WriteRosterFile(path string, r Roster) error {
	var b strings.Builder
	if r.Ready {
		b.WriteString(rosterReadyHeader)
	} else {
		b.WriteString(rosterNotReadyHeader)
	}
	b.WriteByte('\n')
	for _, addr := range r.Addresses {
		b.WriteString(addr)
		b.WriteByte('\n')
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".roster-*")
	if err != nil {
		return fmt.Errorf("create roster temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write roster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close roster: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod roster: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}
	return nil
}

// ReadRosterFile parses a roster file. Readiness is taken from the first
// character of the header line, so hand-edited headers keep working.
func ReadRosterFile(path string) (Roster, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Roster{}, fmt.Errorf("%w: roster %s (run `shardfleet check` first)", ErrMissingLocalFile, path)
	}
	if err != nil {
		return Roster{}, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	var r Roster
	s := bufio.NewScanner(f)
	first := true
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if first {
			first = false
			r.Ready = strings.HasPrefix(line, "R")
			continue
		}
		if line == "" {
			continue
		}
		r.Addresses = append(r.Addresses, line)
	}
	if err := s.Err(); err != nil {
		return Roster{}, fmt.Errorf("read roster: %w", err)
	}
	return r, nil
}

// RequireReady fails with ErrNotReady unless the last check saw every instance running.
func (r Roster) RequireReady() error {
	if !r.Ready {
		return fmt.Errorf("%w: the last check saw instances that were not running", ErrNotReady)
	}
	return nil
}
