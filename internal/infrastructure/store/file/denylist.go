package file

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// seedEntries is written to the denylist file when it does not exist yet.
var seedEntries = []string{
	"arsch", "idiot", "dummy", "depp", "hurensohn", "nutte", "bitch", "fick", "fuck",
}

// Denylist is the file-backed list of forbidden username substrings. The
// file is re-read on every Contains call: administrative deletions append
// to it at runtime and must take effect immediately in every process.
// One entry per line; blank lines and lines starting with # are ignored.
type Denylist struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

func NewDenylist(path string, log zerolog.Logger) *Denylist {
	return &Denylist{path: path, log: log}
}

// Ensure creates the backing file with the seed entries when absent.
func (d *Denylist) Ensure() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat denylist: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	content := strings.Join(seedEntries, "\n") + "\n"
	if err := os.WriteFile(d.path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("seed denylist: %w", err)
	}
	d.log.Info().Str("path", d.path).Msg("seeded username denylist")
	return nil
}

// Contains reports whether candidate, case-folded, equals or contains any
// denylist entry as a substring.
func (d *Denylist) Contains(candidate string) (bool, error) {
	entries, err := d.load()
	if err != nil {
		return false, err
	}
	folded := strings.ToLower(candidate)
	for _, entry := range entries {
		if strings.Contains(folded, entry) {
			return true, nil
		}
	}
	return false, nil
}

// Append adds username to the denylist, permanently retiring the identity.
func (d *Denylist) Append(username string) error {
	if err := d.Ensure(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open denylist: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", strings.ToLower(username)); err != nil {
		return fmt.Errorf("append to denylist: %w", err)
	}
	return f.Sync()
}

func (d *Denylist) load() ([]string, error) {
	if err := d.Ensure(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open denylist: %w", err)
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read denylist: %w", err)
	}
	return entries, nil
}
