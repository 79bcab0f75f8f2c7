package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase once, from an environment variable or
// an interactive prompt, and caches the outcome including any error.
type Source struct {
	envVar string
	label  string

	once  sync.Once
	value string
	err   error
}

// NewSource returns a Source reading envVar first. label names the key in
// prompts and errors, e.g. "relayer" or "wallet".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label}
}

// Get returns the passphrase. Blank values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar == "" {
			return "", fmt.Errorf("no %s passphrase: stdin is not a terminal", s.label)
		}
		return "", fmt.Errorf("no %s passphrase: set %s or run interactively", s.label, s.envVar)
	}
	return s.prompt(fd)
}

func (s *Source) prompt(fd int) (string, error) {
	fmt.Fprintf(os.Stderr, "%s passphrase: ", s.label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s passphrase: %w", s.label, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	return string(raw), nil
}
