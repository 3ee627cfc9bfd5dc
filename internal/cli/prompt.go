package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tOgg1/jumpshell/internal/config"
)

// promptMissingPasswords asks for the password of every profile that has
// none configured and stores the answer in cfg. Without a terminal the
// passwords are read one per line.
func promptMissingPasswords(cfg *config.Config, in *os.File, out io.Writer) error {
	profiles := cfg.Authentication.Profiles
	if !hasMissingPassword(profiles) {
		return nil
	}
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return fillPasswords(profiles, out, lineReader(in))
	}
	return fillPasswords(profiles, out, func() (string, error) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		return string(secret), err
	})
}

func hasMissingPassword(profiles []config.AuthProfileConfig) bool {
	for _, p := range profiles {
		if p.Password == "" {
			return true
		}
	}
	return false
}

// fillPasswords fills empty passwords from read. The same answer is reused
// for every profile with the same username.
func fillPasswords(profiles []config.AuthProfileConfig, out io.Writer, read func() (string, error)) error {
	answers := make(map[string]string)
	for i := range profiles {
		p := &profiles[i]
		if p.Password != "" {
			continue
		}
		if secret, ok := answers[p.Username]; ok {
			p.Password = secret
			continue
		}
		fmt.Fprintf(out, "Password for %s@%s: ", p.Username, p.Name)
		secret, err := read()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		// A leading "env:" or "file:" would be taken as a reference.
		if strings.HasPrefix(secret, "env:") || strings.HasPrefix(secret, "file:") {
			return fmt.Errorf("password for profile %q cannot start with env: or file:", p.Name)
		}
		answers[p.Username] = secret
		p.Password = secret
	}
	return nil
}

func lineReader(r io.Reader) func() (string, error) {
	scanner := bufio.NewScanner(r)
	return func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
}
