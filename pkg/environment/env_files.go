// Package environment reads dotenv files into the process environment.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type KeyValuePair struct {
	Key   string
	Value string
}

// ReadEnvFile parses KEY=VALUE lines. Blank lines and # comments are skipped,
// an optional "export " prefix and surrounding quotes are removed.
func ReadEnvFile(absolutePath string) ([]KeyValuePair, error) {
	buf, err := os.ReadFile(absolutePath)
	if err != nil {
		return nil, err
	}

	var lines []KeyValuePair

	for line := range strings.SplitSeq(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid env file line: %s", line)
		}

		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)

		for _, quote := range []string{`"`, `'`} {
			if len(v) >= 2 && strings.HasPrefix(v, quote) && strings.HasSuffix(v, quote) {
				v = v[1 : len(v)-1]
				break
			}
		}

		lines = append(lines, KeyValuePair{Key: k, Value: v})
	}

	return lines, nil
}

// LoadEnvFile sets the variables of a dotenv file that are not already set.
// A missing file is not an error.
func LoadEnvFile(absolutePath string) error {
	pairs, err := ReadEnvFile(absolutePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, kv := range pairs {
		if _, set := os.LookupEnv(kv.Key); set {
			continue
		}
		if err := os.Setenv(kv.Key, kv.Value); err != nil {
			return fmt.Errorf("setting %s: %w", kv.Key, err)
		}
	}
	return nil
}
