package bpsimutil

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Variable read from an environment file.
type EnvironmentEntry struct {
	Key   string
	Value string
}

// Reads the KEY=VALUE lines of the file. Empty lines and lines starting
// with # are skipped. A line may start with "export " and the value may be
// quoted.
func ReadEnvironmentFile(path string) ([]EnvironmentEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open the '%s' environment file", path)
	}
	defer file.Close()
	return parseEnvironment(file)
}

// Exports the variables of the file to the process environment in the
// order they appear. Later lines override earlier ones.
func LoadEnvironmentFile(path string) error {
	entries, err := ReadEnvironmentFile(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.Setenv(entry.Key, entry.Value); err != nil {
			return errors.Wrapf(err, "cannot set the %s variable", entry.Key)
		}
	}
	return nil
}

func parseEnvironment(reader io.Reader) ([]EnvironmentEntry, error) {
	var entries []EnvironmentEntry
	scanner := bufio.NewScanner(reader)
	for number := 1; scanner.Scan(); number++ {
		entry, err := parseEnvironmentLine(scanner.Text())
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid line %d of environment file", number)
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, errors.WithStack(scanner.Err())
}

// Returns nil for the blank and comment lines.
func parseEnvironmentLine(line string) (*EnvironmentEntry, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return nil, errors.New("line must contain the key and value separated by the '=' sign")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	if strings.ContainsAny(key, " \t") {
		return nil, errors.Errorf("key %q contains whitespace", key)
	}

	value = strings.TrimSpace(value)
	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid quoted value of %s", key)
		}
		value = unquoted
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		value = value[1 : len(value)-1]
	}
	return &EnvironmentEntry{Key: key, Value: value}, nil
}
