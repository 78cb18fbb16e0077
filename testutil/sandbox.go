package testutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Temporary directory for the files a test needs, e.g. the seed files or
// the environment files. Close removes it with all its content.
type Sandbox struct {
	BasePath string
}

// Creates a sandbox in a new, unique temporary directory.
func NewSandbox() *Sandbox {
	dir, err := os.MkdirTemp("", "bpsim-test-")
	if err != nil {
		log.WithError(err).Fatal("Cannot create the test sandbox")
	}
	return &Sandbox{BasePath: dir}
}

// Removes the sandbox directory.
func (sb *Sandbox) Close() {
	_ = os.RemoveAll(sb.BasePath)
}

// Returns the path of the file inside the sandbox. The name may contain
// slash-separated subdirectories.
func (sb *Sandbox) Path(name string) string {
	return filepath.Join(sb.BasePath, filepath.FromSlash(name))
}

// Writes the content to the file, creating the missing directories, and
// returns the file path.
func (sb *Sandbox) Write(name, content string) (string, error) {
	filePath := sb.Path(name)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return "", errors.Wrapf(err, "cannot create the directory for %s", name)
	}
	if err := os.WriteFile(filePath, []byte(content), 0o600); err != nil {
		return "", errors.Wrapf(err, "cannot write %s", name)
	}
	return filePath, nil
}
