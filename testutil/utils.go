package testutil

import (
	"bytes"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Runs the function and returns what it wrote to the standard output and
// the standard error. The log output is captured with the standard output.
func CaptureOutput(f func()) (stdout []byte, stderr []byte, err error) {
	outReader, outWriter, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot create the stdout pipe")
	}
	errReader, errWriter, err := os.Pipe()
	if err != nil {
		outReader.Close()
		outWriter.Close()
		return nil, nil, errors.Wrap(err, "cannot create the stderr pipe")
	}

	originalStdout, originalStderr := os.Stdout, os.Stderr
	originalLogOutput := logrus.StandardLogger().Out
	os.Stdout, os.Stderr = outWriter, errWriter
	logrus.SetOutput(outWriter)

	var outBuffer, errBuffer bytes.Buffer
	var outErr, errErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, outErr = io.Copy(&outBuffer, outReader)
	}()
	go func() {
		defer wg.Done()
		_, errErr = io.Copy(&errBuffer, errReader)
	}()

	defer func() {
		os.Stdout, os.Stderr = originalStdout, originalStderr
		logrus.SetOutput(originalLogOutput)
	}()

	f()

	outWriter.Close()
	errWriter.Close()
	wg.Wait()
	outReader.Close()
	errReader.Close()

	if outErr != nil {
		return nil, nil, errors.Wrap(outErr, "cannot read stdout")
	}
	if errErr != nil {
		return nil, nil, errors.Wrap(errErr, "cannot read stderr")
	}
	return outBuffer.Bytes(), errBuffer.Bytes(), nil
}

// Returns the process environment as a map.
func environment() map[string]string {
	variables := make(map[string]string)
	for _, pair := range os.Environ() {
		key, value, _ := strings.Cut(pair, "=")
		variables[key] = value
	}
	return variables
}

// Saves the environment variables and returns the function restoring
// them. The variables added in the meantime are removed.
func CreateEnvironmentRestorePoint() func() {
	saved := environment()
	return func() {
		for key := range environment() {
			if _, ok := saved[key]; !ok {
				os.Unsetenv(key)
			}
		}
		for key, value := range saved {
			os.Setenv(key, value)
		}
	}
}

// Saves os.Args and returns the function restoring them.
func CreateOsArgsRestorePoint() func() {
	saved := os.Args
	return func() {
		os.Args = saved
	}
}

// Returns a TCP port on the loopback interface that is free at the time
// of the call.
func GetFreeLocalTCPPort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrap(err, "no free TCP port")
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
