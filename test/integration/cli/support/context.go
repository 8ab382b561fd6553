package support

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/server"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand string
	LastOutput  string
	LastStderr  string
	LastError   error

	// Test environment
	TempDir string
	Files   map[string]string
	envPrev map[string]*string

	// Server management
	Server *TestServer

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    http.Header
	BatchID            string

	// Stream state
	stream         *streamReader
	StreamMessages []server.WebSocketMessage
}

// NewTestContext creates a scenario context with its own temp directory and
// an isolated HOME so no user configuration leaks into the run.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "ticketocr-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx := &TestContext{
		TempDir: tempDir,
		Files:   make(map[string]string),
		envPrev: make(map[string]*string),
	}

	home := filepath.Join(tempDir, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	ctx.SetEnv("HOME", home)
	ctx.SetEnv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return ctx, nil
}

// SetEnv sets an environment variable for the rest of the scenario. Cleanup
// restores the previous value.
func (testCtx *TestContext) SetEnv(name, value string) {
	if _, seen := testCtx.envPrev[name]; !seen {
		if prev, ok := os.LookupEnv(name); ok {
			testCtx.envPrev[name] = &prev
		} else {
			testCtx.envPrev[name] = nil
		}
	}
	_ = os.Setenv(name, value)
}

// Cleanup stops the server, restores the environment and removes the temp
// directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []string

	if testCtx.stream != nil {
		testCtx.stream.close()
		testCtx.stream = nil
	}
	if testCtx.Server != nil {
		testCtx.Server.Close()
		testCtx.Server = nil
	}

	for name, prev := range testCtx.envPrev {
		if prev == nil {
			_ = os.Unsetenv(name)
		} else {
			_ = os.Setenv(name, *prev)
		}
	}
	testCtx.envPrev = make(map[string]*string)

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("failed to remove temp directory %s: %v", testCtx.TempDir, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TrackFile registers path under alias so commands can refer to it as
// {alias}.
func (testCtx *TestContext) TrackFile(alias, path string) {
	testCtx.Files[alias] = path
}

// FilePath returns the path of a file created under the temp directory.
func (testCtx *TestContext) FilePath(name string) string {
	if p, ok := testCtx.Files[name]; ok {
		return p
	}
	return filepath.Join(testCtx.TempDir, name)
}

// substitute replaces {alias}, {tmp} and {batch} placeholders.
func (testCtx *TestContext) substitute(s string) string {
	// Longest aliases first so "a.txt" never clobbers "data.txt".
	aliases := make([]string, 0, len(testCtx.Files))
	for alias := range testCtx.Files {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool { return len(aliases[i]) > len(aliases[j]) })
	for _, alias := range aliases {
		s = strings.ReplaceAll(s, "{"+alias+"}", testCtx.Files[alias])
	}
	s = strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
	s = strings.ReplaceAll(s, "{batch}", testCtx.BatchID)
	return s
}
