package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	outputDir  string
}

// setupCLITestEnv writes a config file with per-test directories and pins
// the output-dir environment override so tests control it explicitly.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("REPLATE_OUTPUT_DIR", "")

	base := t.TempDir()
	outputDir := filepath.Join(base, "out")
	configPath := filepath.Join(base, "config.toml")
	writeCLIConfig(t, configPath, outputDir, base, false)

	return &cliTestEnv{
		baseDir:    base,
		configPath: configPath,
		outputDir:  outputDir,
	}
}

func writeCLIConfig(t *testing.T, path, outputDir, base string, ledgerOn bool) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
output_dir = %q
log_dir = %q
state_dir = %q

[batch]
ledger = %t
`, outputDir, filepath.Join(base, "logs"), filepath.Join(base, "state"), ledgerOn)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func countMatches(output, substr string) int {
	return strings.Count(output, substr)
}
