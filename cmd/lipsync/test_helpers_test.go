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
	stagingDir string
	cacheDir   string
	binDir     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("LIPSYNC_SIDECAR_URL", "")

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		stagingDir: filepath.Join(base, "staging"),
		cacheDir:   filepath.Join(base, "cache"),
		binDir:     filepath.Join(base, "bin"),
	}
	if err := os.MkdirAll(env.binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	writeScript(t, env.binDir, "ffmpeg", `echo " ------"
echo " V..... mpeg4                MPEG-4 part 2"
echo " A..... pcm_s16le            PCM signed 16-bit little-endian"`)
	writeScript(t, env.binDir, "ffprobe", "exit 0")
	env.writeConfig(t, "")
	return env
}

// writeConfig writes a config pointing every directory into the test's
// temp dir. extra is appended verbatim.
func (e *cliTestEnv) writeConfig(t *testing.T, extra string) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
staging_dir = %q
log_dir = %q
cache_dir = %q

[ffmpeg]
ffmpeg_binary = %q
ffprobe_binary = %q

[logging]
level = "error"
%s`,
		e.stagingDir,
		filepath.Join(e.baseDir, "logs"),
		e.cacheDir,
		filepath.Join(e.binDir, "ffmpeg"),
		filepath.Join(e.binDir, "ffprobe"),
		extra,
	)
	if err := os.WriteFile(e.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
