package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/mcodex/internal"
	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/pipeline"
)

type nopExec struct{}

func (nopExec) Run(context.Context, pipeline.Command) ([]byte, error) { return nil, nil }

type cliTestEnv struct {
	root       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "repo")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}
	configPath := filepath.Join(base, "config.yaml")
	cfg := "app:\n  log_level: error\n  log_format: text\nhistory:\n  enabled: true\n  path: " +
		filepath.Join(base, "history.db") + "\n"
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{root: root, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, wd string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	r := &runner{
		stdin:  strings.NewReader(""),
		stdout: &stdout,
		stderr: &stderr,
		wd:     wd,
		opts: []internal.Option{
			internal.WithExecutor(nopExec{}, func(name string) (string, error) { return "/usr/bin/" + name, nil }),
			internal.WithLockDir(t.TempDir()),
		},
	}
	argv := append([]string{"mcodex", "--config", e.configPath}, args...)
	err := newRootCommand(r).Run(context.Background(), argv)
	return stdout.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, wd string, args ...string) string {
	t.Helper()
	out, err := e.run(t, wd, args...)
	if err != nil {
		t.Fatalf("mcodex %s: %v", strings.Join(args, " "), err)
	}
	return out
}

// setupText initialises the repository and creates one text with a body.
func (e *cliTestEnv) setupText(t *testing.T) string {
	t.Helper()
	e.mustRun(t, e.root, "init")
	e.mustRun(t, e.root, "author", "add", "jdoe", "Jane", "Doe", "jane@example.com")
	out := e.mustRun(t, e.root, "create", "--author", "jdoe", "My Story")
	dir := filepath.Join(e.root, "text_my_story")
	if !strings.Contains(out, dir) {
		t.Fatalf("create output = %q", out)
	}
	if err := os.WriteFile(filepath.Join(dir, "text.md"), []byte("# Chapter\n\nOne two three.\n"), 0o644); err != nil {
		t.Fatalf("write text: %v", err)
	}
	return dir
}

func TestInitCreatesConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, env.root, "init")
	if !strings.Contains(out, "Initialized mcodex in: "+env.root) {
		t.Errorf("init output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(env.root, ".mcodex", "config.yaml")); err != nil {
		t.Errorf("config not written: %v", err)
	}
}

func TestAuthorList(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, env.root, "init")
	if out := env.mustRun(t, env.root, "author", "list"); !strings.Contains(out, "No authors") {
		t.Errorf("empty list = %q", out)
	}
	env.mustRun(t, env.root, "author", "add", "jdoe", "Jane", "Doe", "jane@example.com")
	out := env.mustRun(t, env.root, "author", "list")
	if !strings.Contains(out, "jdoe") || !strings.Contains(out, "Jane Doe") {
		t.Errorf("list = %q", out)
	}

	_, err := env.run(t, env.root, "author", "add", "jdoe", "J", "D", "j@example.com")
	if apperr.ExitCode(err) != apperr.ExitDomain {
		t.Errorf("duplicate author: err = %v", err)
	}
}

func TestSnapshotBuildAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.setupText(t)

	out := env.mustRun(t, env.root, "snapshot", "create", "--note", "first", "draft", "text_my_story")
	if strings.TrimSpace(out) != "Snapshot created: draft-1" {
		t.Errorf("snapshot output = %q", out)
	}

	out = env.mustRun(t, env.root, "build", "--pipeline", "noop", "my_story", "draft")
	want := filepath.Join(env.root, "artifacts", "my_story_draft-1.pdf")
	if strings.TrimSpace(out) != want {
		t.Errorf("build output = %q, want %q", out, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	out = env.mustRun(t, dir, "snapshot", "list")
	if !strings.Contains(out, "draft-1") || !strings.Contains(out, "first") {
		t.Errorf("snapshot list = %q", out)
	}

	out = env.mustRun(t, env.root, "history", "text_my_story")
	if !strings.Contains(out, "build") || !strings.Contains(out, "snapshot") {
		t.Errorf("history = %q", out)
	}
}

func TestBuildDryRunPrintsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.setupText(t)

	out := env.mustRun(t, dir, "build", "--dry-run")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("dry run output = %q", out)
	}
	if !strings.HasSuffix(lines[3], "my_story_worktree.pdf") {
		t.Errorf("last line = %q", lines[3])
	}
	if _, err := os.Stat(filepath.Join(env.root, "artifacts", "my_story_worktree.pdf")); err == nil {
		t.Error("dry run wrote an artifact")
	}
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.setupText(t)
	env.mustRun(t, dir, "snapshot", "create", "rc")

	out := env.mustRun(t, dir, "status", "--json")
	for _, want := range []string{`"current_stage": "rc"`, `"slug": "my_story"`, `"heading": "Chapter"`, `"words": 4`} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %s:\n%s", want, out)
		}
	}
}

func TestStageRegressionExitCode(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.setupText(t)
	env.mustRun(t, dir, "snapshot", "create", "final")

	_, err := env.run(t, dir, "snapshot", "create", "draft")
	if err == nil {
		t.Fatal("expected stage regression error")
	}
	if code := apperr.ExitCode(err); code != apperr.ExitDomain {
		t.Errorf("exit code = %d, want %d", code, apperr.ExitDomain)
	}
}

func TestPipelineList(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, env.root, "pipeline", "list")
	if !strings.Contains(out, "pdf (default)") || !strings.Contains(out, "built-in defaults") {
		t.Errorf("pipeline list = %q", out)
	}

	env.mustRun(t, env.root, "init")
	out = env.mustRun(t, env.root, "pipeline", "list")
	if !strings.Contains(out, filepath.Join(".mcodex", "config.yaml")) {
		t.Errorf("pipeline list inside repo = %q", out)
	}
}

func TestTextAuthorCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.setupText(t)
	env.mustRun(t, env.root, "author", "add", "rs", "Rita", "Smith", "rita@example.com")

	out := env.mustRun(t, env.root, "text", "author", "add", "text_my_story", "rs")
	if !strings.Contains(out, "added") {
		t.Errorf("add output = %q", out)
	}
	out = env.mustRun(t, env.root, "text", "author", "add", "text_my_story", "rs")
	if !strings.Contains(out, "already listed") {
		t.Errorf("second add output = %q", out)
	}
	out = env.mustRun(t, env.root, "text", "author", "remove", dir, "jdoe")
	if !strings.Contains(out, "removed") {
		t.Errorf("remove output = %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, env.root, "init")
	_, err := env.run(t, env.root, "create")
	if code := apperr.ExitCode(err); code != apperr.ExitDomain {
		t.Errorf("create without title: err = %v", err)
	}
	_, err = env.run(t, env.root, "build", "a", "b", "c")
	if code := apperr.ExitCode(err); code != apperr.ExitDomain {
		t.Errorf("build with three args: err = %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := expandHome("~/.config/mcodex/config.yaml"); got != "/home/tester/.config/mcodex/config.yaml" {
		t.Errorf("expandHome = %q", got)
	}
	if got := expandHome("/etc/mcodex.yaml"); got != "/etc/mcodex.yaml" {
		t.Errorf("absolute path changed: %q", got)
	}
}
