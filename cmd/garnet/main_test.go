package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/garnet/vm"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--color", "off"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildExample(t *testing.T) {
	var out bytes.Buffer
	cfg := vm.DefaultConfig()
	cfg.Stdout = &out
	v := vm.NewVMWithConfig(cfg)

	iseq, err := buildExample(v)
	if err != nil {
		t.Fatalf("buildExample: %v", err)
	}
	if _, err := v.Run(context.Background(), iseq); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := out.String(), "(4, 2)\n6\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestExampleAndRun(t *testing.T) {
	dir := t.TempDir()
	prog := filepath.Join(dir, "example.gbc")

	if _, err := execute(t, "example", prog); err != nil {
		t.Fatalf("example: %v", err)
	}
	out, err := execute(t, "-C", dir, "run", prog)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(4, 2)\n6\n") {
		t.Errorf("run output = %q", out)
	}

	out, err = execute(t, "disasm", prog)
	if err != nil {
		t.Fatalf("disasm: %v", err)
	}
	for _, want := range []string{"== <main> (top)", "== <class:Point> (class)", "definemethod"} {
		if !strings.Contains(out, want) {
			t.Errorf("disasm output lacks %q", want)
		}
	}
}

func TestRunWithTraceAndStats(t *testing.T) {
	dir := t.TempDir()
	prog := filepath.Join(dir, "main.gbc")
	if _, err := execute(t, "example", prog); err != nil {
		t.Fatalf("example: %v", err)
	}
	manifest := `[project]
name = "traced"

[source]
entry = "main.gbc"

[trace]
enabled = true
database = "trace.db"
`
	if err := os.WriteFile(filepath.Join(dir, "garnet.toml"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	// The entry program comes from garnet.toml.
	out, err := execute(t, "-C", dir, "run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(dir, "trace.db")); err != nil {
		t.Fatalf("trace database not written: %v", err)
	}

	out, err = execute(t, "-C", dir, "stats", "--top", "50")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"Point#initialize", "Point#to_s", "Array#each"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output lacks %q:\n%s", want, out)
		}
	}
}

func TestRunWithoutProgram(t *testing.T) {
	if _, err := execute(t, "-C", t.TempDir(), "run"); err == nil {
		t.Error("expected an error with no program and no manifest")
	}
}
