package synth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestNewExternalToolRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExternalTool(nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExternalToolSynthesizeAndLower(t *testing.T) {
	script := writeScript(t, `printf '<algo collective="%s" nranks="%s"/>' "$1" "$2"`)

	tool, err := NewExternalTool([]string{script})
	if err != nil {
		t.Fatalf("NewExternalTool failed: %v", err)
	}

	algo, err := tool.Synthesize(context.Background(), 8, "Alltoall")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	content, err := tool.Lower(context.Background(), algo)
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	if string(content) != `<algo collective="Alltoall" nranks="8"/>` {
		t.Errorf("content = %s", content)
	}
}

func TestExternalToolReportsStderr(t *testing.T) {
	script := writeScript(t, `echo "no solution found" >&2; exit 3`)

	tool, err := NewExternalTool([]string{script})
	if err != nil {
		t.Fatalf("NewExternalTool failed: %v", err)
	}

	_, err = tool.Synthesize(context.Background(), 8, "Alltoall")
	if err == nil {
		t.Fatal("expected solver failure")
	}
	if !strings.Contains(err.Error(), "no solution found") {
		t.Errorf("error %v does not carry solver stderr", err)
	}
}

func TestExternalToolLowerRejectsForeignAlgorithm(t *testing.T) {
	tool, err := NewExternalTool([]string{"true"})
	if err != nil {
		t.Fatalf("NewExternalTool failed: %v", err)
	}
	if _, err := tool.Lower(context.Background(), 42); err == nil {
		t.Fatal("expected error for non-byte algorithm")
	}
}
