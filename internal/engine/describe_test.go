package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestKnownEngine(t *testing.T) {
	for _, name := range Names {
		if !KnownEngine(name) {
			t.Fatalf("%s should be known", name)
		}
	}
	if KnownEngine("warpdrive") {
		t.Fatal("unexpected engine accepted")
	}
}

func TestDescribeUnwrapsEnvelope(t *testing.T) {
	bin := writeStub(t, `echo '{"status":"success","result":{"operations":["propagate"]}}'`)

	doc, err := Describe(context.Background(), bin, "orbital")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if string(doc) != `{"operations":["propagate"]}` {
		t.Fatalf("expected unwrapped result, got %s", doc)
	}
}

func TestDescribeBareObjectPassedThrough(t *testing.T) {
	bin := writeStub(t, `echo '{"operations":[]}'`)

	doc, err := Describe(context.Background(), bin, "launch")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if string(doc) != `{"operations":[]}` {
		t.Fatalf("expected the whole object, got %s", doc)
	}
}

func TestDescribeNonZeroExit(t *testing.T) {
	bin := writeStub(t, `echo "unknown engine" >&2; exit 2`)

	_, err := Describe(context.Background(), bin, "orbital")
	var de *DescribeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DescribeError, got %v", err)
	}
	if de.Stderr != "unknown engine" {
		t.Fatalf("expected captured stderr, got %q", de.Stderr)
	}
}

func TestDescribeNonJSONOutput(t *testing.T) {
	bin := writeStub(t, `echo "plain text"`)

	_, err := Describe(context.Background(), bin, "orbital")
	var de *DescribeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DescribeError, got %v", err)
	}
}

func TestDescribeMissingBinary(t *testing.T) {
	_, err := Describe(context.Background(), "/no/such/engine", "orbital")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
