package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("Unexpected error writing script: %v", err)
	}
	return path
}

func TestExecAnalyzerParsesReport(t *testing.T) {
	script := writeScript(t, `echo '{"summary":{"totalGrowthMB":12.5,"suspiciousGrowth":true,"confidence":0.8},"recommendations":["restart svc-a"]}'`)
	analyzer := NewExecAnalyzer(script)

	report, err := analyzer.Analyze(context.Background(), "/tmp/before", "/tmp/after", 1024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Summary.TotalGrowthMB != 12.5 || !report.Summary.SuspiciousGrowth {
		t.Fatalf("Unexpected summary: %+v", report.Summary)
	}
	if len(report.Recommendations) != 1 || report.Recommendations[0] != "restart svc-a" {
		t.Fatalf("Unexpected recommendations: %+v", report.Recommendations)
	}
}

func TestExecAnalyzerPassesArguments(t *testing.T) {
	// The script echoes its arguments back inside the report.
	script := writeScript(t, `printf '{"summary":{},"recommendations":["%s","%s","%s"]}' "$1" "$2" "$3"`)
	analyzer := NewExecAnalyzer(script)

	report, err := analyzer.Analyze(context.Background(), "/tmp/b.heapsnapshot", "/tmp/a.heapsnapshot", 2048)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := []string{"/tmp/b.heapsnapshot", "/tmp/a.heapsnapshot", "2048"}
	for i, arg := range expected {
		if report.Recommendations[i] != arg {
			t.Fatalf("Expected args %v, got %v", expected, report.Recommendations)
		}
	}
}

func TestExecAnalyzerSurfacesStderr(t *testing.T) {
	script := writeScript(t, "echo 'out of memory' >&2\nexit 3")
	analyzer := NewExecAnalyzer(script)

	_, err := analyzer.Analyze(context.Background(), "/tmp/b", "/tmp/a", 0)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("Expected stderr in the error, got %q", err)
	}
}

func TestExecAnalyzerRejectsGarbageOutput(t *testing.T) {
	script := writeScript(t, "echo 'this is not json'")
	analyzer := NewExecAnalyzer(script)

	_, err := analyzer.Analyze(context.Background(), "/tmp/b", "/tmp/a", 0)
	if err == nil {
		t.Fatal("Expected an error for unreadable output")
	}
	if !strings.Contains(err.Error(), "unreadable report") {
		t.Fatalf("Unexpected error: %q", err)
	}
}

func TestNewExecAnalyzerEmptyCommand(t *testing.T) {
	if analyzer := NewExecAnalyzer(""); analyzer != nil {
		t.Fatal("Empty command should yield nil")
	}
	if analyzer := NewExecAnalyzer("   "); analyzer != nil {
		t.Fatal("Blank command should yield nil")
	}
}
