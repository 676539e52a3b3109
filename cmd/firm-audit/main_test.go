package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/firm-audit/internal/testutil"
)

func completeDetail() map[string]any {
	return map[string]any{
		"name":                "Acme Funding",
		"website_root":        "https://acme.example",
		"payout_frequency":    "Weekly",
		"max_drawdown_rule":   "10%",
		"daily_drawdown_rule": "5%",
		"jurisdiction_tier":   "A",
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestRun_WritesReports(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.AddFirm("a", completeDetail())
	b := completeDetail()
	b["payout_frequency"] = "—"
	b["max_drawdown_rule"] = nil
	mock.AddFirm("b", b)
	mock.AddFirm("c", nil)

	dir := t.TempDir()
	output := filepath.Join(dir, "missing.csv")
	errorsOutput := filepath.Join(dir, "errors.csv")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"--base-url", mock.URL(),
		"--output", output,
		"--errors-output", errorsOutput,
		"--workers", "2",
		"--max-retries", "0",
	}, &stdout, &stderr)

	if code != exitOK {
		t.Fatalf("run() = %d, want %d; stderr:\n%s", code, exitOK, stderr.String())
	}

	missing := readCSV(t, output)
	if len(missing) != 2 {
		t.Fatalf("missing rows = %d, want header + 1", len(missing))
	}
	if missing[1][0] != "b" || missing[1][3] != "payout_frequency,max_drawdown_rule" {
		t.Errorf("unexpected missing row: %v", missing[1])
	}

	errs := readCSV(t, errorsOutput)
	if len(errs) != 2 || errs[1][0] != "c" {
		t.Errorf("unexpected error rows: %v", errs)
	}

	summary := stdout.String()
	for _, want := range []string{
		"[audit] total firms: 3",
		"[audit] missing fields: 1",
		"[audit] errors: 1",
		"[audit] output: " + output,
		"  - c: HTTP Error 404",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestRun_ListingFailure(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.SetListingResponse(testutil.NewServerErrorResponse())

	output := filepath.Join(t.TempDir(), "missing.csv")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"--base-url", mock.URL(),
		"--output", output,
		"--max-retries", "0",
	}, &stdout, &stderr)

	if code != exitFailure {
		t.Errorf("run() = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr.String(), "failed to fetch firms") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("Expected no output file, stat err = %v", err)
	}
}

func TestRun_Interrupted(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		mock.AddFirm(id, nil)
		slow := testutil.NewDetailResponse(completeDetail())
		slow.Delay = 500 * time.Millisecond
		mock.SetDetailSequence(id, slow)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	output := filepath.Join(t.TempDir(), "missing.csv")
	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{
		"--base-url", mock.URL(),
		"--output", output,
		"--workers", "1",
	}, &stdout, &stderr)

	if code != exitInterrupted {
		t.Fatalf("run() = %d, want %d; stderr:\n%s", code, exitInterrupted, stderr.String())
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("Expected partial report at %s: %v", output, err)
	}
	if mock.DetailRequests("e") != 0 {
		t.Error("Expected no dispatch after cancellation")
	}
}

func TestRun_InterruptedWithEveryFirmInFlight(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	for _, id := range []string{"a", "b"} {
		mock.AddFirm(id, nil)
		slow := testutil.NewDetailResponse(completeDetail())
		slow.Delay = 500 * time.Millisecond
		mock.SetDetailSequence(id, slow)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{
		"--base-url", mock.URL(),
		"--output", filepath.Join(t.TempDir(), "missing.csv"),
		"--workers", "2",
	}, &stdout, &stderr)

	if code != exitInterrupted {
		t.Fatalf("run() = %d, want %d; stderr:\n%s", code, exitInterrupted, stderr.String())
	}
	if !strings.Contains(stderr.String(), "interrupted") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--nope"}},
		{"zero workers", []string{"--workers", "0"}},
		{"negative limit", []string{"--limit", "-5"}},
		{"bad base url", []string{"--base-url", "gtixt.com"}},
		{"bad log level", []string{"--log-level", "loud"}},
		{"positional args", []string{"extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr); code != exitUsage {
				t.Errorf("run(%v) = %d, want %d", tt.args, code, exitUsage)
			}
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	if err := os.WriteFile(path, []byte("workers: 4\npage_size: 100\nlimit: 50\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FIRM_AUDIT_WORKERS", "7")
	t.Setenv("FIRM_AUDIT_PAGE_SIZE", "200")

	var stderr bytes.Buffer
	cfg, err := loadConfig([]string{"--config", path, "--page-size", "300"}, &stderr)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Workers != 7 {
		t.Errorf("Workers = %d, want 7 (env over file)", cfg.Workers)
	}
	if cfg.PageSize != 300 {
		t.Errorf("PageSize = %d, want 300 (flag over env)", cfg.PageSize)
	}
	if cfg.Limit != 50 {
		t.Errorf("Limit = %d, want 50 (file over default)", cfg.Limit)
	}
	if cfg.BaseURL != "https://gtixt.com" {
		t.Errorf("BaseURL = %q, want default", cfg.BaseURL)
	}
}

func TestRun_MetricsAndUnreachableRedis(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()
	mock.AddFirm("a", completeDetail())

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"--base-url", mock.URL(),
		"--output", filepath.Join(t.TempDir(), "missing.csv"),
		"--metrics-addr", "127.0.0.1:0",
		"--redis-url", "127.0.0.1:1",
	}, &stdout, &stderr)

	if code != exitOK {
		t.Fatalf("run() = %d, want %d; stderr:\n%s", code, exitOK, stderr.String())
	}
	if !strings.Contains(stderr.String(), "Redis unavailable") {
		t.Errorf("Expected Redis fallback warning in logs:\n%s", stderr.String())
	}
}
