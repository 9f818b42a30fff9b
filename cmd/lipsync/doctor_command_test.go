package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"lipsync/internal/preflight"
)

func TestDoctorReportsMissingSidecar(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err == nil {
		t.Fatal("expected doctor to fail without a sidecar url")
	}
	requireContains(t, err.Error(), "1 required checks failed: Sidecar")
	requireContains(t, out, "== lipsync doctor ==")
	requireContains(t, out, "[OK]")
	requireContains(t, out, "[ERROR] missing url")
}

func TestDoctorJSONWithSidecar(t *testing.T) {
	env := setupCLITestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	env.writeConfig(t, fmt.Sprintf("\n[sidecar]\nurl = %q\n", url))

	out, _, err := runCLI(t, []string{"doctor", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor --json: %v\n%s", err, out)
	}
	var report struct {
		Ready  bool               `json:"ready"`
		Checks []preflight.Result `json:"checks"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if !report.Ready {
		t.Fatalf("expected ready report: %+v", report.Checks)
	}
	if len(report.Checks) == 0 {
		t.Fatal("expected checks in report")
	}
}

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("FFmpeg", statusError, "binary \"ffmpeg\" not found", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "FFmpeg:", "[ERROR] binary \"ffmpeg\" not found")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Sidecar", statusOK, "reachable", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		result preflight.Result
		want   statusKind
	}{
		{preflight.Result{Passed: true}, statusOK},
		{preflight.Result{Optional: true}, statusWarn},
		{preflight.Result{}, statusError},
	}
	for _, tt := range tests {
		if got := checkStatus(tt.result); got != tt.want {
			t.Errorf("checkStatus(%+v) = %v, want %v", tt.result, got, tt.want)
		}
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestRenderTableFooter(t *testing.T) {
	out := renderTable(
		[]string{"Run", "Size"},
		[][]string{{"a", "1 KiB"}, {"b"}},
		[]columnAlignment{alignLeft, alignRight},
		[]string{"2 runs", "1 KiB"},
	)
	for _, want := range []string{"RUN", "SIZE", "2 RUNS"} {
		requireContains(t, out, want)
	}
	if renderTable(nil, nil, nil, nil) != "" {
		t.Fatal("expected empty table without headers")
	}
}
