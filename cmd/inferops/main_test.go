package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jonwraymond/inferops/engine"
)

const analysisJSON = `{"sentiment":"positive","score":0.8,"summary":"Happy customer.","keywords":["fast"],"topics":["service"],"language":"en"}`

func fakeOpenAI(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1735689600,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": analysisJSON},
			}},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T, srv *httptest.Server) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("INFEROPS_UPSTREAM_BASE_URL", srv.URL+"/")
	t.Setenv("INFEROPS_USAGE_SINK", "none")
	t.Setenv("INFEROPS_OBSERVE_LOG_LEVEL", "error")
}

func run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	var calls atomic.Int64
	setupEnv(t, fakeOpenAI(t, &calls))

	out, err := run(t, nil, "analyze", "Great service", "--context", "reviews")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var res engine.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.CacheHit {
		t.Error("first analyze should miss the cache")
	}
	if res.Payload.Sentiment != "positive" || len(res.Key) != 64 {
		t.Errorf("result = %+v", res)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestAnalyzeCommand_ValidationError(t *testing.T) {
	var calls atomic.Int64
	setupEnv(t, fakeOpenAI(t, &calls))

	if _, err := run(t, nil, "analyze", "   "); err == nil {
		t.Fatal("blank text should fail validation")
	}
	if calls.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0", calls.Load())
	}
}

func TestBatchCommand_DuplicatesHitCache(t *testing.T) {
	var calls atomic.Int64
	setupEnv(t, fakeOpenAI(t, &calls))

	out, err := run(t, strings.NewReader("Great service\n\ngreat   SERVICE\nSlow delivery\n"),
		"batch", "--context", "reviews", "--concurrency", "1")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	var summary engine.BatchSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Total != 3 || summary.CacheHits != 1 || summary.APICalls != 2 {
		t.Errorf("total=%d hits=%d calls=%d, want 3/1/2", summary.Total, summary.CacheHits, summary.APICalls)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}

func TestStatsAndPurgeCommands(t *testing.T) {
	var calls atomic.Int64
	setupEnv(t, fakeOpenAI(t, &calls))

	out, err := run(t, nil, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, `"total_entries": 0`) {
		t.Errorf("stats output = %q", out)
	}

	out, err = run(t, nil, "purge")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if strings.TrimSpace(out) != "purged 0 expired entries" {
		t.Errorf("purge output = %q", out)
	}
}

func TestMissingCredentialsIsFatal(t *testing.T) {
	var calls atomic.Int64
	setupEnv(t, fakeOpenAI(t, &calls))
	os.Unsetenv("OPENAI_API_KEY")

	if _, err := run(t, nil, "stats"); err == nil {
		t.Fatal("missing API key should fail startup")
	}
}

func TestParseOptions(t *testing.T) {
	got := parseOptions(map[string]string{"temperature": "0.2", "language": "en"})
	want := map[string]any{"temperature": 0.2, "language": "en"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseOptions() = %v, want %v", got, want)
	}
	if parseOptions(nil) != nil {
		t.Error("parseOptions(nil) should be nil")
	}
}

func TestReadLines_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.txt")
	if err := os.WriteFile(path, []byte("one\n\n  two  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := readLines(nil, path)
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("readLines() = %v", got)
	}
}
