package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/unpaywall-client/internal/domain"
)

const (
	natureDOI   = "10.1038/nature12373"
	closedDOI   = "10.1/closed"
	rejectedDOI = "10.1/rejected"
	emptyDOI    = "a bad doi"
	samplePDF   = "%PDF-1.4 nanometre-scale thermometry"
)

// newStub serves canned Unpaywall answers and a PDF.
func newStub(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + natureDOI:
			fmt.Fprintf(w, `{"doi": %q, "title": "Nanometre-scale thermometry in a living cell", "is_oa": true,
				"best_oa_location": {"url": "%s/landing", "url_for_pdf": "%s/nature12373.pdf"},
				"oa_locations": [{"url_for_pdf": "%s/nature12373.pdf"}]}`, natureDOI, srv.URL, srv.URL, srv.URL)
		case "/" + closedDOI:
			fmt.Fprintf(w, `{"doi": %q, "is_oa": false, "best_oa_location": null}`, closedDOI)
		case "/" + emptyDOI:
		case "/nature12373.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte(samplePDF))
		case "/search":
			fmt.Fprintf(w, `{"results": [{"response": {"doi": "10.1/g", "title": "graphene"}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error": true, "message": "invalid doi"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testEnv points the configuration at stub and returns the working directory.
func testEnv(t *testing.T, stub *httptest.Server) string {
	t.Helper()
	dir := t.TempDir()
	for _, env := range os.Environ() {
		key, _, _ := strings.Cut(env, "=")
		if strings.HasPrefix(key, "UNPAYWALL_") || key == "MANDATORY_WAIT_TIME" {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	t.Setenv("UNPAYWALL_EMAIL", "nick.haupka@gmail.de")
	t.Setenv("UNPAYWALL_API_BASE_URL", stub.URL)
	t.Setenv("UNPAYWALL_API_MAX_RETRIES", "0")
	t.Setenv("MANDATORY_WAIT_TIME", "0")
	t.Setenv("UNPAYWALL_CACHE_PATH", filepath.Join(dir, "unpaywall_cache"))
	t.Setenv("UNPAYWALL_PDF_ALLOW_PRIVATE_NETWORKS", "true")
	t.Setenv("UNPAYWALL_LOGGING_FORMAT", "json")
	return dir
}

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, app *App, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app.Stdout, app.Stderr = &stdout, &stderr
	code := app.Run(context.Background(), args)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestUsageErrors(t *testing.T) {
	testEnv(t, newStub(t))

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"pdf_link"}},
		{"missing doi", []string{"link"}},
		{"too many arguments", []string{"link", "10.1/a", "10.1/b"}},
		{"unknown flag", []string{"link", "--bogus", natureDOI}},
		{"bad error mode", []string{"--errors", "quiet", "link", natureDOI}},
		{"bad backend", []string{"--backend", "s3", "link", natureDOI}},
		{"snapshot without path", []string{"--backend", "snapshot", "link", natureDOI}},
		{"bad view mode", []string{"view", "-m", "pager", natureDOI}},
		{"bad output", []string{"records", "-o", "xml", natureDOI}},
		{"bad format", []string{"records", "--format", "wide", natureDOI}},
		{"no dois", []string{"records"}},
		{"bad is-oa", []string{"query", "--is-oa", "maybe", "graphene"}},
		{"no migrate command", []string{"migrate"}},
		{"migrate steps not a number", []string{"migrate", "steps", "two"}},
		{"migrate steps zero", []string{"migrate", "steps", "0"}},
		{"migrate force negative", []string{"migrate", "force", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, &App{}, tt.args...)
			assert.Equal(t, ExitUsage, res.code, res.stderr)
			assert.Contains(t, res.stderr, "error:")
		})
	}
}

func TestHelp(t *testing.T) {
	res := run(t, &App{}, "--help")
	assert.Equal(t, ExitOK, res.code)
	assert.Contains(t, res.stdout, "unpaywall")
	assert.Contains(t, res.stdout, "download")
}

func TestLink(t *testing.T) {
	stub := newStub(t)
	testEnv(t, stub)

	res := run(t, &App{}, "link", natureDOI)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, stub.URL+"/nature12373.pdf\n", res.stdout)

	res = run(t, &App{}, "link", closedDOI)
	assert.Equal(t, ExitOK, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "No PDF link found")

	res = run(t, &App{}, "link", rejectedDOI)
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "invalid doi")

	res = run(t, &App{}, "--errors", "ignore", "link", rejectedDOI)
	assert.Equal(t, ExitOK, res.code)
	assert.Contains(t, res.stderr, `"level":"warn"`)
}

func TestLinks(t *testing.T) {
	stub := newStub(t)
	testEnv(t, stub)

	res := run(t, &App{}, "links", natureDOI)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, stub.URL+"/landing\n"+stub.URL+"/nature12373.pdf\n", res.stdout)
}

func TestDownload(t *testing.T) {
	stub := newStub(t)
	dir := testEnv(t, stub)

	t.Run("success", func(t *testing.T) {
		target := filepath.Join(dir, "papers")
		res := run(t, &App{}, "download", natureDOI, "-p", target, "-f", "thermometry.pdf", "--progress")
		require.Equal(t, ExitOK, res.code, res.stderr)
		assert.Equal(t, DownloadOKMessage+"\n", res.stdout)

		content, err := os.ReadFile(filepath.Join(target, "thermometry.pdf"))
		require.NoError(t, err)
		assert.Equal(t, samplePDF, string(content))
	})

	t.Run("default file name", func(t *testing.T) {
		res := run(t, &App{}, "download", natureDOI, "-p", dir)
		require.Equal(t, ExitOK, res.code, res.stderr)
		_, err := os.Stat(filepath.Join(dir, "10.1038_nature12373.pdf"))
		assert.NoError(t, err)
	})

	t.Run("failure", func(t *testing.T) {
		res := run(t, &App{}, "download", closedDOI, "-p", dir)
		assert.Equal(t, ExitOK, res.code)
		assert.Equal(t, DownloadFailedMessage+"\n", res.stdout)
		assert.NotContains(t, res.stderr, "error:")
		_, err := os.Stat(filepath.Join(dir, "10.1_closed.pdf"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestView(t *testing.T) {
	stub := newStub(t)
	testEnv(t, stub)

	t.Run("browser", func(t *testing.T) {
		var opened string
		app := &App{OpenURL: func(u string) error { opened = u; return nil }}
		res := run(t, app, "view", "-m", "browser", natureDOI)
		require.Equal(t, ExitOK, res.code, res.stderr)
		assert.Equal(t, stub.URL+"/nature12373.pdf", opened)
	})

	t.Run("viewer", func(t *testing.T) {
		var content []byte
		app := &App{OpenFile: func(p string) error {
			var err error
			content, err = os.ReadFile(p)
			return err
		}}
		res := run(t, app, "view", natureDOI)
		require.Equal(t, ExitOK, res.code, res.stderr)
		assert.Equal(t, samplePDF, string(content))
	})

	t.Run("no link", func(t *testing.T) {
		app := &App{OpenURL: func(string) error { t.Fatal("opened a browser"); return nil }}
		res := run(t, app, "view", "-m", "browser", closedDOI)
		assert.Equal(t, ExitFailure, res.code)
	})

	t.Run("opener fails", func(t *testing.T) {
		app := &App{OpenURL: func(string) error { return errors.New("no display") }}
		res := run(t, app, "view", "-m", "browser", natureDOI)
		assert.Equal(t, ExitFailure, res.code)
		assert.Contains(t, res.stderr, "no display")
	})
}

func TestRecords(t *testing.T) {
	stub := newStub(t)
	dir := testEnv(t, stub)

	t.Run("csv", func(t *testing.T) {
		res := run(t, &App{}, "records", natureDOI, closedDOI)
		require.Equal(t, ExitOK, res.code, res.stderr)
		lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[1], natureDOI)
		assert.Contains(t, lines[2], closedDOI)
		assert.Contains(t, lines[0], "doi")
	})

	t.Run("extended json", func(t *testing.T) {
		res := run(t, &App{}, "records", "--format", "extended", "-o", "json", natureDOI)
		require.Equal(t, ExitOK, res.code, res.stderr)
		assert.Contains(t, res.stdout, `"oa_locations.url_for_pdf": "`+stub.URL+`/nature12373.pdf"`)
	})

	t.Run("input file and out file", func(t *testing.T) {
		input := filepath.Join(dir, "dois.txt")
		require.NoError(t, os.WriteFile(input, []byte(natureDOI+"\n\n"+closedDOI+"\n"), 0o600))
		out := filepath.Join(dir, "out", "records.csv")

		res := run(t, &App{}, "records", "-i", input, "--out", out, "--progress")
		require.Equal(t, ExitOK, res.code, res.stderr)
		assert.Empty(t, res.stdout)

		content, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(string(content)), "\n"), 3)
	})

	t.Run("stdin", func(t *testing.T) {
		app := &App{Stdin: strings.NewReader(natureDOI + "\n")}
		res := run(t, app, "records", "-i", "-")
		require.Equal(t, ExitOK, res.code, res.stderr)
		assert.Contains(t, res.stdout, natureDOI)
	})

	t.Run("missing record ignored", func(t *testing.T) {
		res := run(t, &App{}, "--errors", "ignore", "records", emptyDOI)
		require.Equal(t, ExitOK, res.code, res.stderr)
		assert.Empty(t, res.stdout)
		assert.Contains(t, res.stderr, "No records found.")
		assert.Equal(t, 1, strings.Count(res.stderr, `"level":"warn"`))
	})

	t.Run("missing record raised", func(t *testing.T) {
		res := run(t, &App{}, "records", emptyDOI)
		assert.Equal(t, ExitFailure, res.code)
	})
}

func TestQuery(t *testing.T) {
	testEnv(t, newStub(t))

	res := run(t, &App{}, "query", "--is-oa", "true", "graphene")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "doi,title\n10.1/g,graphene\n", res.stdout)
}

func TestCacheCommands(t *testing.T) {
	testEnv(t, newStub(t))

	res := run(t, &App{}, "records", natureDOI, closedDOI)
	require.Equal(t, ExitOK, res.code, res.stderr)

	res = run(t, &App{}, "cache", "list")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, natureDOI)
	assert.Contains(t, res.stdout, closedDOI)

	res = run(t, &App{}, "cache", "delete", natureDOI)
	require.Equal(t, ExitOK, res.code, res.stderr)
	res = run(t, &App{}, "cache", "list")
	assert.NotContains(t, res.stdout, natureDOI)
	assert.Contains(t, res.stdout, closedDOI)

	res = run(t, &App{}, "cache", "prune")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "Removed 0 expired entries.\n", res.stdout)

	res = run(t, &App{}, "cache", "reset")
	require.Equal(t, ExitOK, res.code, res.stderr)
	res = run(t, &App{}, "cache", "list")
	assert.NotContains(t, res.stdout, closedDOI)

	res = run(t, &App{}, "--backend", "remote", "cache", "list")
	assert.Equal(t, ExitUsage, res.code)

	res = run(t, &App{}, "cache")
	assert.Equal(t, ExitUsage, res.code)
}

func TestMetricsTextfile(t *testing.T) {
	dir := testEnv(t, newStub(t))
	path := filepath.Join(dir, "unpaywall.prom")
	t.Setenv("UNPAYWALL_METRICS_TEXTFILE", path)

	res := run(t, &App{}, "records", natureDOI)
	require.Equal(t, ExitOK, res.code, res.stderr)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "unpaywall_lookup_records_processed_total 1")
}

func TestServe(t *testing.T) {
	testEnv(t, newStub(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	t.Setenv("UNPAYWALL_SERVER_HOST", "127.0.0.1")
	t.Setenv("UNPAYWALL_SERVER_PORT", fmt.Sprint(port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		wg   sync.WaitGroup
		code int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		code = (&App{}).Run(ctx, []string{"serve"})
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/links/" + natureDOI)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	wg.Wait()
	assert.Equal(t, ExitOK, code)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, ExitUsage, exitCode(usagef("bad")))
	assert.Equal(t, ExitUsage, exitCode(fmt.Errorf("wrapped: %w", domain.ErrInvalidInput)))
	assert.Equal(t, ExitUsage, exitCode(errors.Join(usagef("bad"), nil)))
	assert.Equal(t, ExitFailure, exitCode(domain.NewValidationError(domain.ErrInvalidCredential, "email", "missing")))
	assert.Equal(t, ExitFailure, exitCode(errors.New("boom")))
}
