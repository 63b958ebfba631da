package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSendsPistonRequest(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"language":"python","version":"3.10.0","run":{"stdout":"hi\n","stderr":"","code":0,"signal":null,"output":"hi\n"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	req := NewRequest(DefaultRuntimes().Resolve(room.LanguagePython), "print('hi')", DefaultLimits())

	resp, err := c.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "hi\n", resp.Run.Stdout)
	require.NotNil(t, resp.Run.Code)
	assert.Equal(t, 0, *resp.Run.Code)
	assert.Nil(t, resp.Run.Signal)

	assert.Equal(t, "python", got.Language)
	assert.Equal(t, "3.10.0", got.Version)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "print('hi')", got.Files[0].Content)
	assert.Equal(t, "", got.Stdin)
	assert.Equal(t, []string{}, got.Args)
	assert.Equal(t, 10000, got.CompileTimeout)
	assert.Equal(t, 3000, got.RunTimeout)
}

func TestExecuteUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		timeout time.Duration
		delay   time.Duration
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"message":"slow down"}`},
		{name: "malformed body", status: http.StatusOK, body: `{"run":`},
		{name: "missing run", status: http.StatusOK, body: `{"language":"python"}`},
		{name: "compiled without run", status: http.StatusOK, body: `{"compile":{"stdout":"","stderr":"","code":0,"signal":null,"output":""}}`},
		{name: "timeout", status: http.StatusOK, body: `{"run":{}}`, timeout: 20 * time.Millisecond, delay: 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.delay > 0 {
					select {
					case <-time.After(tt.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			c := NewClient(server.URL)
			_, err := c.Execute(ctx, NewRequest(DefaultRuntimes().Resolve(room.LanguagePython), "x", DefaultLimits()))
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestExecuteConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url)
	_, err := c.Execute(context.Background(), NewRequest(DefaultRuntimes().Resolve(room.LanguageJava), "x", DefaultLimits()))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRequestLimits(t *testing.T) {
	assert.Equal(t, DefaultURL, NewClient("").url)

	req := NewRequest(DefaultRuntimes().Resolve(room.LanguageCPP), "int main(){}", Limits{Compile: 5 * time.Second, Run: time.Second})
	assert.Equal(t, 5000, req.CompileTimeout)
	assert.Equal(t, 1000, req.RunTimeout)
	assert.Equal(t, "c++", req.Language)
	assert.Equal(t, "main.cpp", req.Files[0].Name)
}

func TestErrorText(t *testing.T) {
	one := 1
	zero := 0

	tests := []struct {
		name     string
		resp     Response
		expected string
	}{
		{"clean run", Response{Run: &Stage{Stdout: "ok"}}, ""},
		{"run stderr", Response{Run: &Stage{Stderr: "SyntaxError"}}, "SyntaxError"},
		{"failed compile", Response{Compile: &Stage{Stderr: "error: expected ';'", Code: &one}}, "error: expected ';'"},
		{"compile warning", Response{Compile: &Stage{Stderr: "warning", Code: &zero}, Run: &Stage{Stdout: "ok"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.resp.ErrorText())
		})
	}
}

func TestUsable(t *testing.T) {
	one := 1
	zero := 0

	assert.True(t, (&Response{Run: &Stage{}}).Usable())
	assert.True(t, (&Response{Compile: &Stage{Code: &one}}).Usable())
	assert.False(t, (&Response{Compile: &Stage{Code: &zero}}).Usable())
	assert.False(t, (&Response{}).Usable())
}

func TestCompileOnlyResponseIsUsable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"compile":{"stdout":"","stderr":"main.cpp:1: error","code":1,"signal":null,"output":"main.cpp:1: error"}}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Execute(context.Background(), NewRequest(DefaultRuntimes().Resolve(room.LanguageCPP), "x", DefaultLimits()))
	require.NoError(t, err)
	assert.Equal(t, "main.cpp:1: error", resp.ErrorText())
	assert.Equal(t, "", resp.Stdout())
}

func TestResolve(t *testing.T) {
	rs := DefaultRuntimes()

	tests := []struct {
		lang     room.Language
		expected string
	}{
		{room.LanguagePython, "python"},
		{room.LanguageJavaScript, "javascript"},
		{room.LanguageJava, "java"},
		{room.LanguageCPP, "c++"},
		{room.Language("Haskell"), "python"},
	}

	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			assert.Equal(t, tt.expected, rs.Resolve(tt.lang).Language)
		})
	}
}

func TestLoadRuntimes(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty path keeps defaults", func(t *testing.T) {
		rs, err := LoadRuntimes("")
		require.NoError(t, err)
		assert.Equal(t, DefaultRuntimes(), rs)
	})

	t.Run("override", func(t *testing.T) {
		path := filepath.Join(dir, "runtimes.yaml")
		require.NoError(t, os.WriteFile(path, []byte("runtimes:\n  Python:\n    language: python\n    version: 3.12.0\n"), 0o644))

		rs, err := LoadRuntimes(path)
		require.NoError(t, err)
		assert.Equal(t, "3.12.0", rs[room.LanguagePython].Version)
		assert.Equal(t, "main.py", rs[room.LanguagePython].FileName)
		assert.Equal(t, "18.15.0", rs[room.LanguageJavaScript].Version)
	})

	t.Run("unknown language", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("runtimes:\n  Rust:\n    language: rust\n    version: 1.68.2\n"), 0o644))

		_, err := LoadRuntimes(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRuntimes(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
