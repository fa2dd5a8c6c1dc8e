// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cgi

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightcodelabs/stevedore/config"
	"github.com/lightcodelabs/stevedore/httpserver"
)

func testServer() *config.ServerConfig {
	return &config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        8080,
		ServerNames: []string{"cgi.test"},
	}
}

func cgiLocation() *config.LocationConfig {
	return &config.LocationConfig{
		Path: "/cgi", Root: "./www", CGIExtensions: []string{".sh"},
	}
}

func parsedRequest(t *testing.T, raw string) *httpserver.Request {
	t.Helper()
	req := httpserver.NewRequest(0)
	req.Feed([]byte(raw))
	require.True(t, req.Complete())
	return req
}

// writeScript drops an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestHandleEchoScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	script := writeScript(t, t.TempDir(), "env.sh", `
printf 'Content-Type: text/plain\r\n\r\n'
printf '%s' "$QUERY_STRING"
`)
	ex := New(nil)
	req := parsedRequest(t, "GET /cgi/env.sh?x=1 HTTP/1.1\r\nHost: cgi.test\r\n\r\n")

	resp := ex.Handle(req, testServer(), cgiLocation(), script)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/plain", resp.Header("Content-Type"))
	assert.Equal(t, "x=1", string(resp.Body()))
}

func TestHandleScriptReadsBody(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	script := writeScript(t, t.TempDir(), "echo.sh", `
printf 'Content-Type: text/plain\r\n\r\n'
cat
`)
	ex := New(nil)
	req := parsedRequest(t, "POST /cgi/echo.sh HTTP/1.1\r\nHost: h\r\nContent-Length: 11\r\n\r\nHello World")

	resp := ex.Handle(req, testServer(), cgiLocation(), script)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "Hello World", string(resp.Body()))
}

func TestHandleMissingScript(t *testing.T) {
	ex := New(nil)
	req := parsedRequest(t, "GET /cgi/ghost.sh HTTP/1.1\r\nHost: h\r\n\r\n")
	resp := ex.Handle(req, testServer(), cgiLocation(), filepath.Join(t.TempDir(), "ghost.sh"))
	assert.Equal(t, 404, resp.Status)
}

func TestHandleNonExecutableScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))

	ex := New(nil)
	req := parsedRequest(t, "GET /cgi/plain.sh HTTP/1.1\r\nHost: h\r\n\r\n")
	resp := ex.Handle(req, testServer(), cgiLocation(), path)
	assert.Equal(t, 403, resp.Status)
}

func TestHandleScriptNoOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	script := writeScript(t, t.TempDir(), "fail.sh", "exit 3\n")
	ex := New(nil)
	req := parsedRequest(t, "GET /cgi/fail.sh HTTP/1.1\r\nHost: h\r\n\r\n")

	resp := ex.Handle(req, testServer(), cgiLocation(), script)
	assert.Equal(t, 500, resp.Status)
	assert.Contains(t, string(resp.Body()), "CGI execution failed")
}

func TestHandleTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	script := writeScript(t, t.TempDir(), "slow.sh", "sleep 5\n")
	ex := New(nil)
	ex.Timeout = 100 * time.Millisecond
	req := parsedRequest(t, "GET /cgi/slow.sh HTTP/1.1\r\nHost: h\r\n\r\n")

	start := time.Now()
	resp := ex.Handle(req, testServer(), cgiLocation(), script)
	assert.Equal(t, 504, resp.Status)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestBuildEnv(t *testing.T) {
	req := parsedRequest(t, "POST /cgi/run.sh?a=b&c=d HTTP/1.1\r\nHost: cgi.test\r\nContent-Type: text/plain\r\nX-Custom-Token: secret\r\nContent-Length: 4\r\n\r\nbody")
	env := buildEnv(req, testServer(), "/abs/www/cgi/run.sh")

	expect := map[string]bool{
		"REQUEST_METHOD=POST":               true,
		"PATH_INFO=/cgi/run.sh":             true,
		"QUERY_STRING=a=b&c=d":              true,
		"CONTENT_TYPE=text/plain":           true,
		"CONTENT_LENGTH=4":                  true,
		"SCRIPT_NAME=/cgi/run.sh":           true,
		"SCRIPT_FILENAME=/abs/www/cgi/run.sh": true,
		"SERVER_NAME=cgi.test":              true,
		"SERVER_PORT=8080":                  true,
		"SERVER_PROTOCOL=HTTP/1.1":          true,
		"GATEWAY_INTERFACE=CGI/1.1":         true,
		"REDIRECT_STATUS=200":               true,
		"HTTP_X_CUSTOM_TOKEN=secret":        true,
		"HTTP_HOST=cgi.test":                true,
	}
	for _, kv := range env {
		delete(expect, kv)
	}
	assert.Empty(t, expect, "missing env entries")
}

func TestHeaderToEnv(t *testing.T) {
	assert.Equal(t, "X_CUSTOM_TOKEN", headerToEnv("X-Custom-Token"))
	assert.Equal(t, "ACCEPT", headerToEnv("accept"))
	assert.Equal(t, "CONTENT_TYPE", headerToEnv("Content-Type"))
}

func TestInterpreterSelection(t *testing.T) {
	ex := New(nil)

	configured := &config.LocationConfig{CGIPath: "/opt/bin/custom"}
	assert.Equal(t, "/opt/bin/custom", ex.interpreter(".py", configured))

	byExt := &config.LocationConfig{}
	assert.Equal(t, "php-cgi", ex.interpreter(".php", byExt))
	assert.Equal(t, "python3", ex.interpreter(".py", byExt))
	assert.Equal(t, "perl", ex.interpreter(".pl", byExt))
	assert.Equal(t, "", ex.interpreter(".sh", byExt))
}

func TestParseOutputHeadersAndBody(t *testing.T) {
	resp := parseOutput([]byte("Content-Type: text/plain\r\nX-Generator: script\r\n\r\npayload"))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/plain", resp.Header("Content-Type"))
	assert.Equal(t, "script", resp.Header("X-Generator"))
	assert.Equal(t, "payload", string(resp.Body()))
}

func TestParseOutputBareNewlines(t *testing.T) {
	resp := parseOutput([]byte("Content-Type: text/plain\n\nline1\nline2\n"))
	assert.Equal(t, "text/plain", resp.Header("Content-Type"))
	assert.Equal(t, "line1\nline2\n", string(resp.Body()))
}

func TestParseOutputStatusHeader(t *testing.T) {
	resp := parseOutput([]byte("Status: 302 Found\r\nLocation: /elsewhere\r\n\r\n"))
	assert.Equal(t, 302, resp.Status)
	assert.Equal(t, "/elsewhere", resp.Header("Location"))
	assert.Empty(t, resp.Header("Status"))
	assert.Empty(t, resp.Body())
}

func TestParseOutputNoHeaderBlock(t *testing.T) {
	resp := parseOutput([]byte("<h1>raw html with no headers</h1>"))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/html", resp.Header("Content-Type"))
	assert.Equal(t, "<h1>raw html with no headers</h1>", string(resp.Body()))
}
