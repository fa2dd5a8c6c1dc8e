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

// Package cgi executes CGI/1.1 scripts: it spawns the interpreter with
// the request body on stdin, collects stdout, and splices the script's
// response headers into an HTTP response.
package cgi

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lightcodelabs/stevedore/config"
	"github.com/lightcodelabs/stevedore/httpserver"
	"github.com/lightcodelabs/stevedore/internal/metrics"
)

// DefaultTimeout bounds a script's runtime. On expiry the child is
// killed and the client receives 504.
const DefaultTimeout = 30 * time.Second

// Executor runs CGI scripts synchronously within the reactor tick,
// which is why the timeout is not optional.
type Executor struct {
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration

	logger *zap.Logger
}

// New returns an Executor. logger may be nil.
func New(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger}
}

// Handle satisfies httpserver.CGIHandler.
func (ex *Executor) Handle(req *httpserver.Request, srv *config.ServerConfig, loc *config.LocationConfig, scriptPath string) *httpserver.Response {
	info, err := os.Stat(scriptPath)
	if err != nil {
		ex.logger.Debug("cgi script not found", zap.String("script", scriptPath))
		return httpserver.ErrorResponse(srv, 404)
	}
	if info.Mode()&0o100 == 0 {
		ex.logger.Debug("cgi script not executable", zap.String("script", scriptPath))
		return httpserver.ErrorResponse(srv, 403)
	}

	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return httpserver.ErrorResponse(srv, 500)
	}
	workDir := filepath.Dir(absPath)
	interpreter := ex.interpreter(filepath.Ext(absPath), loc)
	env := buildEnv(req, srv, absPath)

	timeout := ex.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch {
	case interpreter == "":
		// no interpreter: the script runs directly
		cmd = exec.CommandContext(ctx, absPath)
	case strings.Contains(interpreter, "php"):
		// php-cgi locates the script through SCRIPT_FILENAME
		cmd = exec.CommandContext(ctx, interpreter)
	default:
		cmd = exec.CommandContext(ctx, interpreter, absPath)
	}
	cmd.Dir = workDir
	cmd.Env = env
	// a killed script's own children may still hold stdout open; stop
	// waiting for them shortly after the kill
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(req.Body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		ex.logger.Error("cgi script timed out",
			zap.String("script", absPath), zap.Duration("timeout", timeout))
		metrics.CGIExecutions.WithLabelValues("timeout").Inc()
		return httpserver.ErrorResponse(srv, 504)
	}

	if stderr.Len() > 0 {
		ex.logger.Debug("cgi stderr",
			zap.String("script", absPath), zap.String("stderr", stderr.String()))
	}

	if stdout.Len() == 0 {
		ex.logger.Error("cgi execution failed",
			zap.String("script", absPath), zap.Error(runErr))
		metrics.CGIExecutions.WithLabelValues("error").Inc()
		resp := httpserver.NewResponse()
		resp.Status = 500
		resp.SetBody([]byte("Internal Server Error: CGI execution failed"))
		return resp
	}

	if runErr != nil {
		// the script produced output before exiting non-zero; serve
		// what it wrote
		ex.logger.Warn("cgi script exited non-zero",
			zap.String("script", absPath), zap.Error(runErr))
	}

	metrics.CGIExecutions.WithLabelValues("ok").Inc()
	return parseOutput(stdout.Bytes())
}

// interpreter picks the program that runs the script: the location's
// configured cgi_pass, or a default by extension, or none (the script
// itself is executed).
func (ex *Executor) interpreter(ext string, loc *config.LocationConfig) string {
	if loc.CGIPath != "" {
		return loc.CGIPath
	}
	switch ext {
	case ".php":
		return "php-cgi"
	case ".py":
		return "python3"
	case ".pl":
		return "perl"
	}
	return ""
}

// buildEnv constructs the CGI/1.1 environment block.
func buildEnv(req *httpserver.Request, srv *config.ServerConfig, absPath string) []string {
	serverName := srv.Host
	if len(srv.ServerNames) > 0 {
		serverName = srv.ServerNames[0]
	}

	env := []string{
		"REQUEST_METHOD=" + req.Method,
		"PATH_INFO=" + req.Path,
		"QUERY_STRING=" + req.Query,
		"CONTENT_TYPE=" + req.Header("Content-Type"),
		"CONTENT_LENGTH=" + strconv.Itoa(len(req.Body)),
		"SCRIPT_NAME=" + req.Path,
		"SCRIPT_FILENAME=" + absPath,
		"SERVER_NAME=" + serverName,
		"SERVER_PORT=" + strconv.Itoa(srv.Port),
		"SERVER_PROTOCOL=HTTP/1.1",
		"GATEWAY_INTERFACE=CGI/1.1",
		// php-cgi refuses to run without it
		"REDIRECT_STATUS=200",
	}

	for name, value := range req.Headers {
		env = append(env, "HTTP_"+headerToEnv(name)+"="+value)
	}
	return env
}

// headerToEnv converts a header name to its environment form:
// uppercase with dashes as underscores.
func headerToEnv(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// parseOutput splits the script's stdout into CGI headers and body and
// folds them into a response. A Status header sets the HTTP status;
// output without a header block is served whole as text/html.
func parseOutput(output []byte) *httpserver.Response {
	resp := httpserver.NewResponse()

	headerEnd, bodyStart := splitOutput(output)
	if headerEnd < 0 {
		resp.SetBody(output)
		resp.SetHeader("Content-Type", "text/html")
		return resp
	}

	for line := range strings.Lines(string(output[:headerEnd])) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])

		if name == "Status" {
			if code, err := strconv.Atoi(firstField(value)); err == nil && code > 0 {
				resp.Status = code
			}
			continue
		}
		resp.SetHeader(name, value)
	}

	resp.SetBody(output[bodyStart:])
	return resp
}

// splitOutput locates the blank line ending the CGI header block,
// accepting both CRLF and bare LF conventions. Returns (-1, 0) when no
// block separator exists.
func splitOutput(output []byte) (headerEnd, bodyStart int) {
	if i := bytes.Index(output, []byte("\r\n\r\n")); i >= 0 {
		return i, i + 4
	}
	if i := bytes.Index(output, []byte("\n\n")); i >= 0 {
		return i, i + 2
	}
	return -1, 0
}

// firstField returns the first space-separated field of s, so that
// "404 Not Found" yields "404".
func firstField(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
