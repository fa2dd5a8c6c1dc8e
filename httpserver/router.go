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

package httpserver

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lightcodelabs/stevedore/config"
	"github.com/lightcodelabs/stevedore/internal/metrics"
)

// CGIHandler executes a CGI script for a request and folds its output
// into a response. The concrete implementation lives in the cgi
// package; the indirection keeps script execution out of the routing
// layer.
type CGIHandler interface {
	Handle(req *Request, srv *config.ServerConfig, loc *config.LocationConfig, scriptPath string) *Response
}

// Router maps a complete request to a response: virtual-host
// selection, location selection, then dispatch to static serving,
// upload, deletion, redirect, or CGI.
type Router struct {
	Config *config.Config
	CGI    CGIHandler

	logger *zap.Logger
}

// NewRouter returns a Router over cfg. logger may be nil.
func NewRouter(cfg *config.Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{Config: cfg, logger: logger}
}

// Route produces the response for a parsed request received on the
// listener bound to (boundHost, boundPort). It never returns nil; all
// failures become error responses.
func (rt *Router) Route(req *Request, boundHost string, boundPort int) *Response {
	resp := rt.route(req, boundHost, boundPort)

	// parse failures and oversized bodies poison the connection
	if req.Failed() || resp.Status == 400 || resp.Status == 413 {
		resp.SetKeepAlive(false)
	} else if !req.KeepAlive() {
		resp.SetKeepAlive(false)
	}
	resp.SetHeader("X-Request-Id", uuid.New().String())

	metrics.Requests.WithLabelValues(req.Method, strconv.Itoa(resp.Status)).Inc()
	rt.logger.Debug("routed request",
		zap.String("method", req.Method),
		zap.String("uri", req.URI),
		zap.Int("status", resp.Status))
	return resp
}

func (rt *Router) route(req *Request, boundHost string, boundPort int) *Response {
	serverName, _ := req.HostPort(boundPort)
	srv := rt.Config.FindServer(boundHost, boundPort, serverName)

	if req.Failed() {
		return ErrorResponse(srv, req.ErrorCode())
	}
	if srv == nil {
		rt.logger.Debug("no virtual host bound",
			zap.String("host", boundHost), zap.Int("port", boundPort))
		return ErrorResponse(nil, 404)
	}

	// the parser enforces only the loosest limit among the vhosts
	// sharing the listener; the selected block's own limit applies here
	if srv.BodyLimit > 0 && int64(len(req.Body)) > srv.BodyLimit {
		rt.logger.Debug("body exceeds virtual host limit",
			zap.Int("bytes", len(req.Body)), zap.Int64("limit", srv.BodyLimit))
		return ErrorResponse(srv, 413)
	}

	loc := findLocation(srv, req.Path)
	if loc == nil {
		return ErrorResponse(srv, 404)
	}

	if loc.Redirect != "" {
		resp := NewResponse()
		resp.Status = 301
		resp.SetHeader("Location", loc.Redirect)
		return resp
	}

	if !loc.AllowsMethod(req.Method) {
		resp := ErrorResponse(srv, 405)
		resp.SetHeader("Allow", strings.Join(loc.Methods, ", "))
		return resp
	}

	if strings.Contains(req.Path, "..") || strings.ContainsRune(req.Path, 0) {
		rt.logger.Warn("path traversal rejected", zap.String("path", req.Path))
		return ErrorResponse(srv, 403)
	}

	fullPath := loc.Root + req.Path
	if !underRoot(loc.Root, fullPath) {
		return ErrorResponse(srv, 403)
	}

	if loc.HasCGIExtension(fullPath) {
		if rt.CGI == nil {
			return ErrorResponse(srv, 500)
		}
		return rt.CGI.Handle(req, srv, loc, fullPath)
	}

	switch req.Method {
	case "GET", "HEAD":
		return rt.serveStatic(req, srv, loc, fullPath)
	case "POST":
		return rt.handleUpload(req, srv, loc)
	case "DELETE":
		return rt.handleDelete(req, srv, fullPath)
	}
	return ErrorResponse(srv, 501)
}

// findLocation returns the location with the longest prefix matching
// path. Ties go to the first-declared location.
func findLocation(srv *config.ServerConfig, path string) *config.LocationConfig {
	var best *config.LocationConfig
	bestLen := -1
	for _, loc := range srv.Locations {
		if strings.HasPrefix(path, loc.Path) && len(loc.Path) > bestLen {
			best = loc
			bestLen = len(loc.Path)
		}
	}
	return best
}

// underRoot reports whether path, after lexical normalization, is
// still at or below root.
func underRoot(root, path string) bool {
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(path)
	if cleanPath == cleanRoot {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator))
}
