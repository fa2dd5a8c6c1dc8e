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
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/lightcodelabs/stevedore/config"
)

// serveStatic answers GET and HEAD for a resolved filesystem path:
// files are served with a type derived from their extension,
// directories try the index file, then the generated listing when
// autoindex is on.
func (rt *Router) serveStatic(req *Request, srv *config.ServerConfig, loc *config.LocationConfig, fullPath string) *Response {
	info, err := os.Stat(fullPath)
	if err != nil {
		return ErrorResponse(srv, 404)
	}

	if info.IsDir() {
		// relative hrefs inside the directory only resolve correctly
		// when the URL ends in a slash
		if !strings.HasSuffix(req.Path, "/") {
			resp := NewResponse()
			resp.Status = 301
			resp.SetHeader("Location", req.Path+"/")
			return resp
		}

		indexPath := filepath.Join(fullPath, loc.Index)
		if idx, err := os.Stat(indexPath); err == nil && !idx.IsDir() {
			return rt.serveFile(req, srv, indexPath, idx)
		}
		if loc.Autoindex {
			return rt.serveListing(req, srv, fullPath)
		}
		return ErrorResponse(srv, 403)
	}

	return rt.serveFile(req, srv, fullPath, info)
}

func (rt *Router) serveFile(req *Request, srv *config.ServerConfig, path string, info os.FileInfo) *Response {
	etag := fileETag(path, info)
	if match := req.Header("If-None-Match"); match != "" && match == etag {
		resp := NewResponse()
		resp.Status = 304
		resp.SetHeader("ETag", etag)
		return resp
	}

	body, err := os.ReadFile(path)
	if err != nil {
		rt.logger.Error("reading static file", zap.String("path", path), zap.Error(err))
		if os.IsPermission(err) {
			return ErrorResponse(srv, 403)
		}
		return ErrorResponse(srv, 500)
	}

	resp := NewResponse()
	resp.SetBody(body)
	resp.SetHeader("Content-Type", MimeType(path))
	resp.SetHeader("ETag", etag)
	if req.Method == "HEAD" {
		resp.SetHeadOnly()
	}
	return resp
}

// fileETag derives a weak validator from the file's identity and
// modification state, so it changes whenever the content may have.
func fileETag(path string, info os.FileInfo) string {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	return `W/"` + strconv.FormatUint(h.Sum64(), 16) + `"`
}

// serveListing renders the autoindex directory listing.
func (rt *Router) serveListing(req *Request, srv *config.ServerConfig, dirPath string) *Response {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return ErrorResponse(srv, 403)
	}

	var b strings.Builder
	escaped := html.EscapeString(req.Path)
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("    <title>Index of " + escaped + "</title>\n")
	b.WriteString(`    <style>
        body { font-family: sans-serif; }
        table { border-collapse: collapse; width: 100%; }
        th, td { padding: 8px; text-align: left; }
        tr:nth-child(even) { background-color: #f2f2f2; }
    </style>
`)
	b.WriteString("</head>\n<body>\n")
	b.WriteString("    <h1>Index of " + escaped + "</h1>\n")
	b.WriteString("    <table>\n        <tr><th>Name</th><th>Size</th><th>Type</th></tr>\n")

	if req.Path != "/" {
		b.WriteString("        <tr><td><a href=\"..\">..</a></td><td>-</td><td>Directory</td></tr>\n")
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		size := "-"
		kind := "Directory"
		href := name
		if entry.IsDir() {
			href += "/"
		} else {
			kind = "File"
			if info, err := entry.Info(); err == nil {
				size = humanize.IBytes(uint64(info.Size()))
			}
		}
		fmt.Fprintf(&b, "        <tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(href), html.EscapeString(name), size, kind)
	}

	b.WriteString("    </table>\n</body>\n</html>\n")

	resp := NewResponse()
	resp.SetBody([]byte(b.String()))
	resp.SetHeader("Content-Type", "text/html")
	if req.Method == "HEAD" {
		resp.SetHeadOnly()
	}
	return resp
}
