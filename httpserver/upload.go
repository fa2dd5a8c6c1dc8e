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
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lightcodelabs/stevedore/config"
)

// uploadSuccessPage is where a finished upload redirects the client.
const uploadSuccessPage = "/sucessupload.html"

// handleUpload answers POST: multipart file uploads and raw bodies are
// stored under the location's upload_store; form submissions are
// echoed back.
func (rt *Router) handleUpload(req *Request, srv *config.ServerConfig, loc *config.LocationConfig) *Response {
	if loc.UploadStore == "" {
		return ErrorResponse(srv, 403)
	}

	contentType := req.Header("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "multipart/form-data":
		return rt.saveMultipart(req, srv, loc, params["boundary"])
	case mediaType == "application/x-www-form-urlencoded":
		return rt.echoForm(req)
	default:
		name := fmt.Sprintf("upload_%d", time.Now().Unix())
		return rt.saveUpload(srv, loc, name, req.Body)
	}
}

// saveMultipart stores the first file part of a multipart body.
func (rt *Router) saveMultipart(req *Request, srv *config.ServerConfig, loc *config.LocationConfig, boundary string) *Response {
	if boundary == "" {
		return ErrorResponse(srv, 400)
	}

	mr := multipart.NewReader(bytes.NewReader(req.Body), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rt.logger.Debug("malformed multipart body", zap.Error(err))
			return ErrorResponse(srv, 400)
		}
		if part.FileName() == "" {
			continue
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return ErrorResponse(srv, 400)
		}
		// only the basename; a path-carrying filename must not
		// escape the upload store
		name := filepath.Base(filepath.FromSlash(part.FileName()))
		if name == "." || name == string(filepath.Separator) {
			return ErrorResponse(srv, 400)
		}
		return rt.saveUpload(srv, loc, name, data)
	}
	return ErrorResponse(srv, 400)
}

// saveUpload writes data into the upload store and redirects to the
// success page.
func (rt *Router) saveUpload(srv *config.ServerConfig, loc *config.LocationConfig, name string, data []byte) *Response {
	dest := filepath.Join(loc.UploadStore, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		rt.logger.Error("writing upload", zap.String("path", dest), zap.Error(err))
		return ErrorResponse(srv, 500)
	}
	rt.logger.Info("stored upload",
		zap.String("path", dest), zap.Int("bytes", len(data)))

	resp := NewResponse()
	resp.Status = 303
	resp.SetHeader("Location", uploadSuccessPage)
	return resp
}

// echoForm answers a urlencoded form submission with a page echoing
// the decoded fields.
func (rt *Router) echoForm(req *Request) *Response {
	var b strings.Builder
	b.WriteString("<html>\n<head><title>Form received</title></head>\n<body>\n<h1>Form received</h1>\n<ul>\n")

	values, err := url.ParseQuery(string(req.Body))
	if err == nil {
		for key, vals := range values {
			for _, v := range vals {
				fmt.Fprintf(&b, "<li>%s = %s</li>\n",
					html.EscapeString(key), html.EscapeString(v))
			}
		}
	} else {
		fmt.Fprintf(&b, "<li><pre>%s</pre></li>\n", html.EscapeString(string(req.Body)))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")

	resp := NewResponse()
	resp.SetBody([]byte(b.String()))
	resp.SetHeader("Content-Type", "text/html")
	return resp
}
