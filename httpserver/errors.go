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

	"github.com/lightcodelabs/stevedore/config"
)

// ErrorResponse builds an error response for code. The server's
// configured error page supplies the body when present and readable;
// otherwise a minimal built-in page is used. srv may be nil when no
// virtual host could be selected.
func ErrorResponse(srv *config.ServerConfig, code int) *Response {
	resp := NewResponse()
	resp.Status = code
	if srv != nil {
		if body, ok := srv.ErrorPage(code); ok {
			resp.SetBody(body)
			return resp
		}
	}
	resp.SetBody(defaultErrorPage(code))
	return resp
}

// defaultErrorPage renders the built-in minimal HTML body for a
// status code.
func defaultErrorPage(code int) []byte {
	text := StatusText(code)
	return fmt.Appendf(nil,
		"<html>\n<head><title>%d %s</title></head>\n<body>\n<h1>%d %s</h1>\n</body>\n</html>\n",
		code, text, code, text)
}
