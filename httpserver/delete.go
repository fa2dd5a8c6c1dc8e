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
	"os"

	"go.uber.org/zap"

	"github.com/lightcodelabs/stevedore/config"
)

// handleDelete removes the target file. 204 on success, 404 when the
// target does not exist, 500 when removal fails.
func (rt *Router) handleDelete(req *Request, srv *config.ServerConfig, fullPath string) *Response {
	if _, err := os.Stat(fullPath); err != nil {
		return ErrorResponse(srv, 404)
	}
	if err := os.Remove(fullPath); err != nil {
		rt.logger.Error("removing file",
			zap.String("path", fullPath), zap.Error(err))
		return ErrorResponse(srv, 500)
	}
	rt.logger.Info("deleted file", zap.String("path", fullPath), zap.String("uri", req.URI))

	resp := NewResponse()
	resp.Status = 204
	return resp
}
