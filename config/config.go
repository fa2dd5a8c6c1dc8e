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

// Package config loads and represents the server configuration: a list
// of virtual server blocks, each with an ordered list of URI-prefix
// locations. The file syntax is a line-oriented block format; see Parse.
package config

import (
	"fmt"
	"os"
	"strings"
)

// DefaultBodyLimit is the request body cap applied when a server block
// does not set client_max_body_size.
const DefaultBodyLimit = 1 << 20 // 1 MiB

// Config is the parsed configuration file: every server block, in
// declaration order.
type Config struct {
	Servers []*ServerConfig
}

// ServerConfig describes one virtual server bound to a host:port pair.
type ServerConfig struct {
	Host string
	Port int

	// ServerNames are matched against the Host request header. A block
	// with no names matches no Host name; when no name matches, the
	// first block declared on the host:port pair is the default, named
	// or not.
	ServerNames []string

	// ErrorPages maps a status code to a filesystem path whose contents
	// replace the built-in error body for that code.
	ErrorPages map[int]string

	// BodyLimit caps the request body size in bytes; requests exceeding
	// it are answered with 413.
	BodyLimit int64

	// Locations are tried in declaration order; the longest matching
	// prefix wins.
	Locations []*LocationConfig
}

// LocationConfig is a URI-prefix route inside a server block.
type LocationConfig struct {
	// Path is the URI prefix this location matches.
	Path string

	// Root is the filesystem directory prepended to the full request
	// path when resolving it; the matched prefix is kept, not replaced.
	Root string

	// Index is the filename tried when a directory is requested.
	Index string

	// Methods restricts which request methods the location accepts.
	// Empty means all methods are allowed.
	Methods []string

	// Autoindex enables the generated directory listing when a
	// directory has no index file.
	Autoindex bool

	// Redirect, when set, answers every request with a 301 to this
	// target.
	Redirect string

	// UploadStore is the directory POST uploads are written to.
	// Empty disables uploads.
	UploadStore string

	// CGIPath is the interpreter invoked for CGI scripts. When empty,
	// the interpreter is chosen by script extension.
	CGIPath string

	// CGIExtensions are the script suffixes handled by CGI, e.g. ".py".
	CGIExtensions []string
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// FindServer selects the server block for a request. The listener's
// bound port and host narrow the candidates; serverName (the host
// portion of the Host header) picks among blocks sharing the pair.
// The first block bound to the pair is the default when no name
// matches. A block listening on 0.0.0.0 matches any host. Returns nil
// when no block is bound to the pair at all.
func (c *Config) FindServer(host string, port int, serverName string) *ServerConfig {
	var fallback *ServerConfig
	for _, srv := range c.Servers {
		if srv.Port != port {
			continue
		}
		if srv.Host != "0.0.0.0" && host != "" && srv.Host != host {
			continue
		}
		if fallback == nil {
			fallback = srv
		}
		for _, name := range srv.ServerNames {
			if name == serverName {
				return srv
			}
		}
	}
	return fallback
}

// AllowsMethod reports whether the location accepts the given request
// method. An empty method list allows everything.
func (l *LocationConfig) AllowsMethod(method string) bool {
	if len(l.Methods) == 0 {
		return true
	}
	for _, m := range l.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// HasCGIExtension reports whether path ends in one of the location's
// CGI extensions.
func (l *LocationConfig) HasCGIExtension(path string) bool {
	for _, ext := range l.CGIExtensions {
		if strings.HasSuffix(path, ext) && len(path) > len(ext) {
			return true
		}
	}
	return false
}

// ErrorPage returns the configured error page body for code, or
// ok=false when none is configured or the file cannot be read.
func (s *ServerConfig) ErrorPage(code int) ([]byte, bool) {
	path, ok := s.ErrorPages[code]
	if !ok {
		return nil, false
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return body, true
}
