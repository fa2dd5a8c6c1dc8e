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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindServer(t *testing.T) {
	first := &ServerConfig{Host: "127.0.0.1", Port: 8080, ServerNames: []string{"alpha.test"}}
	second := &ServerConfig{Host: "127.0.0.1", Port: 8080, ServerNames: []string{"beta.test"}}
	wildcard := &ServerConfig{Host: "0.0.0.0", Port: 9090}
	cfg := &Config{Servers: []*ServerConfig{first, second, wildcard}}

	// name match wins over declaration order
	assert.Same(t, second, cfg.FindServer("127.0.0.1", 8080, "beta.test"))
	assert.Same(t, first, cfg.FindServer("127.0.0.1", 8080, "alpha.test"))

	// no name match falls back to first block on the pair
	assert.Same(t, first, cfg.FindServer("127.0.0.1", 8080, "unknown.test"))

	// wildcard host matches any address on its port
	assert.Same(t, wildcard, cfg.FindServer("10.0.0.7", 9090, "whatever"))

	// nothing bound to the pair
	assert.Nil(t, cfg.FindServer("127.0.0.1", 9999, "alpha.test"))
}

func TestFindServerEmptyNamesIsDefault(t *testing.T) {
	unnamed := &ServerConfig{Host: "0.0.0.0", Port: 8080}
	named := &ServerConfig{Host: "0.0.0.0", Port: 8080, ServerNames: []string{"x.test"}}
	cfg := &Config{Servers: []*ServerConfig{unnamed, named}}

	assert.Same(t, named, cfg.FindServer("127.0.0.1", 8080, "x.test"))
	assert.Same(t, unnamed, cfg.FindServer("127.0.0.1", 8080, "y.test"))
}

func TestAllowsMethod(t *testing.T) {
	open := &LocationConfig{}
	assert.True(t, open.AllowsMethod("GET"))
	assert.True(t, open.AllowsMethod("BREW"))

	restricted := &LocationConfig{Methods: []string{"GET", "POST"}}
	assert.True(t, restricted.AllowsMethod("GET"))
	assert.False(t, restricted.AllowsMethod("DELETE"))
}

func TestHasCGIExtension(t *testing.T) {
	loc := &LocationConfig{CGIExtensions: []string{".py", ".php"}}
	assert.True(t, loc.HasCGIExtension("/cgi/env.py"))
	assert.True(t, loc.HasCGIExtension("/index.php"))
	assert.False(t, loc.HasCGIExtension("/cgi/env.py.txt"))
	assert.False(t, loc.HasCGIExtension("/style.css"))
	assert.False(t, loc.HasCGIExtension(".py"))
}

func TestErrorPage(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "404.html")
	require.NoError(t, os.WriteFile(page, []byte("<h1>gone</h1>"), 0o644))

	srv := &ServerConfig{ErrorPages: map[int]string{404: page, 500: filepath.Join(dir, "missing.html")}}

	body, ok := srv.ErrorPage(404)
	assert.True(t, ok)
	assert.Equal(t, "<h1>gone</h1>", string(body))

	// configured but unreadable falls through to the built-in body
	_, ok = srv.ErrorPage(500)
	assert.False(t, ok)

	_, ok = srv.ErrorPage(403)
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}
