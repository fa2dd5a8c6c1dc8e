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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Parse reads the block-format configuration from input and returns the
// validated Config. The syntax is line-oriented: a directive name is
// followed by its arguments on the same line, with an optional
// terminating ';'. '#' starts a comment. Server blocks contain
// location blocks.
func Parse(input io.Reader) (*Config, error) {
	p := parser{}
	p.lexer.load(input)
	for p.next() {
		if p.tok().text != "server" {
			return nil, p.errf("unexpected token '%s'; expected 'server'", p.tok().text)
		}
		srv, err := p.parseServer()
		if err != nil {
			return nil, err
		}
		p.cfg.Servers = append(p.cfg.Servers, srv)
	}
	if len(p.cfg.Servers) == 0 {
		return nil, fmt.Errorf("no server blocks defined")
	}
	return &p.cfg, nil
}

// parser holds the token cursor state while assembling a Config.
type parser struct {
	lexer  lexer
	cfg    Config
	tokens []token
	cursor int
}

// next advances the cursor, pulling another token from the lexer when
// the lookahead buffer is exhausted.
func (p *parser) next() bool {
	if p.cursor < len(p.tokens) {
		p.cursor++
		return true
	}
	if p.lexer.next() {
		p.tokens = append(p.tokens, p.lexer.token)
		p.cursor++
		return true
	}
	return false
}

// tok returns the token at the cursor.
func (p *parser) tok() token {
	return p.tokens[p.cursor-1]
}

// peek reports the next token without consuming it.
func (p *parser) peek() (token, bool) {
	if p.cursor < len(p.tokens) {
		return p.tokens[p.cursor], true
	}
	if p.lexer.next() {
		p.tokens = append(p.tokens, p.lexer.token)
		return p.tokens[len(p.tokens)-1], true
	}
	return token{}, false
}

func (p *parser) errf(format string, args ...any) error {
	line := 0
	if p.cursor > 0 {
		line = p.tok().line
	}
	return fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
}

// args gathers the remaining tokens of the current directive: tokens on
// the directive's line up to a ';', '{', or '}'. A trailing ';' on the
// same line is consumed.
func (p *parser) args() []string {
	line := p.tok().line
	var out []string
	for {
		tok, ok := p.peek()
		if !ok || tok.line != line {
			return out
		}
		switch tok.text {
		case ";":
			p.next()
			return out
		case "{", "}":
			return out
		}
		p.next()
		out = append(out, tok.text)
	}
}

// openBlock consumes the '{' beginning a block.
func (p *parser) openBlock(what string) error {
	if !p.next() || p.tok().text != "{" {
		return p.errf("expected '{' to open %s block", what)
	}
	return nil
}

func (p *parser) parseServer() (*ServerConfig, error) {
	srv := &ServerConfig{
		Host:       "0.0.0.0",
		Port:       80,
		ErrorPages: make(map[int]string),
		BodyLimit:  DefaultBodyLimit,
	}
	if err := p.openBlock("server"); err != nil {
		return nil, err
	}

	for p.next() {
		switch dir := p.tok().text; dir {
		case "}":
			return srv, p.validateServer(srv)
		case "listen":
			args := p.args()
			if len(args) != 1 {
				return nil, p.errf("listen takes exactly one address")
			}
			host, port, err := parseListen(args[0])
			if err != nil {
				return nil, p.errf("%v", err)
			}
			srv.Host, srv.Port = host, port
		case "server_name":
			srv.ServerNames = append(srv.ServerNames, p.args()...)
		case "error_page":
			args := p.args()
			if len(args) != 2 {
				return nil, p.errf("error_page takes a status code and a path")
			}
			code, err := strconv.Atoi(args[0])
			if err != nil || code < 100 || code > 599 {
				return nil, p.errf("invalid error_page status code '%s'", args[0])
			}
			srv.ErrorPages[code] = args[1]
		case "client_max_body_size":
			args := p.args()
			if len(args) != 1 {
				return nil, p.errf("client_max_body_size takes exactly one size")
			}
			n, err := parseSize(args[0])
			if err != nil {
				return nil, p.errf("%v", err)
			}
			srv.BodyLimit = n
		case "location":
			loc, err := p.parseLocation()
			if err != nil {
				return nil, err
			}
			srv.Locations = append(srv.Locations, loc)
		default:
			return nil, p.errf("unknown directive '%s' in server block", dir)
		}
	}
	return nil, p.errf("unexpected end of input; server block not closed")
}

func (p *parser) parseLocation() (*LocationConfig, error) {
	args := p.args()
	if len(args) != 1 {
		return nil, p.errf("location takes exactly one prefix")
	}
	loc := &LocationConfig{
		Path:  args[0],
		Index: "index.html",
	}
	if err := p.openBlock("location"); err != nil {
		return nil, err
	}

	for p.next() {
		switch dir := p.tok().text; dir {
		case "}":
			return loc, nil
		case "root":
			if err := p.oneArg(&loc.Root, dir); err != nil {
				return nil, err
			}
		case "index":
			if err := p.oneArg(&loc.Index, dir); err != nil {
				return nil, err
			}
		case "method":
			methods := p.args()
			if len(methods) == 0 {
				return nil, p.errf("method takes at least one method name")
			}
			for _, m := range methods {
				loc.Methods = append(loc.Methods, strings.ToUpper(m))
			}
		case "autoindex":
			args := p.args()
			if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
				return nil, p.errf("autoindex takes 'on' or 'off'")
			}
			loc.Autoindex = args[0] == "on"
		case "return":
			if err := p.oneArg(&loc.Redirect, dir); err != nil {
				return nil, err
			}
		case "upload_store":
			if err := p.oneArg(&loc.UploadStore, dir); err != nil {
				return nil, err
			}
		case "cgi_pass":
			if err := p.oneArg(&loc.CGIPath, dir); err != nil {
				return nil, err
			}
		case "cgi_ext":
			exts := p.args()
			if len(exts) == 0 {
				return nil, p.errf("cgi_ext takes at least one extension")
			}
			for _, ext := range exts {
				if !strings.HasPrefix(ext, ".") {
					return nil, p.errf("cgi_ext extension '%s' must start with '.'", ext)
				}
				loc.CGIExtensions = append(loc.CGIExtensions, ext)
			}
		default:
			return nil, p.errf("unknown directive '%s' in location block", dir)
		}
	}
	return nil, p.errf("unexpected end of input; location block not closed")
}

// oneArg consumes a single-argument directive into dst.
func (p *parser) oneArg(dst *string, dir string) error {
	args := p.args()
	if len(args) != 1 {
		return p.errf("%s takes exactly one argument", dir)
	}
	*dst = args[0]
	return nil
}

func (p *parser) validateServer(srv *ServerConfig) error {
	if srv.Port < 1 || srv.Port > 65535 {
		return p.errf("port %d outside 1..65535", srv.Port)
	}
	for _, loc := range srv.Locations {
		if loc.Root == "" {
			return p.errf("location %s has no root", loc.Path)
		}
		if loc.CGIPath != "" && len(loc.CGIExtensions) == 0 {
			return p.errf("location %s has cgi_pass without cgi_ext", loc.Path)
		}
	}
	return nil
}

// parseListen splits a listen address into host and port. A bare port
// listens on all interfaces.
func parseListen(addr string) (string, int, error) {
	host := "0.0.0.0"
	portStr := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
		portStr = addr[i+1:]
		if host == "" {
			host = "0.0.0.0"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen port '%s'", portStr)
	}
	if port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("listen port %d outside 1..65535", port)
	}
	return host, port, nil
}
