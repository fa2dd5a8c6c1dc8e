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
	"strconv"
	"time"
)

// ServerName is the Server header value stamped on every response.
const ServerName = "stevedore/1.0"

// headerField is one response header; order of insertion is the order
// on the wire.
type headerField struct {
	name  string
	value string
}

// Response is an HTTP response being assembled and then emitted. Once
// serialized, the wire form is immutable; only the count of sent bytes
// advances.
type Response struct {
	Status int

	headers   []headerField
	body      []byte
	raw       []byte
	bytesSent int
	keepAlive bool
	headOnly  bool // HEAD: serialize headers only, preserving Content-Length
}

// NewResponse returns an empty 200 response that keeps the
// connection open.
func NewResponse() *Response {
	return &Response{Status: 200, keepAlive: true}
}

// SetHeader sets a header, replacing any previous value while keeping
// the original position in the emission order.
func (resp *Response) SetHeader(name, value string) {
	for i := range resp.headers {
		if resp.headers[i].name == name {
			resp.headers[i].value = value
			return
		}
	}
	resp.headers = append(resp.headers, headerField{name, value})
}

// Header returns the current value of the named header.
func (resp *Response) Header(name string) string {
	for i := range resp.headers {
		if resp.headers[i].name == name {
			return resp.headers[i].value
		}
	}
	return ""
}

// SetBody replaces the response body.
func (resp *Response) SetBody(body []byte) { resp.body = body }

// Body returns the response body.
func (resp *Response) Body() []byte { return resp.body }

// SetKeepAlive records whether the connection survives this response.
func (resp *Response) SetKeepAlive(keep bool) { resp.keepAlive = keep }

// KeepAlive reports whether the connection survives this response.
func (resp *Response) KeepAlive() bool { return resp.keepAlive }

// SetHeadOnly suppresses the body on the wire while keeping the
// Content-Length of the would-be body, as a HEAD response requires.
func (resp *Response) SetHeadOnly() { resp.headOnly = true }

// Serialize renders the response into its wire form, injecting default
// headers that are absent: Date, Content-Length, Connection,
// Content-Type (when a body exists), and Server. The result is cached;
// the first call fixes the bytes.
func (resp *Response) Serialize() []byte {
	if resp.raw != nil {
		return resp.raw
	}

	if resp.Header("Date") == "" {
		resp.SetHeader("Date", time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))
	}
	if resp.Header("Content-Length") == "" {
		resp.SetHeader("Content-Length", strconv.Itoa(len(resp.body)))
	}
	if resp.Header("Connection") == "" {
		if resp.keepAlive {
			resp.SetHeader("Connection", "keep-alive")
		} else {
			resp.SetHeader("Connection", "close")
		}
	}
	if len(resp.body) > 0 && resp.Header("Content-Type") == "" {
		resp.SetHeader("Content-Type", "text/html")
	}
	if resp.Header("Server") == "" {
		resp.SetHeader("Server", ServerName)
	}

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(resp.Status))
	buf.WriteByte(' ')
	buf.WriteString(StatusText(resp.Status))
	buf.WriteString("\r\n")
	for _, h := range resp.headers {
		buf.WriteString(h.name)
		buf.WriteString(": ")
		buf.WriteString(h.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	if !resp.headOnly {
		buf.Write(resp.body)
	}

	resp.raw = buf.Bytes()
	return resp.raw
}

// Pending returns the serialized bytes not yet handed to the socket.
func (resp *Response) Pending() []byte {
	return resp.Serialize()[resp.bytesSent:]
}

// Advance records n more bytes as sent.
func (resp *Response) Advance(n int) { resp.bytesSent += n }

// Done reports whether the whole serialized response has been sent.
func (resp *Response) Done() bool {
	return resp.raw != nil && resp.bytesSent == len(resp.raw)
}

// StatusText returns the reason phrase for a status code.
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 300:
		return "Multiple Choices"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 406:
		return "Not Acceptable"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 410:
		return "Gone"
	case 411:
		return "Length Required"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 415:
		return "Unsupported Media Type"
	case 416:
		return "Range Not Satisfiable"
	case 417:
		return "Expectation Failed"
	case 418:
		return "I'm a teapot"
	case 422:
		return "Unprocessable Entity"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	case 505:
		return "HTTP Version Not Supported"
	}
	return "Unknown"
}
