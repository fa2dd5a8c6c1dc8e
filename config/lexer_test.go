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
	"strings"
	"testing"
)

type lexerTestCase struct {
	input    string
	expected []token
}

func TestLexer(t *testing.T) {
	testCases := []lexerTestCase{
		{
			input: `listen 127.0.0.1:8080`,
			expected: []token{
				{line: 1, text: "listen"},
				{line: 1, text: "127.0.0.1:8080"},
			},
		},
		{
			input: `server {
						listen 8080
					}`,
			expected: []token{
				{line: 1, text: "server"},
				{line: 1, text: "{"},
				{line: 2, text: "listen"},
				{line: 2, text: "8080"},
				{line: 3, text: "}"},
			},
		},
		{
			input: `root /var/www;`,
			expected: []token{
				{line: 1, text: "root"},
				{line: 1, text: "/var/www"},
				{line: 1, text: ";"},
			},
		},
		{
			input: `location /up {}`,
			expected: []token{
				{line: 1, text: "location"},
				{line: 1, text: "/up"},
				{line: 1, text: "{"},
				{line: 1, text: "}"},
			},
		},
		{
			input: `# a comment
					server_name example.com # trailing comment
					index "file with space.html"`,
			expected: []token{
				{line: 2, text: "server_name"},
				{line: 2, text: "example.com"},
				{line: 3, text: "index"},
				{line: 3, text: "file with space.html"},
			},
		},
		{
			input: `method GET POST DELETE
					autoindex on`,
			expected: []token{
				{line: 1, text: "method"},
				{line: 1, text: "GET"},
				{line: 1, text: "POST"},
				{line: 1, text: "DELETE"},
				{line: 2, text: "autoindex"},
				{line: 2, text: "on"},
			},
		},
	}

	for i, testCase := range testCases {
		actual := tokenize(testCase.input)
		lexerCompare(t, i, testCase.expected, actual)
	}
}

func tokenize(input string) (tokens []token) {
	l := lexer{}
	l.load(strings.NewReader(input))
	for l.next() {
		tokens = append(tokens, l.token)
	}
	return
}

func lexerCompare(t *testing.T, n int, expected, actual []token) {
	t.Helper()

	if len(expected) != len(actual) {
		t.Fatalf("test case %d: expected %d tokens, got %d: %v",
			n, len(expected), len(actual), actual)
	}

	for i := range expected {
		if actual[i].line != expected[i].line {
			t.Errorf("test case %d token %d ('%s'): expected line %d, got %d",
				n, i, expected[i].text, expected[i].line, actual[i].line)
		}
		if actual[i].text != expected[i].text {
			t.Errorf("test case %d token %d: expected text '%s', got '%s'",
				n, i, expected[i].text, actual[i].text)
		}
	}
}
