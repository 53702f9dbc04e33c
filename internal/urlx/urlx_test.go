// Copyright 2025 The Parley Authors
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

package urlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want URL
	}{
		{
			name: "https",
			raw:  "https://example.com/page?q=1",
			want: URL{Kind: KindHTTP, Raw: "https://example.com/page?q=1", URL: "https://example.com/page?q=1"},
		},
		{
			name: "http",
			raw:  "http://example.com",
			want: URL{Kind: KindHTTP, Raw: "http://example.com", URL: "http://example.com"},
		},
		{
			name: "file",
			raw:  "file:///home/user/notes.txt",
			want: URL{Kind: KindFile, Raw: "file:///home/user/notes.txt", Path: "/home/user/notes.txt"},
		},
		{
			name: "data base64",
			raw:  "data:image/png;base64,iVBORw0KGgo=",
			want: URL{Kind: KindData, Raw: "data:image/png;base64,iVBORw0KGgo=", MimeType: "image/png", Data: "iVBORw0KGgo=", Base64: true},
		},
		{
			name: "data plain text",
			raw:  "data:text/plain,hello",
			want: URL{Kind: KindData, Raw: "data:text/plain,hello", MimeType: "text/plain", Data: "hello"},
		},
		{
			name: "external",
			raw:  "external://srv-1?origin=file%3A%2F%2F%2Fdata.csv",
			want: URL{Kind: KindExternal, Raw: "external://srv-1?origin=file%3A%2F%2F%2Fdata.csv", Server: "srv-1", Origin: "file:///data.csv"},
		},
		{
			name: "document",
			raw:  "document:doc-42",
			want: URL{Kind: KindDocument, Raw: "document:doc-42", DocumentID: "doc-42"},
		},
		{
			name: "document with slashes",
			raw:  "document://doc-42",
			want: URL{Kind: KindDocument, Raw: "document://doc-42", DocumentID: "doc-42"},
		},
		{
			name: "unknown scheme",
			raw:  "gopher://example.com",
			want: URL{Kind: KindUnknown, Raw: "gopher://example.com"},
		},
		{
			name: "plain text",
			raw:  "not a url at all",
			want: URL{Kind: KindUnknown, Raw: "not a url at all"},
		},
		{
			name: "empty",
			raw:  "",
			want: URL{Kind: KindUnknown, Raw: ""},
		},
		{
			name: "data without comma",
			raw:  "data:text/plain",
			want: URL{Kind: KindUnknown, Raw: "data:text/plain"},
		},
		{
			name: "document without id",
			raw:  "document:",
			want: URL{Kind: KindUnknown, Raw: "document:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestFormatExternal_RoundTrip(t *testing.T) {
	origin := "untitled://workspace/file one.txt?rev=3"
	raw := FormatExternal("conn-9", origin)

	parsed := Parse(raw)
	assert.Equal(t, KindExternal, parsed.Kind)
	assert.Equal(t, "conn-9", parsed.Server)
	assert.Equal(t, origin, parsed.Origin)
}

func TestFormatDocument_RoundTrip(t *testing.T) {
	parsed := Parse(FormatDocument("abc"))
	assert.Equal(t, KindDocument, parsed.Kind)
	assert.Equal(t, "abc", parsed.DocumentID)
}
