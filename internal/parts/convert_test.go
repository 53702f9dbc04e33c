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

package parts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContent_Text(t *testing.T) {
	got := FromContent("conn-1", []ContentBlock{{Kind: "text", Text: "hello"}})
	require.Len(t, got, 1)
	assert.Equal(t, Part{Type: TypeText, Text: "hello"}, got[0])
}

func TestFromContent_Image(t *testing.T) {
	got := FromContent("conn-1", []ContentBlock{{Kind: "image", Data: "AAAA", MimeType: "image/png"}})
	require.Len(t, got, 1)
	assert.Equal(t, TypeImage, got[0].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", got[0].URL)
	assert.Equal(t, "image/png", got[0].MimeType)
}

func TestFromContent_ResourceLink(t *testing.T) {
	got := FromContent("conn-1", []ContentBlock{{
		Kind:     "resource_link",
		URI:      "db://table/rows",
		Name:     "rows",
		MimeType: "application/json",
	}})
	require.Len(t, got, 1)
	assert.Equal(t, TypeReference, got[0].Type)
	assert.Equal(t, "external://conn-1?origin=db%3A%2F%2Ftable%2Frows", got[0].URL)
	assert.Equal(t, "rows", got[0].Name)
}

func TestFromContent_EmbeddedTextResource(t *testing.T) {
	got := FromContent("conn-1", []ContentBlock{{
		Kind:     "resource",
		URI:      "file:///readme.md",
		Text:     "# Readme",
		MimeType: "text/markdown",
	}})
	require.Len(t, got, 1)
	assert.Equal(t, TypeFile, got[0].Type)
	assert.Equal(t, "# Readme", got[0].Text)
	assert.Equal(t, "external://conn-1?origin=file%3A%2F%2F%2Freadme.md", got[0].URL)
}

func TestFromContent_EmbeddedBlobWithoutURI(t *testing.T) {
	got := FromContent("conn-1", []ContentBlock{{
		Kind:     "resource",
		Data:     "BBBB",
		MimeType: "application/pdf",
	}})
	require.Len(t, got, 1)
	assert.Equal(t, "data:application/pdf;base64,BBBB", got[0].URL)
}

func TestFromContent_UnknownKindDegradesToText(t *testing.T) {
	got := FromContent("conn-1", []ContentBlock{{Kind: "sparkline", Text: "x"}})
	require.Len(t, got, 1)
	assert.Equal(t, TypeText, got[0].Type)
	assert.Contains(t, got[0].Text, "sparkline")
}

func TestHasContent(t *testing.T) {
	tests := []struct {
		name  string
		parts []Part
		want  bool
	}{
		{"empty slice", nil, false},
		{"blank text only", []Part{TextPart("  \n\t")}, false},
		{"non-blank text", []Part{TextPart("hi")}, true},
		{"blank text plus reference", []Part{TextPart(""), {Type: TypeReference, URL: "external://c?origin=x"}}, true},
		{"error part", []Part{ErrorPart("boom")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasContent(tt.parts))
		})
	}
}
