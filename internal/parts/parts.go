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

// Package parts defines the canonical Part union used for reply and
// tool-result content, and converts protocol-level MCP content blocks
// into it. Conversion is pure: no I/O, no errors, unknown input degrades
// to a text Part.
package parts

import (
	"strings"
)

// Type discriminates the Part union.
type Type string

const (
	// TypeText is plain text content.
	TypeText Type = "text"
	// TypeReasoning is model reasoning (thinking) text.
	TypeReasoning Type = "reasoning"
	// TypeImage is image content addressed by URL.
	TypeImage Type = "image"
	// TypeFile is file-like content addressed by URL.
	TypeFile Type = "file"
	// TypeReference is a link to a resource without inline content.
	TypeReference Type = "reference"
	// TypeSource is a citation produced during generation.
	TypeSource Type = "source"
	// TypeToolCall records a tool invocation made by the model.
	TypeToolCall Type = "tool-call"
	// TypeError is an error surfaced as content.
	TypeError Type = "error"
)

// Part is one canonical unit of content. Only the fields belonging to
// Type are populated.
type Part struct {
	Type Type `json:"type"`

	// Text carries the content for text, reasoning and error parts, and
	// any inline text of a file part.
	Text string `json:"text,omitempty"`

	// URL addresses image, file, reference and source parts. Resource
	// and blob references are external: or data: URLs.
	URL string `json:"url,omitempty"`

	// MimeType describes image, file and reference content.
	MimeType string `json:"mimeType,omitempty"`

	// Name is the display name of a reference or source, or the tool
	// name of a tool-call part.
	Name string `json:"name,omitempty"`

	// ID identifies a tool-call part.
	ID string `json:"id,omitempty"`

	// Args is the JSON-encoded argument payload of a tool-call part.
	Args string `json:"args,omitempty"`
}

// TextPart builds a text Part.
func TextPart(text string) Part {
	return Part{Type: TypeText, Text: text}
}

// ErrorPart builds an error Part.
func ErrorPart(message string) Part {
	return Part{Type: TypeError, Text: message}
}

// IsBlank reports whether the part is a text part with only whitespace.
func (p Part) IsBlank() bool {
	return p.Type == TypeText && strings.TrimSpace(p.Text) == ""
}

// HasContent reports whether any part carries usable content: a non-blank
// text part, or any part of another type.
func HasContent(ps []Part) bool {
	for _, p := range ps {
		if p.Type != TypeText {
			return true
		}
		if !p.IsBlank() {
			return true
		}
	}
	return false
}
