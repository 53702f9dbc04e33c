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
	"encoding/json"

	"github.com/parley-app/parley/internal/urlx"
)

// ContentBlock is a protocol-level MCP content block, already normalized
// from the wire representation. Kind follows the protocol's type field.
type ContentBlock struct {
	// Kind is the block type: text, image, audio, resource_link, resource.
	Kind string `json:"type"`

	// Text is the text payload (Kind "text", or an embedded text resource).
	Text string `json:"text,omitempty"`

	// Data is the base64 payload of an image/audio block or an embedded
	// blob resource.
	Data string `json:"data,omitempty"`

	// MimeType describes binary payloads.
	MimeType string `json:"mimeType,omitempty"`

	// URI is the server-side resource URI (resource_link / resource).
	URI string `json:"uri,omitempty"`

	// Name is the display name of a resource link.
	Name string `json:"name,omitempty"`
}

// FromContent converts MCP content blocks into canonical Parts. Resource
// and blob references are rewritten as external: URLs scoped to the
// originating connection id; inline binary payloads become data: URLs.
// Unknown block kinds degrade to a text Part carrying the raw block JSON.
func FromContent(connectionID string, blocks []ContentBlock) []Part {
	out := make([]Part, 0, len(blocks))
	for _, block := range blocks {
		out = append(out, fromBlock(connectionID, block))
	}
	return out
}

func fromBlock(connectionID string, block ContentBlock) Part {
	switch block.Kind {
	case "text":
		return Part{Type: TypeText, Text: block.Text}

	case "image":
		return Part{
			Type:     TypeImage,
			URL:      dataURL(block.MimeType, block.Data),
			MimeType: block.MimeType,
		}

	case "audio":
		return Part{
			Type:     TypeFile,
			URL:      dataURL(block.MimeType, block.Data),
			MimeType: block.MimeType,
		}

	case "resource_link":
		return Part{
			Type:     TypeReference,
			URL:      urlx.FormatExternal(connectionID, block.URI),
			Name:     block.Name,
			MimeType: block.MimeType,
		}

	case "resource":
		p := Part{
			Type:     TypeFile,
			MimeType: block.MimeType,
			Text:     block.Text,
		}
		if block.URI != "" {
			p.URL = urlx.FormatExternal(connectionID, block.URI)
		} else if block.Data != "" {
			p.URL = dataURL(block.MimeType, block.Data)
		}
		return p

	default:
		raw, err := json.Marshal(block)
		if err != nil {
			return TextPart(block.Text)
		}
		return TextPart(string(raw))
	}
}

// dataURL builds an inline data: URL for a base64 payload.
func dataURL(mimeType, data string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + data
}
