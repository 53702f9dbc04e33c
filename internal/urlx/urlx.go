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

// Package urlx parses and formats the URL families Parley uses to address
// content across subsystems: http(s), file, inline data, external MCP
// resources, and imported documents. Parsing never fails; anything
// unrecognizable degrades to a Kind of unknown carrying the raw input.
package urlx

import (
	"net/url"
	"strings"
)

// Kind discriminates the URL families.
type Kind string

const (
	// KindHTTP is a plain http or https URL.
	KindHTTP Kind = "http"
	// KindFile is a local file path URL.
	KindFile Kind = "file"
	// KindData is an inline data: URL.
	KindData Kind = "data"
	// KindExternal addresses a resource on an MCP server connection.
	KindExternal Kind = "external"
	// KindDocument addresses an imported document by id.
	KindDocument Kind = "document"
	// KindUnknown is the fallback for unparseable or unrecognized input.
	KindUnknown Kind = "unknown"
)

// URL is the discriminated descriptor produced by Parse. Only the fields
// belonging to Kind are populated; Raw always holds the original input.
type URL struct {
	Kind Kind
	Raw  string

	// URL is the full address, for KindHTTP.
	URL string

	// Path is the filesystem path, for KindFile.
	Path string

	// MimeType and Data describe an inline payload, for KindData.
	// Data is the (usually base64) payload after the comma.
	MimeType string
	Data     string
	Base64   bool

	// Server and Origin identify an MCP resource, for KindExternal.
	// Server is the connection id and Origin the server-side resource URI.
	Server string
	Origin string

	// DocumentID identifies an imported document, for KindDocument.
	DocumentID string
}

// Parse recognizes the five URL families and produces a descriptor.
// It never returns an error; unrecognized input yields KindUnknown.
func Parse(raw string) URL {
	trimmed := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(trimmed, "data:"):
		return parseData(raw, trimmed)
	case strings.HasPrefix(trimmed, "document:"):
		return parseDocument(raw, trimmed)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return URL{Kind: KindUnknown, Raw: raw}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return URL{Kind: KindUnknown, Raw: raw}
		}
		return URL{Kind: KindHTTP, Raw: raw, URL: trimmed}
	case "file":
		path := u.Path
		if u.Host != "" && u.Host != "localhost" {
			// Windows-style file://C:/... ends up with the drive as host.
			path = u.Host + u.Path
		}
		if path == "" && u.Opaque != "" {
			path = u.Opaque
		}
		if path == "" {
			return URL{Kind: KindUnknown, Raw: raw}
		}
		return URL{Kind: KindFile, Raw: raw, Path: path}
	case "external":
		if u.Host == "" {
			return URL{Kind: KindUnknown, Raw: raw}
		}
		return URL{
			Kind:   KindExternal,
			Raw:    raw,
			Server: u.Host,
			Origin: u.Query().Get("origin"),
		}
	default:
		return URL{Kind: KindUnknown, Raw: raw}
	}
}

// parseData handles data:[mime][;base64],payload.
func parseData(raw, trimmed string) URL {
	rest := strings.TrimPrefix(trimmed, "data:")
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return URL{Kind: KindUnknown, Raw: raw}
	}

	meta := rest[:comma]
	payload := rest[comma+1:]

	out := URL{Kind: KindData, Raw: raw, Data: payload}
	for i, field := range strings.Split(meta, ";") {
		if i == 0 {
			out.MimeType = field
			continue
		}
		if field == "base64" {
			out.Base64 = true
		}
	}
	return out
}

// parseDocument handles document:{id} and document://{id}.
func parseDocument(raw, trimmed string) URL {
	id := strings.TrimPrefix(trimmed, "document:")
	id = strings.TrimPrefix(id, "//")
	id = strings.TrimSuffix(id, "/")
	if id == "" {
		return URL{Kind: KindUnknown, Raw: raw}
	}
	return URL{Kind: KindDocument, Raw: raw, DocumentID: id}
}

// FormatExternal builds an external resource URL for the given connection
// id and origin URI. The origin is query-encoded so arbitrary server URIs
// survive the round trip.
func FormatExternal(server, origin string) string {
	return "external://" + server + "?origin=" + url.QueryEscape(origin)
}

// FormatDocument builds a document URL for the given document id.
func FormatDocument(id string) string {
	return "document:" + id
}
