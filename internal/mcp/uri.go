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

package mcp

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Capability URIs address tools and prompts without exposing server-side
// names directly: "tool:{connectionID}/{escapedName}". The connection id
// part must be a UUID, which doubles as a cheap integrity check when a URI
// comes back from persisted conversation history.

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// FormatToolURI builds the canonical URI for a tool on a connection.
func FormatToolURI(connectionID, name string) string {
	return "tool:" + connectionID + "/" + url.PathEscape(name)
}

// FormatPromptURI builds the canonical URI for a prompt on a connection.
func FormatPromptURI(connectionID, name string) string {
	return "prompt:" + connectionID + "/" + url.PathEscape(name)
}

// ParseToolURI extracts the connection id and tool name from a tool URI.
func ParseToolURI(uri string) (connectionID, name string, err error) {
	return parseCapabilityURI(uri, "tool")
}

// ParsePromptURI extracts the connection id and prompt name from a prompt
// URI.
func ParsePromptURI(uri string) (connectionID, name string, err error) {
	return parseCapabilityURI(uri, "prompt")
}

func parseCapabilityURI(uri, scheme string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, scheme+":")
	if !ok {
		return "", "", fmt.Errorf("not a %s uri: %q", scheme, uri)
	}
	id, escaped, ok := strings.Cut(rest, "/")
	if !ok || escaped == "" {
		return "", "", fmt.Errorf("malformed %s uri: %q", scheme, uri)
	}
	if !uuidPattern.MatchString(id) {
		return "", "", fmt.Errorf("malformed %s uri: connection id is not a uuid: %q", scheme, uri)
	}
	name, err := url.PathUnescape(escaped)
	if err != nil {
		return "", "", fmt.Errorf("malformed %s uri: %w", scheme, err)
	}
	return id, name, nil
}
