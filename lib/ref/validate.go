// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// DefaultServer is the homeserver domain assumed when an identifier
// carries no domain and none can be derived from context.
const DefaultServer = "matrix.org"

// validateServer rejects empty server names and names containing
// whitespace, control characters, or Matrix sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		switch c := server[i]; {
		case c <= ' ', c == 0x7f:
			return fmt.Errorf("server name %q: control or space character at position %d", server, i)
		case c == '@', c == '#', c == '!', c == '$':
			return fmt.Errorf("server name %q: sigil %q at position %d", server, c, i)
		}
	}
	return nil
}

// splitSigilID splits "<sigil>opaque:server" into its opaque part and
// server. kind names the identifier in error messages.
func splitSigilID(raw string, sigil byte, kind string) (opaque, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if raw[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", kind, sigil, raw)
	}
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, raw)
	}
	if colon == 1 {
		return "", "", fmt.Errorf("%s has empty local part: %q", kind, raw)
	}
	server = raw[colon+1:]
	if server == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", kind, raw)
	}
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("%s %q: %w", kind, raw, err)
	}
	return raw[1:colon], server, nil
}
