// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"fmt"
	"slices"
)

// ReceiptAPI selects how read receipts are sent.
type ReceiptAPI int

const (
	// ReceiptAPIReceipt posts to /rooms/{roomId}/receipt/m.read/{eventId}.
	ReceiptAPIReceipt ReceiptAPI = iota

	// ReceiptAPIReadMarkers posts m.fully_read and m.read together to
	// /rooms/{roomId}/read_markers.
	ReceiptAPIReadMarkers
)

func (r ReceiptAPI) String() string {
	if r == ReceiptAPIReadMarkers {
		return "read_markers"
	}
	return "receipt"
}

// Capabilities is what one connection negotiated with its homeserver.
// It is computed once per LiveClient and never re-queried.
type Capabilities struct {
	// Versions are the spec versions the server advertised.
	Versions []string

	// Receipts is the receipt API in use.
	Receipts ReceiptAPI

	// SecureChannel reports whether secure-channel initialization
	// succeeded. When false the client keeps working without it.
	SecureChannel bool
}

// negotiateReceipts prefers the combined read_markers call on servers
// that advertise any stable v1.x release.
func negotiateReceipts(versions []string) ReceiptAPI {
	if slices.ContainsFunc(versions, func(version string) bool {
		var major, minor int
		_, err := fmt.Sscanf(version, "v%d.%d", &major, &minor)
		return err == nil && major >= 1
	}) {
		return ReceiptAPIReadMarkers
	}
	return ReceiptAPIReceipt
}
