// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// DeviceID is the opaque device identifier the homeserver assigns at
// login. It has no internal structure to validate; the type only keeps
// it from being mixed up with other strings.
type DeviceID struct {
	id string
}

// NewDeviceID wraps a raw device ID. Empty input yields the zero value.
func NewDeviceID(raw string) DeviceID { return DeviceID{id: raw} }

func (d DeviceID) String() string { return d.id }

// IsZero reports whether the DeviceID is unset.
func (d DeviceID) IsZero() bool { return d.id == "" }

func (d DeviceID) MarshalText() ([]byte, error) { return []byte(d.id), nil }

func (d *DeviceID) UnmarshalText(data []byte) error {
	*d = DeviceID{id: string(data)}
	return nil
}
