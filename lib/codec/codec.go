// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is parley's binary encoding for on-disk state (the sync
// snapshot cache): deterministic CBOR via fxamacker/cbor.
//
// Types that implement encoding.TextMarshaler (the lib/ref identifiers)
// encode as CBOR text strings, and values decoded into interface
// targets use map[string]any so event content stays interchangeable
// with encoding/json output.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encoder cbor.EncMode
	decoder cbor.DecMode
)

func init() {
	encodeOptions := cbor.CoreDetEncOptions()
	encodeOptions.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	encoder, err = encodeOptions.EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}

	decoder, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) { return encoder.Marshal(v) }

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error { return decoder.Unmarshal(data, v) }
