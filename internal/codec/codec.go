// Package codec defines how session data crosses the persistence boundary.
// A session is held in memory as map[string]any while a request runs and is
// serialized to bytes only when it is written to a storage backend.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Serializer marshals and unmarshals session payloads.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is a Serializer backed by encoding/json. Numbers decode as float64.
type JSON struct{}

// Marshal wraps json.Marshal.
func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal wraps json.Unmarshal.
func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ Serializer = JSON{}

// cborDecMode decodes CBOR maps into map[string]any rather than the library
// default map[any]any so nested session values stay JSON-compatible.
var cborDecMode = mustDecMode(cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]any(nil)),
})

// cborEncMode sorts map keys so unchanged data always encodes to the same
// bytes.
var cborEncMode = mustEncMode(cbor.CoreDetEncOptions())

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor decode options: %v", err))
	}
	return dm
}

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor encode options: %v", err))
	}
	return em
}

// CBOR is a Serializer backed by fxamacker/cbor. Unsigned integers decode as
// uint64 and negative ones as int64.
type CBOR struct{}

// Marshal encodes v in core deterministic form.
func (CBOR) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes data with string-keyed maps.
func (CBOR) Unmarshal(data []byte, v any) error {
	return cborDecMode.Unmarshal(data, v)
}

var _ Serializer = CBOR{}

// ByName returns the Serializer registered under name ("json" or "cbor").
func ByName(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown serializer %q", name)
	}
}

// EncodeValues serializes a session map.
func EncodeValues(s Serializer, values map[string]any) ([]byte, error) {
	if values == nil {
		values = map[string]any{}
	}
	data, err := s.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("codec: encode values: %w", err)
	}
	return data, nil
}

// DecodeValues deserializes a session map. Empty input yields an empty map.
func DecodeValues(s Serializer, data []byte) (map[string]any, error) {
	values := make(map[string]any)
	if len(data) == 0 {
		return values, nil
	}
	if err := s.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("codec: decode values: %w", err)
	}
	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}
