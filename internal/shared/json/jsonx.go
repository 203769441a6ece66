package jsonx

import "github.com/goccy/go-json"

// Thin wrapper so the wire codec and HTTP handlers share one JSON implementation.
var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewDecoder = json.NewDecoder
	NewEncoder = json.NewEncoder
	Valid      = json.Valid
)

type RawMessage = json.RawMessage

// UnmarshalTypeError is returned when a JSON value does not fit the target type.
type UnmarshalTypeError = json.UnmarshalTypeError
