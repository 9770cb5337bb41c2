package proto

import (
	"encoding/json"
	"io"
)

// Decode reads one JSON envelope into v. Fields v does not declare are an
// error, so a misspelled key fails instead of falling back to a default.
// Every adapter (HTTP, gRPC, CLI) decodes through here.
func Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
