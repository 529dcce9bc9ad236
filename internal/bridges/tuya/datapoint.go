package tuya

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DatapointID identifies one addressable property of a Tuya device (dpId).
type DatapointID uint8

// DatapointType is the Tuya datapoint type code as carried on the wire.
type DatapointType uint8

// Tuya datapoint type codes.
const (
	TypeRaw     DatapointType = 0x00
	TypeBoolean DatapointType = 0x01
	TypeInteger DatapointType = 0x02
	TypeString  DatapointType = 0x03
	TypeEnum    DatapointType = 0x04
	TypeBitmask DatapointType = 0x05
)

// typeNames maps type codes to their JSON names.
var typeNames = map[DatapointType]string{
	TypeRaw:     "raw",
	TypeBoolean: "boolean",
	TypeInteger: "integer",
	TypeString:  "string",
	TypeEnum:    "enum",
	TypeBitmask: "bitmask",
}

// String returns the JSON name of the type.
func (t DatapointType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// Supported reports whether the bridge can encode and decode this type.
func (t DatapointType) Supported() bool {
	return t == TypeBoolean || t == TypeInteger
}

// ParseDatapointType converts a JSON type name into a DatapointType.
// "bool" and "value" (the Tuya cloud name for integer) are accepted as aliases.
func ParseDatapointType(s string) (DatapointType, error) {
	switch s {
	case "boolean", "bool":
		return TypeBoolean, nil
	case "integer", "value":
		return TypeInteger, nil
	}
	for t, name := range typeNames {
		if name == s {
			return t, fmt.Errorf("%w: %s", ErrUnsupportedType, s)
		}
	}
	return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidDatapoint, s)
}

// Datapoint is a single typed datapoint value.
// Only the field matching Type is meaningful.
type Datapoint struct {
	ID   DatapointID
	Type DatapointType
	Bool bool
	Int  int32
}

// BooleanDatapoint returns a BOOLEAN datapoint.
func BooleanDatapoint(id DatapointID, v bool) Datapoint {
	return Datapoint{ID: id, Type: TypeBoolean, Bool: v}
}

// IntegerDatapoint returns an INTEGER datapoint.
func IntegerDatapoint(id DatapointID, v int32) Datapoint {
	return Datapoint{ID: id, Type: TypeInteger, Int: v}
}

// Value returns the datapoint value as a bool or int32.
func (d Datapoint) Value() any {
	if d.Type == TypeBoolean {
		return d.Bool
	}
	return d.Int
}

// NumericValue returns the value as an int64 (booleans map to 0/1).
// Used for storage and telemetry.
func (d Datapoint) NumericValue() int64 {
	if d.Type == TypeBoolean {
		if d.Bool {
			return 1
		}
		return 0
	}
	return int64(d.Int)
}

// String returns a compact representation, e.g. "dp1:integer=505".
func (d Datapoint) String() string {
	return fmt.Sprintf("dp%d:%s=%v", d.ID, d.Type, d.Value())
}

// datapointJSON is the wire form used on the device transport.
type datapointJSON struct {
	ID    DatapointID     `json:"id"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the datapoint as {"id":1,"type":"integer","value":505}.
func (d Datapoint) MarshalJSON() ([]byte, error) {
	if !d.Type.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, d.Type)
	}

	value, err := json.Marshal(d.Value())
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}

	return json.Marshal(datapointJSON{
		ID:    d.ID,
		Type:  d.Type.String(),
		Value: value,
	})
}

// UnmarshalJSON decodes the wire form. Integer values outside the int32
// range are rejected; unsupported types return ErrUnsupportedType.
func (d *Datapoint) UnmarshalJSON(data []byte) error {
	var raw datapointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDatapoint, err)
	}

	typ, err := ParseDatapointType(raw.Type)
	if err != nil {
		return err
	}

	out := Datapoint{ID: raw.ID, Type: typ}
	switch typ {
	case TypeBoolean:
		if err := json.Unmarshal(raw.Value, &out.Bool); err != nil {
			return fmt.Errorf("%w: dp%d boolean value: %w", ErrInvalidDatapoint, raw.ID, err)
		}
	case TypeInteger:
		var n float64
		if err := json.Unmarshal(raw.Value, &n); err != nil {
			return fmt.Errorf("%w: dp%d integer value: %w", ErrInvalidDatapoint, raw.ID, err)
		}
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("%w: dp%d value %v is not a 32-bit integer", ErrInvalidDatapoint, raw.ID, n)
		}
		out.Int = int32(n)
	}

	*d = out
	return nil
}

// OptionalID is a datapoint id that may be absent from the configuration.
// The zero value is "not set".
type OptionalID struct {
	id  DatapointID
	set bool
}

// SomeID returns an OptionalID holding id.
func SomeID(id DatapointID) OptionalID {
	return OptionalID{id: id, set: true}
}

// Get returns the id and whether it is set.
func (o OptionalID) Get() (DatapointID, bool) {
	return o.id, o.set
}

// IsSet reports whether the id is configured.
func (o OptionalID) IsSet() bool {
	return o.set
}

// Is reports whether the id is configured and equal to id.
func (o OptionalID) Is(id DatapointID) bool {
	return o.set && o.id == id
}

// String returns the id, or "none" when unset.
func (o OptionalID) String() string {
	if !o.set {
		return "none"
	}
	return strconv.Itoa(int(o.id))
}

// UnmarshalYAML decodes an optional id from a plain integer.
// A missing key leaves the id unset.
func (o *OptionalID) UnmarshalYAML(unmarshal func(any) error) error {
	var n int
	if err := unmarshal(&n); err != nil {
		return fmt.Errorf("datapoint id: %w", err)
	}
	if n < 0 || n > math.MaxUint8 {
		return fmt.Errorf("datapoint id %d out of range 0-255", n)
	}
	*o = SomeID(DatapointID(n))
	return nil
}

// MarshalJSON encodes the id as a number, or null when unset.
func (o OptionalID) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.id)
}
