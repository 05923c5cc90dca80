// Package schema implements the frozen arrayset schema described in §3
// and validated per §4.4: element type, rank, per-axis maximum extent, a
// variable-shape flag, and the arrayset's default backend selection.
package schema

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/hangarstor/hangar/digest"
)

// DType is the element type of a dense array sample.
type DType uint8

const (
	DTypeUint8 DType = iota
	DTypeUint16
	DTypeUint32
	DTypeUint64
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeFloat32
	DTypeFloat64
	DTypeBool
)

// Size returns the byte width of one element of dt.
func (dt DType) Size() int {
	switch dt {
	case DTypeUint8, DTypeInt8, DTypeBool:
		return 1
	case DTypeUint16, DTypeInt16:
		return 2
	case DTypeUint32, DTypeInt32, DTypeFloat32:
		return 4
	case DTypeUint64, DTypeInt64, DTypeFloat64:
		return 8
	default:
		return 0
	}
}

func (dt DType) String() string {
	names := [...]string{"uint8", "uint16", "uint32", "uint64", "int8", "int16", "int32", "int64", "float32", "float64", "bool"}
	if int(dt) < len(names) {
		return names[dt]
	}
	return "unknown"
}

// MaxRank bounds tensor rank per §8 "Boundaries".
const MaxRank = 31

// Schema is a frozen description of an arrayset's samples. Schema has its
// own content digest (§3); identical schemas are shared across arraysets
// and across repositories because the digest covers only these fields.
type Schema struct {
	DType          DType
	MaxShape       []int64
	VariableShape  bool
	DefaultBackend string
	BackendOptions map[string]string
}

// Validate checks the schema's own internal consistency (not a sample
// against it — see ValidateShape).
func (s Schema) Validate() error {
	if len(s.MaxShape) == 0 {
		return fmt.Errorf("schema: rank must be >= 1")
	}
	if len(s.MaxShape) > MaxRank {
		return fmt.Errorf("schema: rank %d exceeds maximum %d", len(s.MaxShape), MaxRank)
	}
	for i, ext := range s.MaxShape {
		if ext <= 0 {
			return fmt.Errorf("schema: axis %d max extent must be positive, got %d", i, ext)
		}
	}
	if len(s.DefaultBackend) != 2 {
		return fmt.Errorf("schema: default backend code must be exactly two characters, got %q", s.DefaultBackend)
	}
	return nil
}

// ValidateShape checks a sample's runtime shape against the schema, per
// invariant §3.3: with VariableShape=false every sample must match the
// schema shape exactly; with VariableShape=true every axis must be <= the
// schema's maximum for that axis, and rank must match.
func (s Schema) ValidateShape(shape []int64) error {
	if len(shape) != len(s.MaxShape) {
		return fmt.Errorf("schema: rank mismatch: sample has %d dims, schema has %d", len(shape), len(s.MaxShape))
	}
	for i, dim := range shape {
		if s.VariableShape {
			if dim > s.MaxShape[i] {
				return fmt.Errorf("schema: axis %d extent %d exceeds schema max %d", i, dim, s.MaxShape[i])
			}
			if dim <= 0 {
				return fmt.Errorf("schema: axis %d extent must be positive, got %d", i, dim)
			}
		} else if dim != s.MaxShape[i] {
			return fmt.Errorf("schema: fixed-shape arrayset requires axis %d extent %d, got %d", i, s.MaxShape[i], dim)
		}
	}
	return nil
}

// CanonicalBytes serializes the schema deterministically: dtype tag,
// variable-shape flag, shape vector (little-endian per §4.1), backend
// code, then backend options sorted by key. Two schemas with identical
// fields produce identical bytes regardless of map iteration order.
func (s Schema) CanonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(s.DType))
	if s.VariableShape {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(s.MaxShape)))
	for _, dim := range s.MaxShape {
		_ = binary.Write(&buf, binary.LittleEndian, dim)
	}
	buf.WriteString(s.DefaultBackend)

	keys := make([]string, 0, len(s.BackendOptions))
	for k := range s.BackendOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte(0)
		buf.WriteString(s.BackendOptions[k])
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Digest returns the schema's content digest (§3 "Schema").
func (s Schema) Digest() digest.Digest {
	return digest.FromCanonicalBytes(digest.KindSchema, s.CanonicalBytes())
}

// Decode parses the bytes produced by CanonicalBytes back into a Schema,
// the inverse used when a schema is read back from schemastore.
func Decode(b []byte) (Schema, error) {
	buf := bufio.NewReader(bytes.NewReader(b))
	dtypeByte, err := buf.ReadByte()
	if err != nil {
		return Schema{}, fmt.Errorf("schema: malformed encoding: %w", err)
	}
	variableByte, err := buf.ReadByte()
	if err != nil {
		return Schema{}, fmt.Errorf("schema: malformed encoding: %w", err)
	}
	var rank int32
	if err := binary.Read(buf, binary.LittleEndian, &rank); err != nil {
		return Schema{}, fmt.Errorf("schema: malformed encoding: %w", err)
	}
	shape := make([]int64, rank)
	for i := range shape {
		if err := binary.Read(buf, binary.LittleEndian, &shape[i]); err != nil {
			return Schema{}, fmt.Errorf("schema: malformed encoding: %w", err)
		}
	}
	backendCode := make([]byte, 2)
	if _, err := io.ReadFull(buf, backendCode); err != nil {
		return Schema{}, fmt.Errorf("schema: malformed encoding: %w", err)
	}

	options := map[string]string{}
	for {
		k, err := buf.ReadString(0)
		if err == io.EOF {
			break
		}
		if err != nil {
			return Schema{}, fmt.Errorf("schema: malformed backend option key: %w", err)
		}
		v, err := buf.ReadString(0)
		if err != nil {
			return Schema{}, fmt.Errorf("schema: malformed backend option value: %w", err)
		}
		options[k[:len(k)-1]] = v[:len(v)-1]
	}
	if len(options) == 0 {
		options = nil
	}

	return Schema{
		DType:          DType(dtypeByte),
		MaxShape:       shape,
		VariableShape:  variableByte == 1,
		DefaultBackend: string(backendCode),
		BackendOptions: options,
	}, nil
}

// Equal reports whether two schemas are identical in every digested field.
func (s Schema) Equal(other Schema) bool {
	return bytes.Equal(s.CanonicalBytes(), other.CanonicalBytes())
}
