package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	// Magic bytes that identify our serialized format
	SerializationMagic uint32 = 0x58524644 // "XRFD"

	// Version of the serialization format
	SerializationVersion uint16 = 1

	// Type constants for serialized entities
	TypeXref uint8 = 1
	TypeLink uint8 = 2
)

// headerSize is Magic(4) + Version(2) + Type(1)
const headerSize = 7

// ErrInvalidSerializedData is returned when attempting to deserialize invalid data
var ErrInvalidSerializedData = errors.New("invalid serialized data")

// ErrUnsupportedVersion is returned when attempting to deserialize data with an unsupported version
var ErrUnsupportedVersion = errors.New("unsupported serialization version")

// ErrInvalidEntityType is returned when encountering an invalid entity type during deserialization
var ErrInvalidEntityType = errors.New("invalid entity type")

// SerializeXref serializes an Xref into a binary format
func SerializeXref(x Xref) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, TypeXref)
	if err := writeXref(&buf, x); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeXref deserializes a binary representation into an Xref
func DeserializeXref(data []byte) (Xref, error) {
	buf, err := readHeader(data, TypeXref)
	if err != nil {
		return Xref{}, err
	}
	return readXref(buf)
}

// SerializeLink serializes a Link into a binary format
func SerializeLink(l Link) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, TypeLink)
	if err := writeXref(&buf, l.From); err != nil {
		return nil, err
	}
	if err := writeXref(&buf, l.To); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeLink deserializes a binary representation into a Link
func DeserializeLink(data []byte) (Link, error) {
	buf, err := readHeader(data, TypeLink)
	if err != nil {
		return Link{}, err
	}

	from, err := readXref(buf)
	if err != nil {
		return Link{}, err
	}
	to, err := readXref(buf)
	if err != nil {
		return Link{}, err
	}
	return NewLink(from, to), nil
}

func writeHeader(buf *bytes.Buffer, entityType uint8) {
	binary.Write(buf, binary.LittleEndian, SerializationMagic)
	binary.Write(buf, binary.LittleEndian, SerializationVersion)
	binary.Write(buf, binary.LittleEndian, entityType)
}

func readHeader(data []byte, want uint8) (*bytes.Reader, error) {
	if len(data) < headerSize {
		return nil, ErrInvalidSerializedData
	}

	buf := bytes.NewReader(data)

	var magic uint32
	var version uint16
	var entityType uint8

	if err := binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != SerializationMagic {
		return nil, ErrInvalidSerializedData
	}

	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != SerializationVersion {
		return nil, ErrUnsupportedVersion
	}

	if err := binary.Read(buf, binary.LittleEndian, &entityType); err != nil {
		return nil, err
	}
	if entityType != want {
		return nil, ErrInvalidEntityType
	}

	return buf, nil
}

// writeXref writes the system code and the identifier, each with a uint16 length prefix
func writeXref(buf *bytes.Buffer, x Xref) error {
	if err := writeString(buf, "system code", x.SystemCode); err != nil {
		return err
	}
	return writeString(buf, "identifier", x.ID)
}

func readXref(buf *bytes.Reader) (Xref, error) {
	code, err := readString(buf)
	if err != nil {
		return Xref{}, err
	}
	id, err := readString(buf)
	if err != nil {
		return Xref{}, err
	}
	return Xref{ID: id, SystemCode: code}, nil
}

func writeString(buf *bytes.Buffer, field, s string) error {
	if len(s) > math.MaxUint16 {
		return ErrFieldTooLong{Field: field, Size: len(s)}
	}
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(buf *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		if err == io.EOF {
			return "", ErrInvalidSerializedData
		}
		return "", err
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		return "", ErrInvalidSerializedData
	}
	return string(b), nil
}
