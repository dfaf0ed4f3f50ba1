package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Question represents a DNS question section entry (RFC 1035 Section 4.1.2).
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Marshal serializes the question to DNS wire format.
func (q Question) Marshal() ([]byte, error) {
	name, err := EncodeName(q.Name)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(name)+4)
	b = append(b, name...)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], q.Type)
	binary.BigEndian.PutUint16(buf[2:4], q.Class)
	b = append(b, buf...)
	return b, nil
}

// ParseQuestion parses a question from msg at *off, normalizing the name
// to lowercase for case-insensitive comparisons.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	start := *off
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if containsCompressionPointer(msg[start:*off]) {
		return Question{}, fmt.Errorf("%w: QNAME must not use compression pointers in a query", ErrWireFormat)
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: unexpected EOF while reading DNS question", ErrWireFormat)
	}
	q := Question{
		Name:  NormalizeName(name),
		Type:  binary.BigEndian.Uint16(msg[*off : *off+2]),
		Class: binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
	}
	*off += 4
	return q, nil
}

// containsCompressionPointer scans an already-consumed name encoding for a
// compression pointer byte (high two bits 11), used to enforce spec.md
// §4.4's "no name-compression pointers in QNAME" rule for incoming queries.
func containsCompressionPointer(encoded []byte) bool {
	i := 0
	for i < len(encoded) {
		b := encoded[i]
		if b == 0 {
			return false
		}
		if isCompressionPointer(b) {
			return true
		}
		i += 1 + int(b)
	}
	return false
}
