// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anchor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"
)

// crcTable matches the journal's Castagnoli framing.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// recordHeaderLen is the size of the CRC prefix.
const recordHeaderLen = 4

// Encode serializes an anchor into a checksummed record.
//
// Description:
//
//	The record is crc32c(payload) as 4 big-endian bytes followed by the
//	msgpack payload. The same record is stored in the persistent tier and in
//	shared caches, so a corrupted cache value is detected the same way as a
//	corrupted disk value.
//
// Inputs:
//
//	a - The anchor to encode. Must not be nil.
//
// Outputs:
//
//	[]byte - The record.
//	error - Non-nil if a field value cannot be encoded.
func Encode(a *Anchor) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("encode: %w", ErrKindMismatch)
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, recordHeaderLen))
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("encode anchor %d: %w", a.ID, err)
	}

	out := buf.Bytes()
	binary.BigEndian.PutUint32(out[:recordHeaderLen], crc32.Checksum(out[recordHeaderLen:], crcTable))
	return out, nil
}

// Decode parses a record produced by Encode.
//
// Outputs:
//
//	*Anchor - The decoded anchor with canonical field values.
//	error - Wraps ErrCorrupted on checksum or decode failure.
func Decode(record []byte) (*Anchor, error) {
	if len(record) < recordHeaderLen {
		return nil, fmt.Errorf("record of %d bytes: %w", len(record), ErrCorrupted)
	}
	payload := record[recordHeaderLen:]
	want := binary.BigEndian.Uint32(record[:recordHeaderLen])
	if got := crc32.Checksum(payload, crcTable); got != want {
		return nil, fmt.Errorf("crc %08x != %08x: %w", got, want, ErrCorrupted)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)

	var a Anchor
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, ErrCorrupted)
	}
	if a.Fields == nil {
		a.Fields = map[string]any{}
	}
	return &a, nil
}
