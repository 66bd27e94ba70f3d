// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

var (
	anchorPrefix   = []byte("a/")
	ownerPrefix    = []byte("o/")
	identityPrefix = []byte("u/")
	sequenceKey    = []byte("seq/anchor")
)

func anchorKey(id anchor.ID) []byte {
	k := make([]byte, len(anchorPrefix)+8)
	copy(k, anchorPrefix)
	binary.BigEndian.PutUint64(k[len(anchorPrefix):], uint64(id))
	return k
}

// ownerRootPrefix is the prefix of every owner index key of root.
func ownerRootPrefix(root anchor.ID) []byte {
	k := make([]byte, len(ownerPrefix)+9)
	copy(k, ownerPrefix)
	binary.BigEndian.PutUint64(k[len(ownerPrefix):], uint64(root))
	k[len(k)-1] = '/'
	return k
}

func ownerKey(root, id anchor.ID) []byte {
	p := ownerRootPrefix(root)
	k := make([]byte, len(p)+8)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], uint64(id))
	return k
}

func identityKey(identity string) []byte {
	return append(append([]byte(nil), identityPrefix...), identity...)
}

// idFromSuffix reads the trailing 8 bytes of an anchor or owner key.
func idFromSuffix(key []byte) (anchor.ID, error) {
	if len(key) < 8 {
		return 0, fmt.Errorf("key %q too short: %w", key, anchor.ErrCorrupted)
	}
	return anchor.ID(binary.BigEndian.Uint64(key[len(key)-8:])), nil
}

func encodeID(id anchor.ID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func decodeID(b []byte) (anchor.ID, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("id value of %d bytes: %w", len(b), anchor.ErrCorrupted)
	}
	return anchor.ID(binary.BigEndian.Uint64(b)), nil
}
