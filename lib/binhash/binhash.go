// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest.
type Digest [32]byte

// memoryDomainKey separates linear memory digests from any other use
// of BLAKE3 on the same bytes. It is the ASCII domain name, zero-padded
// to 32 bytes. Changing it invalidates every recorded digest.
var memoryDomainKey = [32]byte{
	'w', 'a', 'v', 'e', '.', 'l', 'i', 'n', 'e', 'a', 'r', '-', 'm', 'e', 'm', 'o',
	'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// hashChunkSize bounds each Write to the hasher so that hashing a
// multi-gigabyte region does not hand blake3 one enormous slice.
const hashChunkSize = 1 << 20

// HashMemory computes the memory-domain BLAKE3 keyed hash of data.
func HashMemory(data []byte) Digest {
	hasher, err := blake3.NewKeyed(memoryDomainKey[:])
	if err != nil {
		panic("binhash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for len(data) > 0 {
		chunk := min(len(data), hashChunkSize)
		hasher.Write(data[:chunk])
		data = data[chunk:]
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// FormatDigest returns the hex-encoded string representation of a
// digest. This is the canonical format used in CLI output and log
// attributes.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// String implements fmt.Stringer using FormatDigest.
func (d Digest) String() string {
	return FormatDigest(d)
}

// MarshalText encodes the digest as lowercase hex, so JSON and CBOR
// reports carry it as a string.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(FormatDigest(d)), nil
}

// UnmarshalText is the inverse of MarshalText.
func (d *Digest) UnmarshalText(text []byte) error {
	digest, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = digest
	return nil
}

// ParseDigest parses a hex-encoded digest string. Returns an error if
// the string is not a valid 64-character hex encoding of 32 bytes.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing hash digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("hash digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}
