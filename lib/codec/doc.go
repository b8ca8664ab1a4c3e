// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides wave's standard CBOR encoding configuration.
//
// Tooling reports (path resolution results, memory digests, escape
// battery results) are emitted as text for humans, JSON for scripts,
// or CBOR for consumers that archive or compare them byte for byte.
// This package provides the shared CBOR encoding and decoding modes so
// every producer encodes identically. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical data
// always produces identical bytes, so two reports can be compared by
// digest.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For streams of reports:
//
//	encoder := codec.NewEncoder(os.Stdout)
//
// # Struct Tag Rules
//
// Report types carry `json` tags only. fxamacker/cbor v2 reads `json`
// tags as fallback when `cbor` tags are absent, so a single tag
// controls field naming and omitempty for both formats. Never put both
// tags on one field.
package codec
