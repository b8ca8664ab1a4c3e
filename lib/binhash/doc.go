// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides BLAKE3 content digests of sandbox linear
// memory.
//
// Wave digests linear memory to prove that a rejected translation left
// memory untouched: the escape battery hashes the region before and
// after each attack, and `wave-sandbox memory digest` prints the digest
// of a freshly populated region so two hosts can compare layouts.
// Digests use BLAKE3 keyed mode with a fixed memory-domain key so they
// never collide with unkeyed BLAKE3 hashes of the same bytes.
//
// The API surface is three functions:
//
//   - [HashMemory] -- hashes a byte region, returning a [Digest]
//   - [FormatDigest] -- converts a [Digest] to its canonical
//     hex-encoded string representation
//   - [ParseDigest] -- parses a hex-encoded digest string back to a
//     [Digest], validating length and encoding
//
// This package has no dependencies on other wave packages.
package binhash
