// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build wavedebug

package sandbox

// debugAssertions enables runtime checks of caller contracts (for
// example, that TranslateIov only sees validated vectors). Build with
// -tags wavedebug.
const debugAssertions = true
