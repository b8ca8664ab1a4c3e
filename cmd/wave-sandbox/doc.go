// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Wave-sandbox exercises the wave translation layer from the command
// line. It resolves sandbox paths against a host root exactly as a
// guest's path_open would, lays out guest arguments and environment in
// a fresh linear memory and reports its digest, validates the host
// environment, and runs the escape detection battery.
package main
