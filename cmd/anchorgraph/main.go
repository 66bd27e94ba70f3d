// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command anchorgraph runs and inspects an anchorgraph store.
//
// Usage:
//
//	anchorgraph serve              run the admin server, cache sweeper and collector
//	anchorgraph inspect <identity> list the anchors a user's root owns
//	anchorgraph gc                 run one reachability collection
//	anchorgraph demo               build A→B→C and walk it
//
// The configuration file is read from --config or ANCHORGRAPH_CONFIG.
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
