// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGCCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Reclaim anchors unreachable from every root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.store.Collect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "roots=%d scanned=%d marked=%d swept=%d skipped=%d duration=%s\n",
				res.Roots, res.Scanned, res.Marked, res.Swept, res.Skipped, res.Duration)
			return nil
		},
	}
}
