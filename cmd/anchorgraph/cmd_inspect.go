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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// inspectRecord is the JSON form of one anchor.
type inspectRecord struct {
	ID      anchor.ID      `json:"id"`
	Kind    string         `json:"kind"`
	Type    string         `json:"type"`
	Version uint64         `json:"version"`
	Fields  map[string]any `json:"fields,omitempty"`
	Source  anchor.ID      `json:"source,omitempty"`
	Target  anchor.ID      `json:"target,omitempty"`
}

func newInspectCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <identity>",
		Short: "List the anchors owned by an identity's root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			root, found, err := rt.store.RootFor(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no root is bound to %q", args[0])
			}
			ids, err := rt.store.OwnedBy(ctx, root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			records := make([]inspectRecord, 0, len(ids))
			for _, id := range ids {
				a, err := rt.store.Get(ctx, id)
				if err != nil {
					return err
				}
				rec := inspectRecord{
					ID: a.ID, Kind: a.Kind.String(), Type: a.Type,
					Version: a.Version, Fields: a.Fields,
				}
				if a.IsEdge() {
					rec.Source, rec.Target = a.Source, a.Target
				}
				records = append(records, rec)
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			fmt.Fprintf(out, "root %d owns %d anchors\n", root, len(records))
			for _, r := range records {
				if r.Kind == anchor.KindEdge.String() {
					fmt.Fprintf(out, "%d\t%s\t%s\t%d -> %d\t%v\n", r.ID, r.Kind, r.Type, r.Source, r.Target, r.Fields)
					continue
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%v\n", r.ID, r.Kind, r.Type, r.Fields)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
