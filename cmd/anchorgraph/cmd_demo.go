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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/execctx"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/walker"
)

const reporterWalker = "reporter"

// demoRegistry registers the reporter walker: it reports every place's
// name and follows outbound edges, while each place counts its visitors.
func demoRegistry() *walker.Registry {
	reg := walker.NewRegistry()
	reg.MustRegister(
		walker.Ability{
			Name:      "count-visitor",
			OwnerKind: anchor.KindNode,
			OwnerType: "place",
			Trigger:   reporterWalker,
			Phase:     walker.Entry,
			Fn: func(ctx context.Context, h *walker.Here) error {
				visits, _ := h.Location().Fields["visits"].(int64)
				_, err := h.Update(ctx, map[string]any{"visits": visits + 1})
				return err
			},
		},
		walker.Ability{
			Name:      "report-place",
			OwnerKind: anchor.KindWalker,
			OwnerType: reporterWalker,
			Trigger:   "place",
			Phase:     walker.Entry,
			Fn: func(ctx context.Context, h *walker.Here) error {
				h.Report(h.Location().Fields["name"])
				next, err := h.Outgoing(ctx)
				if err != nil {
					return err
				}
				h.Visit(next...)
				return nil
			},
		},
	)
	return reg
}

func newDemoCmd(c *cli) *cobra.Command {
	var (
		identity string
		commit   bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Build A→B→C under a user's root and walk it with a reporter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			ec, err := rt.resolver.Resolve(ctx, identity)
			if err != nil {
				return err
			}
			defer ec.Close()

			start, err := buildChain(ctx, ec, "A", "B", "C")
			if err != nil {
				return err
			}
			res := rt.engine.Spawn(ctx, ec, start, reporterWalker, nil)
			out, err := res.JSON()
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			if res.Err != nil {
				return res.Err
			}
			if commit {
				return ec.Commit(ctx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "demo", "identity whose root owns the chain")
	cmd.Flags().BoolVar(&commit, "commit", false, "persist the chain and visit counts")
	return cmd
}

// buildChain creates one place per name, links them in order and hangs
// the first from the user's root.
func buildChain(ctx context.Context, ec *execctx.Context, names ...string) (anchor.ID, error) {
	g := ec.Graph()
	prev := ec.UserRoot()
	var first anchor.ID
	for _, name := range names {
		n, err := g.CreateNode(ctx, "place", map[string]any{"name": name})
		if err != nil {
			return 0, err
		}
		if _, err := g.Connect(ctx, prev, n.ID); err != nil {
			return 0, err
		}
		if first == 0 {
			first = n.ID
		}
		prev = n.ID
	}
	return first, nil
}

// printJSON writes data on one line, indented when w is a terminal.
func printJSON(w io.Writer, data []byte) {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		var buf bytes.Buffer
		if json.Indent(&buf, data, "", "  ") == nil {
			data = buf.Bytes()
		}
	}
	fmt.Fprintln(w, string(data))
}
