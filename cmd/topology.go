// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/shardexport/config"
	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

var topologyCmd = &cobra.Command{
	Use:   "topology <table>",
	Short: "Show the physical shards of a logical table",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		ctx, cancel := handleSignals(context.Background())
		defer cancel()

		src, err := openSource(ctx, cfg.Source)
		if err != nil {
			return err
		}
		defer src.Close()

		return describeTopology(ctx, c.OutOrStdout(), src.resolver, cfg.Export.Schema, args[0])
	},
}

func init() {
	rootCmd.AddCommand(topologyCmd)
}

// describeTopology prints the shard list of table followed by its broadcast
// flag, row count and columns.
func describeTopology(ctx context.Context, w io.Writer, resolver tablemeta.Resolver, schema, tableName string) error {
	shards, err := resolver.ListShards(ctx, schema, tableName)
	if err != nil {
		return fmt.Errorf("list shards: %w", err)
	}
	broadcast, err := resolver.IsBroadcast(ctx, tableName)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	rows, err := resolver.RowCount(ctx, tableName)
	if err != nil {
		return fmt.Errorf("row count: %w", err)
	}
	fields, err := resolver.Fields(ctx, schema, tableName, nil)
	if err != nil {
		return fmt.Errorf("fields: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"#", "group", "physical table"})
	for i, s := range shards {
		group := s.GroupName
		if group == "" {
			group = "-"
		}
		t.AppendRow(table.Row{i, group, s.TableName})
	}
	t.Render()

	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name + " " + f.Type.String()
	}
	fmt.Fprintf(w, "table:     %s\n", tableName)
	fmt.Fprintf(w, "shards:    %d\n", len(shards))
	fmt.Fprintf(w, "broadcast: %t\n", broadcast)
	fmt.Fprintf(w, "rows:      %d\n", rows)
	fmt.Fprintf(w, "columns:   %s\n", strings.Join(cols, ", "))
	return nil
}
