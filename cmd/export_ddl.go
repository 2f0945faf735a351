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
	"github.com/spf13/cobra"

	"github.com/cardinalhq/shardexport/config"
	"github.com/cardinalhq/shardexport/internal/export"
)

var (
	ddlTables    []string
	ddlDropTable bool
)

var exportDDLCmd = &cobra.Command{
	Use:   "export-ddl",
	Short: "Write CREATE TABLE statements for the schema",
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg.Export.DDL = export.DDLOnly.String()
		if c.Flags().Changed("table") {
			cfg.Export.Tables = ddlTables
		}
		if c.Flags().Changed("drop-table") {
			cfg.Export.DropTableIfExists = ddlDropTable
		}
		return runExport(c, "export-ddl", cfg)
	},
}

func init() {
	exportDDLCmd.Flags().StringSliceVarP(&ddlTables, "table", "t", nil, "tables to include (default: every table in the schema)")
	exportDDLCmd.Flags().BoolVar(&ddlDropTable, "drop-table", false, "precede each statement with DROP TABLE IF EXISTS")
	rootCmd.AddCommand(exportDDLCmd)
}
