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

package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cardinalhq/shardexport/internal/logctx"
	"github.com/cardinalhq/shardexport/internal/objstore"
	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

// ddlFileName is <schema>.sql under the output path.
func (e *Exporter) ddlFileName() string {
	name := e.cfg.Schema
	if name == "" {
		name = "schema"
	}
	return filepath.Join(e.cfg.Path, e.cfg.FilenamePrefix+name+".sql")
}

// exportDDL writes the CREATE TABLE statement of every table to one file.
func (e *Exporter) exportDDL(ctx context.Context, tables []string) (string, error) {
	name := e.ddlFileName()
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriter(f)

	for _, t := range tables {
		ddl, err := e.resolver.CreateTable(ctx, t)
		if err != nil {
			_ = f.Close()
			return name, fmt.Errorf("definition of %s: %w", t, err)
		}
		if err := writeTableDDL(bw, e.dialect, t, ddl, e.cfg.DropTableIfExists); err != nil {
			_ = f.Close()
			return name, err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return name, err
	}
	if err := f.Close(); err != nil {
		return name, err
	}
	logctx.FromContext(ctx).Info("Exported table definitions",
		slog.String("file", name),
		slog.Int("tables", len(tables)))

	if e.upload != nil {
		if _, err := objstore.UploadFiles(ctx, e.upload, e.uploadCfg, []string{name}); err != nil {
			return name, err
		}
	}
	return name, nil
}

func writeTableDDL(w io.Writer, d tablemeta.Dialect, table, ddl string, drop bool) error {
	var sb strings.Builder
	sb.WriteString("-- ----------------------------\n")
	fmt.Fprintf(&sb, "-- Table structure for %s\n", d.QuoteIdent(table))
	sb.WriteString("-- ----------------------------\n")
	if drop {
		fmt.Fprintf(&sb, "DROP TABLE IF EXISTS %s;\n", d.QuoteIdent(table))
	}
	sb.WriteString(strings.TrimRight(strings.TrimSpace(ddl), ";"))
	sb.WriteString(";\n\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
