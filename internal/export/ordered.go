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
	"context"

	"github.com/cardinalhq/shardexport/internal/filewriter"
)

// dbOrderConsumer lets the database sort: one ordered query on the logical
// table, written serially.
type dbOrderConsumer struct{}

func (dbOrderConsumer) consume(ctx context.Context, j *tableJob) ([]filewriter.Result, error) {
	r := j.readers[0]
	sctx := j.shardContext(ctx, r)
	files, err := j.exportShard(sctx, r, j.base, j.lineLimit)
	if err != nil {
		j.fail(sctx, r, err)
	}
	return files, nil
}
