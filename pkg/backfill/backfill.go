// SPDX-License-Identifier: Apache-2.0

package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/reshapedb/reshape/pkg/db"
)

// CallbackFn is invoked after each batch with the running total of rows
// touched and, where known, the table's estimated total row count.
type CallbackFn func(done, total int64)

// BatchTouchRows advances every row of realTable through a no-op UPDATE,
// in keyset-paged batches ordered by the table's primary key, until a
// batch returns no rows. The no-op UPDATE fires every BEFORE INSERT/UPDATE
// trigger installed on the table, which is how an action drives its
// dual-schema translation triggers across rows that already existed when
// the migration started (spec §4.5).
//
// touchedCol, if non-empty, is the column set to itself; otherwise the
// first primary key column is used. Either way the value doesn't change:
// the UPDATE exists purely to re-run the table's triggers.
func BatchTouchRows(ctx context.Context, conn db.DB, realTable, touchedCol string, cfg *Config) error {
	if cfg == nil {
		cfg = NewConfig()
	}

	pk, err := primaryKeyColumns(ctx, conn, realTable)
	if err != nil {
		return err
	}
	if len(pk) == 0 {
		return NoPrimaryKeyError{Table: realTable}
	}

	touched := touchedCol
	if touched == "" {
		touched = pk[0]
	}

	total, err := estimateRowCount(ctx, conn, realTable)
	if err != nil {
		return fmt.Errorf("estimating row count of %q: %w", realTable, err)
	}

	var cursor []any
	var done int64
	for {
		for _, cb := range cfg.callbacks {
			cb(done, total)
		}

		next, batchLen, err := touchBatch(ctx, conn, realTable, touched, pk, cursor, cfg.batchSize)
		if err != nil {
			return fmt.Errorf("backfilling %q: %w", realTable, err)
		}
		if batchLen == 0 {
			break
		}
		cursor = next
		done += int64(batchLen)

		if cfg.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.batchDelay):
			}
		}
	}

	for _, cb := range cfg.callbacks {
		cb(done, total)
	}
	return nil
}

// touchBatch runs one page of the keyset sweep and returns the primary
// key values of the last row touched (the cursor for the next page) along
// with how many rows were touched.
func touchBatch(ctx context.Context, conn db.DB, table, touchedCol string, pk []string, cursor []any, batchSize int) ([]any, int, error) {
	quotedPK := make([]string, len(pk))
	for i, c := range pk {
		quotedPK[i] = pq.QuoteIdentifier(c)
	}
	pkList := strings.Join(quotedPK, ", ")

	joinCond := make([]string, len(pk))
	for i, c := range quotedPK {
		joinCond[i] = fmt.Sprintf("t.%s = rows.%s", c, c)
	}

	where := ""
	placeholders := make([]string, len(pk))
	args := make([]any, len(cursor))
	if len(cursor) > 0 {
		for i := range pk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		where = fmt.Sprintf("WHERE (%s) > (%s)", pkList, strings.Join(placeholders, ", "))
		copy(args, cursor)
	}

	// rows.* returns the full PK tuple of each row touched this batch, in
	// ascending key order, so the last one scanned is the next cursor.
	rows, err := conn.QueryWithParams(ctx, fmt.Sprintf(`
		WITH rows AS (
			SELECT %[1]s FROM %[2]s %[3]s ORDER BY %[1]s LIMIT %[4]d
		), touched AS (
			UPDATE %[2]s t SET %[5]s = t.%[5]s FROM rows
			WHERE %[6]s
			RETURNING rows.*
		)
		SELECT * FROM touched ORDER BY %[1]s
	`,
		pkList,
		pq.QuoteIdentifier(table),
		where,
		batchSize,
		pq.QuoteIdentifier(touchedCol),
		strings.Join(joinCond, " AND "),
	), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var last []any
	count := 0
	for rows.Next() {
		dest := make([]any, len(pk))
		ptrs := make([]any, len(pk))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, err
		}
		last = dest
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return last, count, nil
}

// primaryKeyColumns returns the primary key columns of table, in key
// order, using pg_index directly rather than information_schema so it
// works uniformly regardless of constraint naming.
func primaryKeyColumns(ctx context.Context, conn db.DB, table string) ([]string, error) {
	rows, err := conn.QueryWithParams(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)
	`, table)
	if err != nil {
		return nil, fmt.Errorf("reading primary key of %q: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// estimateRowCount returns pg_stat_user_tables' live-tuple estimate for
// table, falling back to a full count if the estimate is zero (e.g. right
// after the table was created, before autovacuum has run).
func estimateRowCount(ctx context.Context, conn db.DB, table string) (int64, error) {
	rows, err := conn.QueryWithParams(ctx, `
		SELECT n_live_tup FROM pg_stat_user_tables
		WHERE schemaname = 'public' AND relname = $1
	`, table)
	if err != nil {
		return 0, err
	}
	var estimate int64
	if err := db.ScanFirstValue(rows, &estimate); err != nil {
		return 0, err
	}
	if estimate > 0 {
		return estimate, nil
	}

	rows, err = conn.Query(ctx, fmt.Sprintf("SELECT count(*) FROM %s", pq.QuoteIdentifier(table)))
	if err != nil {
		return 0, err
	}
	var total int64
	if err := db.ScanFirstValue(rows, &total); err != nil {
		return 0, err
	}
	return total, nil
}
