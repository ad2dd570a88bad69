package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/qmeta"
	"github.com/qserv/qserv/internal/spatial"
)

// PostgresCatalog is the production Catalog implementation, following the
// teacher's internal/storage/postgres_repository.go pattern: a mutex-free
// *sql.DB (database/sql already pools and serializes connections), plain
// SQL against a fixed schema, context-aware throughout.
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog opens a catalog connection against an existing
// database handle, matching the teacher's constructor shape of taking an
// already-opened *sql.DB rather than a DSN (migrations and connection
// lifecycle are the caller's responsibility, per internal/storage).
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Table(ctx context.Context, db, name string) (qmeta.Table, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT kind, ra_column, dec_column, pk_column,
		       director_db, director_table, fk_column,
		       director1_db, director1_table, director2_db, director2_table, partitioning_id,
		       num_stripes, num_substripes, overlap_deg
		FROM qserv_tables WHERE database = $1 AND name = $2`, db, name)

	var t qmeta.Table
	t.Database, t.Name = db, name
	var kind string
	var striping spatial.StripingParams
	if err := row.Scan(&kind, &t.RAColumn, &t.DecColumn, &t.PKColumn,
		&t.DirectorDB, &t.DirectorTable, &t.FKColumn,
		&t.Director1DB, &t.Director1Table, &t.Director2DB, &t.Director2Table, &t.PartitioningID,
		&striping.NumStripes, &striping.NumSubStripesPerStripe, &striping.OverlapDegrees); err != nil {
		return qmeta.Table{}, errors.NewCatalogError(db+"."+name, err)
	}
	t.Kind = qmeta.Kind(kind)
	t.Striping = striping
	return t, t.Validate()
}

func (c *PostgresCatalog) Chunks(ctx context.Context, db, table string) ([]int32, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT chunk_id FROM qserv_chunk_assignment WHERE database = $1 AND table_name = $2 ORDER BY chunk_id`,
		db, table)
	if err != nil {
		return nil, errors.NewCatalogError(db+"."+table, err)
	}
	defer rows.Close()

	var chunks []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewCatalogError(db+"."+table, err)
		}
		chunks = append(chunks, id)
	}
	return chunks, rows.Err()
}

func (c *PostgresCatalog) CheckConnectivity(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog database unreachable: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}
