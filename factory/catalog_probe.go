package factory

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lychee-technology/cubeengine"
	"github.com/lychee-technology/cubeengine/internal/dialect"
	"github.com/lychee-technology/cubeengine/internal/explainer"
)

// ProbePostgresIndexes opens a standalone database/sql connection through
// lib/pq — distinct from the pgxpool an Engine runs queries through — and
// reads the index catalog for tableNames. It gives an index inventory
// without standing up a full Engine and CubeRegistry (cmd/explain does not
// use it; it goes through Engine.TableIndexes), mirroring forma's pattern of a lightweight,
// independent connection for catalog/health probing.
func ProbePostgresIndexes(ctx context.Context, dsn string, tableNames []string) ([]cubeengine.IndexInfo, error) {
	adapter, err := dialect.New(dialect.Postgres)
	if err != nil {
		return nil, err
	}

	sqlText, params, err := explainer.TableIndexesQuery(adapter, tableNames)
	if err != nil {
		return nil, fmt.Errorf("factory: build index catalog query: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("factory: open postgres catalog connection: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("factory: ping postgres catalog connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("factory: query index catalog: %w", err)
	}
	defer rows.Close()

	return scanIndexRows(rows)
}

func scanIndexRows(rows *sql.Rows) ([]cubeengine.IndexInfo, error) {
	byKey := make(map[string]*cubeengine.IndexInfo)
	var order []string

	for rows.Next() {
		var tableName, indexName string
		var isUnique, isPrimary bool
		if err := rows.Scan(&tableName, &indexName, &isUnique, &isPrimary); err != nil {
			return nil, fmt.Errorf("factory: scan index row: %w", err)
		}

		key := tableName + "." + indexName
		info, ok := byKey[key]
		if !ok {
			info = &cubeengine.IndexInfo{TableName: tableName, IndexName: indexName}
			byKey[key] = info
			order = append(order, key)
		}
		info.Unique = isUnique
		info.Primary = isPrimary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("factory: read index rows: %w", err)
	}

	out := make([]cubeengine.IndexInfo, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out, nil
}
