package proxy

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"

	"delta-mirror/chunk"
	"delta-mirror/config"
	"delta-mirror/logger"
	"delta-mirror/multifile"
	"delta-mirror/scan"
)

// LoadTables scans every configured table into DuckDB, replacing earlier
// copies.
func (p *DuckDBProxy) LoadTables(ctx context.Context) error {
	for _, t := range p.config.Tables {
		if err := p.LoadTable(ctx, t); err != nil {
			return fmt.Errorf("loading table %s: %w", t.Name, err)
		}
	}
	return nil
}

// LoadTable scans one Delta table and appends its rows to a DuckDB table
// of the same name.
func (p *DuckDBProxy) LoadTable(ctx context.Context, t config.Table) error {
	start := time.Now()
	ts, err := p.scanner.Prepare(ctx, scan.Request{Path: t.Path, Version: t.Version})
	if err != nil {
		return err
	}
	defer ts.Close()

	ddl, err := createTableSQL(t.Name, ts.Columns())
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating table: %w", err)
	}

	conn, err := p.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to duckdb: %w", err)
	}
	defer conn.Close()

	appender, err := duckdb.NewAppenderFromConn(conn, "", t.Name)
	if err != nil {
		return fmt.Errorf("creating appender: %w", err)
	}

	rows := 0
	err = ts.Run(ctx, func(c *chunk.Chunk) error {
		args := make([]driver.Value, c.ColumnCount())
		for i := 0; i < c.Size(); i++ {
			for col, vec := range c.Data {
				args[col] = vec.Values[i].Interface()
			}
			if err := appender.AppendRow(args...); err != nil {
				return fmt.Errorf("appending row: %w", err)
			}
		}
		rows += c.Size()
		return nil
	})
	if closeErr := appender.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("flushing appender: %w", closeErr)
	}
	if err != nil {
		return err
	}

	version, _ := ts.Files().Version()
	logger.Info("loaded delta table", "table", t.Name, "path", t.Path, "version", version, "rows", rows, "duration", time.Since(start))
	return nil
}

func createTableSQL(name string, cols []multifile.Column) (string, error) {
	defs := make([]string, len(cols))
	for i, c := range cols {
		if c.Type == chunk.Invalid {
			return "", fmt.Errorf("column %s has no DuckDB type", c.Name)
		}
		defs[i] = quoteIdent(c.Name) + " " + c.Type.String()
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", ")), nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
