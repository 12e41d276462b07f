package proxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/marcboeker/go-duckdb"

	"delta-mirror/config"
	"delta-mirror/logger"
	"delta-mirror/scan"
)

// DuckDBProxy serves the configured Delta tables from an in-process DuckDB
// over the Postgres wire protocol.
type DuckDBProxy struct {
	config    *config.Config
	scanner   *scan.Scanner
	connector *duckdb.Connector
	db        *sql.DB
	listener  net.Listener
	typeMap   *pgtype.Map
}

func NewDuckDBProxy(cfg *config.Config, scanner *scan.Scanner) (*DuckDBProxy, error) {
	connector, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	db := sql.OpenDB(connector)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Proxy.Port))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating listener: %w", err)
	}

	return &DuckDBProxy{
		config:    cfg,
		scanner:   scanner,
		connector: connector,
		db:        db,
		listener:  listener,
		typeMap:   pgtype.NewMap(),
	}, nil
}

// Addr is the address the proxy listens on.
func (p *DuckDBProxy) Addr() net.Addr {
	return p.listener.Addr()
}

// Start accepts connections until ctx is cancelled.
func (p *DuckDBProxy) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()
	logger.Info("proxy listening", "addr", p.listener.Addr().String())

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accepting connection", "error", err)
			continue
		}

		go p.handleConnection(ctx, conn)
	}
}

// Close stops listening and closes the database.
func (p *DuckDBProxy) Close() error {
	err := p.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return errors.Join(err, p.db.Close())
}

func (p *DuckDBProxy) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	backend := pgproto3.NewBackend(conn, conn)
	if err := p.startup(backend, conn); err != nil {
		logger.Debug("connection startup failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.Query:
			if err := p.handleQuery(ctx, backend, msg.String); err != nil {
				p.sendError(backend, err)
				continue
			}

		case *pgproto3.Terminate:
			return
		}
	}
}

// startup answers SSL requests with a refusal and accepts any startup
// message without authentication.
func (p *DuckDBProxy) startup(backend *pgproto3.Backend, conn net.Conn) error {
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *pgproto3.SSLRequest:
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return err
			}
			continue
		case *pgproto3.StartupMessage:
			backend.Send(&pgproto3.AuthenticationOk{})
			backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.0"})
			backend.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
			backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			return backend.Flush()
		default:
			return fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

func (p *DuckDBProxy) handleQuery(ctx context.Context, backend *pgproto3.Backend, query string) error {
	if strings.TrimSpace(query) == "" {
		backend.Send(&pgproto3.EmptyQueryResponse{})
		backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		return backend.Flush()
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return err
	}

	oids := make([]uint32, len(columnTypes))
	for i, col := range columnTypes {
		oids[i] = mapDataTypeToOID(col.DatabaseTypeName())
	}
	if len(columnTypes) > 0 {
		p.sendRowDescription(backend, columnTypes, oids)
	}

	values := make([]interface{}, len(columnTypes))
	scanArgs := make([]interface{}, len(columnTypes))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}

		dataRow := &pgproto3.DataRow{
			Values: make([][]byte, len(columnTypes)),
		}
		for i, val := range values {
			dataRow.Values[i] = p.encodeText(oids[i], val)
		}

		backend.Send(dataRow)
		count++
	}

	if err := rows.Err(); err != nil {
		return err
	}

	backend.Send(&pgproto3.CommandComplete{CommandTag: commandTag(query, count)})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return backend.Flush()
}

// encodeText renders a value in the Postgres text format of oid. Values
// pgtype cannot encode for oid fall back to their Go formatting.
func (p *DuckDBProxy) encodeText(oid uint32, val any) []byte {
	if val == nil {
		return nil
	}
	buf, err := p.typeMap.Encode(oid, pgtype.TextFormatCode, val, nil)
	if err == nil && buf != nil {
		return buf
	}
	return []byte(fmt.Sprintf("%v", val))
}

func commandTag(query string, rows int) []byte {
	verb := strings.ToUpper(strings.Fields(query)[0])
	switch verb {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "VALUES", "TABLE":
		return []byte(fmt.Sprintf("SELECT %d", rows))
	}
	return []byte(verb)
}

func (p *DuckDBProxy) sendRowDescription(backend *pgproto3.Backend, columns []*sql.ColumnType, oids []uint32) {
	fields := make([]pgproto3.FieldDescription, len(columns))
	for i, col := range columns {
		fields[i] = pgproto3.FieldDescription{
			Name:                 []byte(col.Name()),
			TableOID:             0,
			TableAttributeNumber: 0,
			DataTypeOID:          oids[i],
			DataTypeSize:         -1,
			TypeModifier:         -1,
			Format:               pgtype.TextFormatCode,
		}
	}

	backend.Send(&pgproto3.RowDescription{Fields: fields})
}

func (p *DuckDBProxy) sendError(backend *pgproto3.Backend, err error) {
	backend.Send(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "XX000",
		Message:  err.Error(),
	})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	_ = backend.Flush()
}

func mapDataTypeToOID(databaseTypeName string) uint32 {
	switch databaseTypeName {
	case "BOOLEAN", "BOOL":
		return pgtype.BoolOID
	case "TINYINT", "SMALLINT", "INT2":
		return pgtype.Int2OID
	case "INTEGER", "INT4":
		return pgtype.Int4OID
	case "BIGINT", "INT8":
		return pgtype.Int8OID
	case "UBIGINT", "HUGEINT", "DECIMAL":
		return pgtype.NumericOID
	case "FLOAT", "FLOAT4":
		return pgtype.Float4OID
	case "DOUBLE", "FLOAT8":
		return pgtype.Float8OID
	case "VARCHAR", "TEXT":
		return pgtype.TextOID
	case "BLOB":
		return pgtype.ByteaOID
	case "DATE":
		return pgtype.DateOID
	case "TIMESTAMP":
		return pgtype.TimestampOID
	case "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return pgtype.TimestamptzOID
	default:
		return pgtype.TextOID
	}
}
