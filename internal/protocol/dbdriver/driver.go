// Package dbdriver implements the database-query protocol driver: a
// scheme-sniffing dispatcher over three real drivers (MySQL, PostgreSQL via
// database/sql, and MongoDB via the official mongo-driver).
package dbdriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

// sqlHandle wraps a database/sql connection pool (MySQL or PostgreSQL).
type sqlHandle struct {
	db *sql.DB
}

func (h *sqlHandle) Close() error { return h.db.Close() }

// mongoHandle wraps a mongo client.
type mongoHandle struct {
	client *mongo.Client
}

func (h *mongoHandle) Close() error {
	return h.client.Disconnect(context.Background())
}

// Driver is the database protocol driver.
type Driver struct{}

func New() *Driver { return &Driver{} }

func detectKind(connString string, declared protocol.DBKind) protocol.DBKind {
	if declared != "" {
		return declared
	}
	switch {
	case strings.HasPrefix(connString, "mysql://"):
		return protocol.DBKindMySQL
	case strings.HasPrefix(connString, "postgresql://"), strings.HasPrefix(connString, "postgres://"):
		return protocol.DBKindPostgreSQL
	case strings.HasPrefix(connString, "mongodb://"), strings.HasPrefix(connString, "mongodb+srv://"):
		return protocol.DBKindMongoDB
	default:
		return ""
	}
}

func (d *Driver) Execute(ctx context.Context, reg *registry.Registry, op protocol.Operation, deadline time.Time) (*protocol.Outcome, error) {
	if op.DB == nil {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
	p := op.DB
	kind := detectKind(p.ConnString, p.Kind)
	if kind == "" {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}

	key := registry.Key{Kind: registry.KindDB, EndpointKey: p.ConnString}

	opCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	switch op.Kind {
	case protocol.KindDBConnect:
		start := time.Now()
		_, err := reg.GetOrCreate(key, func() (registry.Handle, error) {
			return connect(opCtx, kind, p.ConnString)
		})
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionRefused}, nil
		}
		return &protocol.Outcome{Success: true, ResponseTimeUs: elapsed}, nil

	case protocol.KindDBQuery:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoConnection}, nil
		}
		out, err := query(opCtx, kind, h, p.Query)
		if out != nil && !out.Success && opCtx.Err() == context.DeadlineExceeded {
			_ = reg.Remove(key)
			out.Error = protocol.ErrTimeout
		}
		return out, err

	case protocol.KindDBDisconnect:
		if err := reg.Remove(key); err != nil {
			return &protocol.Outcome{Success: false, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{Success: true}, nil

	default:
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
}

func connect(ctx context.Context, kind protocol.DBKind, connString string) (registry.Handle, error) {
	switch kind {
	case protocol.DBKindMySQL:
		db, err := sql.Open("mysql", strings.TrimPrefix(connString, "mysql://"))
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &sqlHandle{db: db}, nil

	case protocol.DBKindPostgreSQL:
		db, err := sql.Open("pgx", connString)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &sqlHandle{db: db}, nil

	case protocol.DBKindMongoDB:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(connString))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return &mongoHandle{client: client}, nil

	default:
		return nil, fmt.Errorf("dbdriver: unsupported kind %q", kind)
	}
}

func query(ctx context.Context, kind protocol.DBKind, h registry.Handle, q string) (*protocol.Outcome, error) {
	start := time.Now()

	switch kind {
	case protocol.DBKindMySQL, protocol.DBKindPostgreSQL:
		sh := h.(*sqlHandle)
		if isWriteQuery(q) {
			result, err := sh.db.ExecContext(ctx, q)
			elapsed := time.Since(start).Microseconds()
			if err != nil {
				return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrProtocolError}, nil
			}
			affected, _ := result.RowsAffected()
			return &protocol.Outcome{
				Success:        true,
				ResponseTimeUs: elapsed,
				ProtocolData:   map[string]any{"rows_affected": affected},
			}, nil
		}

		rows, err := sh.db.QueryContext(ctx, q)
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: time.Since(start).Microseconds(), Error: protocol.ErrProtocolError}, nil
		}
		defer rows.Close()
		var count int64
		for rows.Next() {
			count++
		}
		elapsed := time.Since(start).Microseconds()
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			ProtocolData:   map[string]any{"rows_returned": count},
		}, nil

	case protocol.DBKindMongoDB:
		// The "query" for Mongo is interpreted as a collection name to
		// count documents in; richer query shapes are a scenario/DSL
		// concern layered above this driver, not this driver's job.
		mh := h.(*mongoHandle)
		db := mh.client.Database("loadspiker")
		count, err := db.Collection(q).CountDocuments(ctx, struct{}{})
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrProtocolError}, nil
		}
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			ProtocolData:   map[string]any{"rows_returned": count},
		}, nil

	default:
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
}

func isWriteQuery(q string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(q))
	for _, verb := range []string{"INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP"} {
		if strings.HasPrefix(trimmed, verb) {
			return true
		}
	}
	return false
}
