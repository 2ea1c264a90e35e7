package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/querytalk/querytalk/internal/observability"
)

// ErrUnavailable marks a failed metadata query. The current turn is
// lost but the session can continue; the next turn retries.
var ErrUnavailable = errors.New("schema snapshot unavailable")

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Snapshot is an immutable description of the database structure as
// seen by the configured read-only role at capture time.
type Snapshot struct {
	CapturedAt time.Time
	Tables     []Table
}

// Describe renders the snapshot as compact text for synthesis prompts.
func (s *Snapshot) Describe() string {
	var b strings.Builder
	for _, table := range s.Tables {
		fmt.Fprintf(&b, "table %s\n", table.Name)
		for _, col := range table.Columns {
			nullability := "not null"
			if col.Nullable {
				nullability = "nullable"
			}
			fmt.Fprintf(&b, "  %s %s %s\n", col.Name, col.Type, nullability)
		}
		for _, fk := range table.ForeignKeys {
			fmt.Fprintf(&b, "  foreign key %s -> %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn)
		}
	}
	return b.String()
}

const columnsQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`

const foreignKeysQuery = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'
ORDER BY tc.table_name, kcu.column_name`

// Provider captures and caches schema snapshots. The cache is refreshed
// when older than the configured interval or on an explicit refresh.
// The sequential turn loop is the only writer, so no locking is needed.
type Provider struct {
	db              *sql.DB
	refreshInterval time.Duration
	now             func() time.Time

	cached *Snapshot
}

func NewProvider(db *sql.DB, refreshInterval time.Duration) *Provider {
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}
	return &Provider{
		db:              db,
		refreshInterval: refreshInterval,
		now:             time.Now,
	}
}

func (p *Provider) Snapshot(ctx context.Context, forceRefresh bool) (*Snapshot, error) {
	trigger := ""
	switch {
	case forceRefresh:
		trigger = "forced"
	case p.cached == nil:
		trigger = "initial"
	case p.now().Sub(p.cached.CapturedAt) > p.refreshInterval:
		trigger = "expired"
	default:
		return p.cached, nil
	}

	snapshot, err := p.capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	observability.ObserveSchemaRefresh(trigger)
	p.cached = snapshot
	return snapshot, nil
}

func (p *Provider) capture(ctx context.Context) (*Snapshot, error) {
	tables := make(map[string]*Table)
	order := make([]string, 0)

	rows, err := p.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			table = &Table{Name: tableName}
			tables[tableName] = table
			order = append(order, tableName)
		}
		table.Columns = append(table.Columns, Column{
			Name:     columnName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "yes"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	fkRows, err := p.db.QueryContext(ctx, foreignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer func() { _ = fkRows.Close() }()

	for fkRows.Next() {
		var tableName, columnName, refTable, refColumn string
		if err := fkRows.Scan(&tableName, &columnName, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		if table, ok := tables[tableName]; ok {
			table.ForeignKeys = append(table.ForeignKeys, ForeignKey{
				Column:    columnName,
				RefTable:  refTable,
				RefColumn: refColumn,
			})
		}
	}
	if err := fkRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}

	snapshot := &Snapshot{CapturedAt: p.now()}
	for _, name := range order {
		snapshot.Tables = append(snapshot.Tables, *tables[name])
	}
	return snapshot, nil
}
