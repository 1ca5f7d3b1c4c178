package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const listStaticMappings = `-- name: ListStaticMappings :many
SELECT mac::text,
       hostname,
       updated_at
FROM static_mappings
ORDER BY mac ASC
`

func (q *Queries) ListStaticMappings(ctx context.Context) ([]StaticMapping, error) {
	rows, err := q.db.Query(ctx, listStaticMappings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StaticMapping
	for rows.Next() {
		var i StaticMapping
		if err := rows.Scan(&i.MAC, &i.Hostname, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertStaticMapping = `-- name: UpsertStaticMapping :one
INSERT INTO static_mappings (mac, hostname)
VALUES ($1::macaddr, $2)
ON CONFLICT (mac) DO UPDATE
SET hostname = EXCLUDED.hostname,
    updated_at = now()
RETURNING mac::text, hostname, updated_at
`

type UpsertStaticMappingParams struct {
	MAC      string
	Hostname string
}

func (q *Queries) UpsertStaticMapping(ctx context.Context, arg UpsertStaticMappingParams) (StaticMapping, error) {
	row := q.db.QueryRow(ctx, upsertStaticMapping, arg.MAC, arg.Hostname)
	var i StaticMapping
	err := row.Scan(&i.MAC, &i.Hostname, &i.UpdatedAt)
	return i, err
}

const deleteStaticMapping = `-- name: DeleteStaticMapping :execrows
DELETE FROM static_mappings
WHERE mac = $1::macaddr
`

func (q *Queries) DeleteStaticMapping(ctx context.Context, mac string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteStaticMapping, mac)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const insertHostnameAssignment = `-- name: InsertHostnameAssignment :exec
INSERT INTO hostname_assignments (mac, hostname, ip, source, renamed)
VALUES ($1::macaddr, $2, $3::inet, $4, $5)
`

type InsertHostnameAssignmentParams struct {
	MAC      string
	Hostname string
	IP       string
	Source   string
	Renamed  bool
}

func (q *Queries) InsertHostnameAssignment(ctx context.Context, arg InsertHostnameAssignmentParams) error {
	_, err := q.db.Exec(ctx, insertHostnameAssignment, arg.MAC, arg.Hostname, arg.IP, arg.Source, arg.Renamed)
	return err
}

const listHostnameAssignments = `-- name: ListHostnameAssignments :many
SELECT id,
       mac::text,
       hostname,
       host(ip),
       source,
       renamed,
       assigned_at
FROM hostname_assignments
WHERE mac = $1::macaddr
ORDER BY assigned_at DESC
LIMIT $2
`

type ListHostnameAssignmentsParams struct {
	MAC   string
	Limit int32
}

func (q *Queries) ListHostnameAssignments(ctx context.Context, arg ListHostnameAssignmentsParams) ([]HostnameAssignment, error) {
	rows, err := q.db.Query(ctx, listHostnameAssignments, arg.MAC, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []HostnameAssignment
	for rows.Next() {
		var i HostnameAssignment
		if err := rows.Scan(&i.ID, &i.MAC, &i.Hostname, &i.IP, &i.Source, &i.Renamed, &i.AssignedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
