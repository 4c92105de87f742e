package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harborintel/port-research/internal/db"
	"github.com/harborintel/port-research/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot job-dispatch path.
var preparedStatements = map[string]string{
	"claim_next_job": `UPDATE research_jobs SET status = 'running', started_at = $1, last_heartbeat = $1
		WHERE id = (SELECT id FROM research_jobs WHERE status = 'pending' ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED)
		RETURNING id, type, entity_id, cluster_id, status, progress, error, created_at, started_at, completed_at, last_heartbeat`,
	"update_job_progress":  `UPDATE research_jobs SET progress = $1 WHERE id = $2`,
	"update_job_heartbeat": `UPDATE research_jobs SET last_heartbeat = $1 WHERE id = $2 AND status = 'running'`,
	"get_job":              `SELECT id, type, entity_id, cluster_id, status, progress, error, created_at, started_at, completed_at, last_heartbeat FROM research_jobs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS clusters (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	region     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ports (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	cluster_id      TEXT NOT NULL REFERENCES clusters(id),
	name            TEXT NOT NULL,
	country         TEXT,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	size            TEXT,
	importance      TEXT,
	annual_capacity TEXT,
	cargo_types     JSONB,
	notes           TEXT,
	research_report TEXT,
	researched_at   TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS operators (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	port_id          TEXT NOT NULL REFERENCES ports(id),
	name             TEXT NOT NULL,
	operator_type    TEXT,
	parent_companies JSONB,
	capacity         TEXT,
	cargo_types      JSONB,
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	locations        JSONB,
	address          TEXT,
	notes            TEXT,
	research_report  TEXT,
	researched_at    TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS terminals (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	port_id    TEXT NOT NULL REFERENCES ports(id),
	name       TEXT NOT NULL,
	address    TEXT,
	latitude   DOUBLE PRECISION,
	longitude  DOUBLE PRECISION,
	notes      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS research_jobs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	cluster_id     TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	progress       INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	last_heartbeat TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS proposals (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind             TEXT NOT NULL,
	port_id          TEXT NOT NULL,
	name             TEXT NOT NULL,
	operator_type    TEXT,
	parent_companies JSONB,
	capacity         TEXT,
	cargo_types      JSONB,
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	locations        JSONB,
	address          TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	approved_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ports_cluster_id ON ports(cluster_id);
CREATE INDEX IF NOT EXISTS idx_operators_port_id ON operators(port_id);
CREATE INDEX IF NOT EXISTS idx_terminals_port_id ON terminals(port_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON research_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_proposals_port_id ON proposals(port_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Clusters

func (s *PostgresStore) CreateCluster(ctx context.Context, cluster *model.Cluster) error {
	if cluster.ID == "" {
		cluster.ID = uuid.New().String()
	}
	cluster.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clusters (id, name, region, created_at) VALUES ($1, $2, $3, $4)`,
		cluster.ID, cluster.Name, cluster.Region, cluster.CreatedAt)
	return eris.Wrap(err, "postgres: insert cluster")
}

func (s *PostgresStore) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	var c model.Cluster
	var region *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, region, created_at FROM clusters WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &region, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cluster")
	}
	if region != nil {
		c.Region = *region
	}
	return &c, nil
}

func (s *PostgresStore) ListClusters(ctx context.Context) ([]model.Cluster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, region, created_at FROM clusters ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clusters")
	}
	defer rows.Close()

	var clusters []model.Cluster
	for rows.Next() {
		var c model.Cluster
		var region *string
		if err := rows.Scan(&c.ID, &c.Name, &region, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cluster")
		}
		if region != nil {
			c.Region = *region
		}
		clusters = append(clusters, c)
	}
	return clusters, eris.Wrap(rows.Err(), "postgres: list clusters iterate")
}

// Ports

const pgPortColumns = `id, cluster_id, name, country, latitude, longitude, size, importance,
	annual_capacity, cargo_types, notes, research_report, researched_at, created_at, updated_at`

func (s *PostgresStore) CreatePort(ctx context.Context, port *model.Port) error {
	if port.ID == "" {
		port.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	port.CreatedAt = now
	port.UpdatedAt = now

	lat, lon := coordColumns(port.Coordinates)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ports (id, cluster_id, name, country, latitude, longitude, size, importance,
			annual_capacity, cargo_types, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		port.ID, port.ClusterID, port.Name, port.Country, lat, lon,
		string(port.Size), string(port.Importance), port.AnnualCapacity,
		jsonList(port.CargoTypes), port.Notes, now, now)
	return eris.Wrap(err, "postgres: insert port")
}

func (s *PostgresStore) GetPort(ctx context.Context, id string) (*model.Port, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPortColumns+` FROM ports WHERE id = $1`, id)
	p, err := scanPortPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListPorts(ctx context.Context, clusterID string) ([]model.Port, error) {
	query := `SELECT ` + pgPortColumns + ` FROM ports`
	var args []any
	if clusterID != "" {
		query += ` WHERE cluster_id = $1`
		args = append(args, clusterID)
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ports")
	}
	defer rows.Close()

	var ports []model.Port
	for rows.Next() {
		p, err := scanPortPG(rows)
		if err != nil {
			return nil, err
		}
		ports = append(ports, *p)
	}
	return ports, eris.Wrap(rows.Err(), "postgres: list ports iterate")
}

func (s *PostgresStore) UpdatePortFields(ctx context.Context, id string, fields map[string]any) error {
	return s.updateFields(ctx, "port", "ports", id, fields)
}

// Operators

const pgOperatorColumns = `id, port_id, name, operator_type, parent_companies, capacity, cargo_types,
	latitude, longitude, locations, address, notes, research_report, researched_at, created_at, updated_at`

func (s *PostgresStore) CreateOperator(ctx context.Context, op *model.TerminalOperator) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	lat, lon := coordColumns(op.Coordinates)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operators (id, port_id, name, operator_type, parent_companies, capacity,
			cargo_types, latitude, longitude, locations, address, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		op.ID, op.PortID, op.Name, string(op.OperatorType), jsonList(op.ParentCompanies),
		op.Capacity, jsonList(op.CargoTypes), lat, lon, jsonList(op.Locations),
		op.Address, op.Notes, now, now)
	return eris.Wrap(err, "postgres: insert operator")
}

func (s *PostgresStore) GetOperator(ctx context.Context, id string) (*model.TerminalOperator, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgOperatorColumns+` FROM operators WHERE id = $1`, id)
	op, err := scanOperatorPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return op, err
}

func (s *PostgresStore) ListOperators(ctx context.Context, portID string) ([]model.TerminalOperator, error) {
	query := `SELECT ` + pgOperatorColumns + ` FROM operators`
	var args []any
	if portID != "" {
		query += ` WHERE port_id = $1`
		args = append(args, portID)
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list operators")
	}
	defer rows.Close()

	var ops []model.TerminalOperator
	for rows.Next() {
		op, err := scanOperatorPG(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, eris.Wrap(rows.Err(), "postgres: list operators iterate")
}

func (s *PostgresStore) UpdateOperatorFields(ctx context.Context, id string, fields map[string]any) error {
	return s.updateFields(ctx, "operator", "operators", id, fields)
}

func (s *PostgresStore) updateFields(ctx context.Context, entityKind, table, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	var sets []string
	var args []any
	next := func() int { return len(args) + 1 }

	for field, value := range fields {
		column, ok := updatableColumn(entityKind, field)
		if !ok {
			return eris.Errorf("postgres: field %q is not updatable on %s", field, entityKind)
		}
		if column == "coordinates" {
			coords, ok := asCoordinates(value)
			if !ok {
				return eris.Errorf("postgres: field %q is not a coordinate pair", field)
			}
			sets = append(sets, fmt.Sprintf("latitude = $%d", next()))
			args = append(args, coords.Latitude)
			sets = append(sets, fmt.Sprintf("longitude = $%d", next()))
			args = append(args, coords.Longitude)
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", column, next()))
		args = append(args, columnValue(value))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", next()))
	args = append(args, time.Now().UTC())
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, table, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s %s", entityKind, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entityKind, id)
	}
	return nil
}

// Terminals

func (s *PostgresStore) CreateTerminal(ctx context.Context, t *model.Terminal) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	lat, lon := coordColumns(t.Coordinates)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO terminals (id, port_id, name, address, latitude, longitude, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.PortID, t.Name, t.Address, lat, lon, t.Notes, now, now)
	return eris.Wrap(err, "postgres: insert terminal")
}

func (s *PostgresStore) ListTerminals(ctx context.Context, portID string) ([]model.Terminal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, port_id, name, address, latitude, longitude, notes, created_at, updated_at
		 FROM terminals WHERE port_id = $1 ORDER BY name`, portID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list terminals")
	}
	defer rows.Close()

	var terminals []model.Terminal
	for rows.Next() {
		var t model.Terminal
		var address, notes *string
		var lat, lon *float64
		if err := rows.Scan(&t.ID, &t.PortID, &t.Name, &address, &lat, &lon, &notes, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan terminal")
		}
		t.Address = deref(address)
		t.Notes = deref(notes)
		t.Coordinates = coordFromPtrs(lat, lon)
		terminals = append(terminals, t)
	}
	return terminals, eris.Wrap(rows.Err(), "postgres: list terminals iterate")
}

// Jobs

const pgJobColumns = `id, type, entity_id, cluster_id, status, progress, error,
	created_at, started_at, completed_at, last_heartbeat`

// CreateJobs batch-inserts via COPY; batch enqueue is the common case.
func (s *PostgresStore) CreateJobs(ctx context.Context, jobs []model.ResearchJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(jobs))
	rows := make([][]any, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		job.Status = model.JobStatusPending
		job.CreatedAt = now
		ids = append(ids, job.ID)
		rows = append(rows, []any{job.ID, string(job.Type), job.EntityID, nullable(job.ClusterID), string(job.Status), 0, now})
	}

	_, err := db.CopyFrom(ctx, s.pool, "research_jobs",
		[]string{"id", "type", "entity_id", "cluster_id", "status", "progress", "created_at"}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create jobs")
	}
	return ids, nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*model.ResearchJob, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE research_jobs SET status = 'running', started_at = $1, last_heartbeat = $1
		 WHERE id = (SELECT id FROM research_jobs WHERE status = 'pending' ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED)
		 RETURNING `+pgJobColumns,
		time.Now().UTC())
	job, err := scanJobPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET progress = $1 WHERE id = $2`, progress, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET last_heartbeat = $1 WHERE id = $2 AND status = 'running'`,
		time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job heartbeat %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET status = 'completed', progress = 100, completed_at = $1
		 WHERE id = $2 AND status = 'running'`,
		time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET status = 'failed', error = $1, completed_at = $2
		 WHERE id = $3 AND status = 'running'`,
		message, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailStaleJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET status = 'failed', error = $1, completed_at = $2
		 WHERE status = 'running' AND (last_heartbeat IS NULL OR last_heartbeat < $3)`,
		fmt.Sprintf("job heartbeat older than %s, presumed dead", maxAge), time.Now().UTC(), cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale jobs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM research_jobs WHERE id = $1`, jobID)
	job, err := scanJobPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + pgJobColumns + ` FROM research_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if filter.ClusterID != "" {
		args = append(args, filter.ClusterID)
		query += fmt.Sprintf(` AND cluster_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		j, err := scanJobPG(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// Proposals

const pgProposalColumns = `id, kind, port_id, name, operator_type, parent_companies, capacity,
	cargo_types, latitude, longitude, locations, address, status, created_at, approved_at`

func (s *PostgresStore) CreateProposals(ctx context.Context, proposals []model.DiscoveryProposal) error {
	now := time.Now().UTC()
	for i := range proposals {
		p := &proposals[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.Status = model.ProposalStatusPending
		p.CreatedAt = now

		lat, lon := coordColumns(p.Coordinates)
		_, err := s.pool.Exec(ctx,
			`INSERT INTO proposals (id, kind, port_id, name, operator_type, parent_companies,
				capacity, cargo_types, latitude, longitude, locations, address, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			p.ID, string(p.Kind), p.PortID, p.Name, string(p.OperatorType),
			jsonList(p.ParentCompanies), p.Capacity, jsonList(p.CargoTypes),
			lat, lon, jsonList(p.Locations), p.Address, string(p.Status), now)
		if err != nil {
			return eris.Wrap(err, "postgres: insert proposal")
		}
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.DiscoveryProposal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgProposalColumns+` FROM proposals WHERE id = $1`, id)
	p, err := scanProposalPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.DiscoveryProposal, error) {
	query := `SELECT ` + pgProposalColumns + ` FROM proposals WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.PortID != "" {
		args = append(args, filter.PortID)
		query += fmt.Sprintf(` AND port_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	defer rows.Close()

	var proposals []model.DiscoveryProposal
	for rows.Next() {
		p, err := scanProposalPG(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "postgres: list proposals iterate")
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus) error {
	var approvedAt any
	if status == model.ProposalStatusApproved {
		approvedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET status = $1, approved_at = $2 WHERE id = $3`,
		string(status), approvedAt, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update proposal status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "proposal %s", id)
	}
	return nil
}

// Reports

func (s *PostgresStore) SaveResearchReport(ctx context.Context, entityKind, entityID, report string) error {
	table, err := reportTable(entityKind)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET research_report = $1, researched_at = $2, updated_at = $3 WHERE id = $4`, table),
		capReport(report), now, now, entityID)
	if err != nil {
		return eris.Wrapf(err, "postgres: save research report %s", entityID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entityKind, entityID)
	}
	return nil
}

// scan helpers

func scanPortPG(row pgx.Row) (*model.Port, error) {
	var p model.Port
	var country, size, importance, capacity, notes, report *string
	var cargo []byte
	var lat, lon *float64
	var researchedAt *time.Time

	err := row.Scan(&p.ID, &p.ClusterID, &p.Name, &country, &lat, &lon, &size, &importance,
		&capacity, &cargo, &notes, &report, &researchedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan port")
	}

	p.Country = deref(country)
	p.Size = model.PortSize(deref(size))
	p.Importance = model.StrategicImportance(deref(importance))
	p.AnnualCapacity = deref(capacity)
	p.Notes = deref(notes)
	p.ResearchReport = deref(report)
	p.Coordinates = coordFromPtrs(lat, lon)
	p.CargoTypes = fromJSONBytes(cargo)
	p.ResearchedAt = researchedAt
	return &p, nil
}

func scanOperatorPG(row pgx.Row) (*model.TerminalOperator, error) {
	var op model.TerminalOperator
	var opType, capacity, address, notes, report *string
	var parents, cargo, locations []byte
	var lat, lon *float64
	var researchedAt *time.Time

	err := row.Scan(&op.ID, &op.PortID, &op.Name, &opType, &parents, &capacity, &cargo,
		&lat, &lon, &locations, &address, &notes, &report, &researchedAt, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan operator")
	}

	op.OperatorType = model.OperatorType(deref(opType))
	op.ParentCompanies = fromJSONBytes(parents)
	op.Capacity = deref(capacity)
	op.CargoTypes = fromJSONBytes(cargo)
	op.Locations = fromJSONBytes(locations)
	op.Address = deref(address)
	op.Notes = deref(notes)
	op.ResearchReport = deref(report)
	op.Coordinates = coordFromPtrs(lat, lon)
	op.ResearchedAt = researchedAt
	return &op, nil
}

func scanJobPG(row pgx.Row) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var clusterID, errMsg *string

	err := row.Scan(&j.ID, &j.Type, &j.EntityID, &clusterID, &j.Status, &j.Progress, &errMsg,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.LastHeartbeat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	j.ClusterID = deref(clusterID)
	j.Error = deref(errMsg)
	return &j, nil
}

func scanProposalPG(row pgx.Row) (*model.DiscoveryProposal, error) {
	var p model.DiscoveryProposal
	var opType, capacity, address *string
	var parents, cargo, locations []byte
	var lat, lon *float64

	err := row.Scan(&p.ID, &p.Kind, &p.PortID, &p.Name, &opType, &parents, &capacity,
		&cargo, &lat, &lon, &locations, &address, &p.Status, &p.CreatedAt, &p.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan proposal")
	}

	p.OperatorType = model.OperatorType(deref(opType))
	p.ParentCompanies = fromJSONBytes(parents)
	p.Capacity = deref(capacity)
	p.CargoTypes = fromJSONBytes(cargo)
	p.Locations = fromJSONBytes(locations)
	p.Address = deref(address)
	p.Coordinates = coordFromPtrs(lat, lon)
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func coordFromPtrs(lat, lon *float64) *model.Coordinates {
	if lat == nil || lon == nil {
		return nil
	}
	return &model.Coordinates{Latitude: *lat, Longitude: *lon}
}

func fromJSONBytes(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
