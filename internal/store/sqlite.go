package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harborintel/port-research/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS clusters (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	region     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ports (
	id              TEXT PRIMARY KEY,
	cluster_id      TEXT NOT NULL REFERENCES clusters(id),
	name            TEXT NOT NULL,
	country         TEXT,
	latitude        REAL,
	longitude       REAL,
	size            TEXT,
	importance      TEXT,
	annual_capacity TEXT,
	cargo_types     TEXT,
	notes           TEXT,
	research_report TEXT,
	researched_at   DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS operators (
	id               TEXT PRIMARY KEY,
	port_id          TEXT NOT NULL REFERENCES ports(id),
	name             TEXT NOT NULL,
	operator_type    TEXT,
	parent_companies TEXT,
	capacity         TEXT,
	cargo_types      TEXT,
	latitude         REAL,
	longitude        REAL,
	locations        TEXT,
	address          TEXT,
	notes            TEXT,
	research_report  TEXT,
	researched_at    DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS terminals (
	id         TEXT PRIMARY KEY,
	port_id    TEXT NOT NULL REFERENCES ports(id),
	name       TEXT NOT NULL,
	address    TEXT,
	latitude   REAL,
	longitude  REAL,
	notes      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS research_jobs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	cluster_id     TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	progress       INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at     DATETIME,
	completed_at   DATETIME,
	last_heartbeat DATETIME
);

CREATE TABLE IF NOT EXISTS proposals (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	port_id          TEXT NOT NULL,
	name             TEXT NOT NULL,
	operator_type    TEXT,
	parent_companies TEXT,
	capacity         TEXT,
	cargo_types      TEXT,
	latitude         REAL,
	longitude        REAL,
	locations        TEXT,
	address          TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	approved_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_ports_cluster_id ON ports(cluster_id);
CREATE INDEX IF NOT EXISTS idx_operators_port_id ON operators(port_id);
CREATE INDEX IF NOT EXISTS idx_terminals_port_id ON terminals(port_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON research_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_proposals_port_id ON proposals(port_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Clusters

func (s *SQLiteStore) CreateCluster(ctx context.Context, cluster *model.Cluster) error {
	if cluster.ID == "" {
		cluster.ID = uuid.New().String()
	}
	cluster.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clusters (id, name, region, created_at) VALUES (?, ?, ?, ?)`,
		cluster.ID, cluster.Name, cluster.Region, cluster.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert cluster")
}

func (s *SQLiteStore) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	var c model.Cluster
	var region sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, region, created_at FROM clusters WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &region, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cluster")
	}
	c.Region = region.String
	return &c, nil
}

func (s *SQLiteStore) ListClusters(ctx context.Context) ([]model.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, region, created_at FROM clusters ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clusters")
	}
	defer rows.Close()

	var clusters []model.Cluster
	for rows.Next() {
		var c model.Cluster
		var region sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &region, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cluster")
		}
		c.Region = region.String
		clusters = append(clusters, c)
	}
	return clusters, eris.Wrap(rows.Err(), "sqlite: list clusters iterate")
}

// Ports

const portColumns = `id, cluster_id, name, country, latitude, longitude, size, importance,
	annual_capacity, cargo_types, notes, research_report, researched_at, created_at, updated_at`

func (s *SQLiteStore) CreatePort(ctx context.Context, port *model.Port) error {
	if port.ID == "" {
		port.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	port.CreatedAt = now
	port.UpdatedAt = now

	lat, lon := coordColumns(port.Coordinates)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ports (id, cluster_id, name, country, latitude, longitude, size, importance,
			annual_capacity, cargo_types, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		port.ID, port.ClusterID, port.Name, port.Country, lat, lon,
		string(port.Size), string(port.Importance), port.AnnualCapacity,
		jsonList(port.CargoTypes), port.Notes, now, now,
	)
	return eris.Wrap(err, "sqlite: insert port")
}

func (s *SQLiteStore) GetPort(ctx context.Context, id string) (*model.Port, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+portColumns+` FROM ports WHERE id = ?`, id)
	return scanPort(row)
}

func (s *SQLiteStore) ListPorts(ctx context.Context, clusterID string) ([]model.Port, error) {
	query := `SELECT ` + portColumns + ` FROM ports`
	var args []any
	if clusterID != "" {
		query += ` WHERE cluster_id = ?`
		args = append(args, clusterID)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ports")
	}
	defer rows.Close()

	var ports []model.Port
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, err
		}
		ports = append(ports, *p)
	}
	return ports, eris.Wrap(rows.Err(), "sqlite: list ports iterate")
}

func (s *SQLiteStore) UpdatePortFields(ctx context.Context, id string, fields map[string]any) error {
	return s.updateFields(ctx, "port", "ports", id, fields)
}

// Operators

const operatorColumns = `id, port_id, name, operator_type, parent_companies, capacity, cargo_types,
	latitude, longitude, locations, address, notes, research_report, researched_at, created_at, updated_at`

func (s *SQLiteStore) CreateOperator(ctx context.Context, op *model.TerminalOperator) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	lat, lon := coordColumns(op.Coordinates)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (id, port_id, name, operator_type, parent_companies, capacity,
			cargo_types, latitude, longitude, locations, address, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.PortID, op.Name, string(op.OperatorType), jsonList(op.ParentCompanies),
		op.Capacity, jsonList(op.CargoTypes), lat, lon, jsonList(op.Locations),
		op.Address, op.Notes, now, now,
	)
	return eris.Wrap(err, "sqlite: insert operator")
}

func (s *SQLiteStore) GetOperator(ctx context.Context, id string) (*model.TerminalOperator, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+operatorColumns+` FROM operators WHERE id = ?`, id)
	return scanOperator(row)
}

func (s *SQLiteStore) ListOperators(ctx context.Context, portID string) ([]model.TerminalOperator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators`
	var args []any
	if portID != "" {
		query += ` WHERE port_id = ?`
		args = append(args, portID)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list operators")
	}
	defer rows.Close()

	var ops []model.TerminalOperator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, eris.Wrap(rows.Err(), "sqlite: list operators iterate")
}

func (s *SQLiteStore) UpdateOperatorFields(ctx context.Context, id string, fields map[string]any) error {
	return s.updateFields(ctx, "operator", "operators", id, fields)
}

// updateFields builds a single UPDATE from the allow-listed field map.
// Unknown field names are rejected outright rather than ignored; the
// approval layer filters before calling.
func (s *SQLiteStore) updateFields(ctx context.Context, entityKind, table, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	var sets []string
	var args []any
	for field, value := range fields {
		column, ok := updatableColumn(entityKind, field)
		if !ok {
			return eris.Errorf("sqlite: field %q is not updatable on %s", field, entityKind)
		}
		if column == "coordinates" {
			coords, ok := asCoordinates(value)
			if !ok {
				return eris.Errorf("sqlite: field %q is not a coordinate pair", field)
			}
			sets = append(sets, "latitude = ?", "longitude = ?")
			args = append(args, coords.Latitude, coords.Longitude)
			continue
		}
		sets = append(sets, column+" = ?")
		args = append(args, columnValue(value))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s %s", entityKind, id)
	}
	return checkRowsAffected(res, entityKind, id)
}

// Terminals

func (s *SQLiteStore) CreateTerminal(ctx context.Context, t *model.Terminal) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	lat, lon := coordColumns(t.Coordinates)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terminals (id, port_id, name, address, latitude, longitude, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PortID, t.Name, t.Address, lat, lon, t.Notes, now, now,
	)
	return eris.Wrap(err, "sqlite: insert terminal")
}

func (s *SQLiteStore) ListTerminals(ctx context.Context, portID string) ([]model.Terminal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, port_id, name, address, latitude, longitude, notes, created_at, updated_at
		 FROM terminals WHERE port_id = ? ORDER BY name`, portID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list terminals")
	}
	defer rows.Close()

	var terminals []model.Terminal
	for rows.Next() {
		var t model.Terminal
		var address, notes sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.PortID, &t.Name, &address, &lat, &lon, &notes, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan terminal")
		}
		t.Address = address.String
		t.Notes = notes.String
		t.Coordinates = coordFromColumns(lat, lon)
		terminals = append(terminals, t)
	}
	return terminals, eris.Wrap(rows.Err(), "sqlite: list terminals iterate")
}

// Jobs

const jobColumns = `id, type, entity_id, cluster_id, status, progress, error,
	created_at, started_at, completed_at, last_heartbeat`

func (s *SQLiteStore) CreateJobs(ctx context.Context, jobs []model.ResearchJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create jobs")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]string, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		job.Status = model.JobStatusPending
		job.CreatedAt = now

		_, err := tx.ExecContext(ctx,
			`INSERT INTO research_jobs (id, type, entity_id, cluster_id, status, progress, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			job.ID, string(job.Type), job.EntityID, nullable(job.ClusterID), string(job.Status), now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert job")
		}
		ids = append(ids, job.ID)
	}
	return ids, eris.Wrap(tx.Commit(), "sqlite: commit create jobs")
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*model.ResearchJob, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`UPDATE research_jobs
		 SET status = 'running', started_at = ?, last_heartbeat = ?
		 WHERE id = (SELECT id FROM research_jobs WHERE status = 'pending' ORDER BY created_at LIMIT 1)
		   AND status = 'pending'
		 RETURNING `+jobColumns,
		now, now,
	)
	job, err := scanJob(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET progress = ? WHERE id = ?`, progress, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET last_heartbeat = ? WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job heartbeat %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'completed', progress = 100, completed_at = ?
		 WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'failed', error = ?, completed_at = ?
		 WHERE id = ? AND status = 'running'`,
		message, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailStaleJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'failed', error = ?, completed_at = ?
		 WHERE status = 'running' AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		fmt.Sprintf("job heartbeat older than %s, presumed dead", maxAge), time.Now().UTC(), cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale jobs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.ClusterID != "" {
		query += ` AND cluster_id = ?`
		args = append(args, filter.ClusterID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// Proposals

const proposalColumns = `id, kind, port_id, name, operator_type, parent_companies, capacity,
	cargo_types, latitude, longitude, locations, address, status, created_at, approved_at`

func (s *SQLiteStore) CreateProposals(ctx context.Context, proposals []model.DiscoveryProposal) error {
	if len(proposals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create proposals")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range proposals {
		p := &proposals[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.Status = model.ProposalStatusPending
		p.CreatedAt = now

		lat, lon := coordColumns(p.Coordinates)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO proposals (id, kind, port_id, name, operator_type, parent_companies,
				capacity, cargo_types, latitude, longitude, locations, address, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, string(p.Kind), p.PortID, p.Name, string(p.OperatorType),
			jsonList(p.ParentCompanies), p.Capacity, jsonList(p.CargoTypes),
			lat, lon, jsonList(p.Locations), p.Address, string(p.Status), now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert proposal")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create proposals")
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*model.DiscoveryProposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	return scanProposal(row)
}

func (s *SQLiteStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.DiscoveryProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PortID != "" {
		query += ` AND port_id = ?`
		args = append(args, filter.PortID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	defer rows.Close()

	var proposals []model.DiscoveryProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "sqlite: list proposals iterate")
}

func (s *SQLiteStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus) error {
	var approvedAt any
	if status == model.ProposalStatusApproved {
		approvedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, approved_at = ? WHERE id = ?`,
		string(status), approvedAt, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update proposal status %s", id)
	}
	return checkRowsAffected(res, "proposal", id)
}

// Reports

func (s *SQLiteStore) SaveResearchReport(ctx context.Context, entityKind, entityID, report string) error {
	table, err := reportTable(entityKind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET research_report = ?, researched_at = ?, updated_at = ? WHERE id = ?`, table),
		capReport(report), time.Now().UTC(), time.Now().UTC(), entityID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save research report %s", entityID)
	}
	return checkRowsAffected(res, entityKind, entityID)
}

// helpers

func reportTable(entityKind string) (string, error) {
	switch entityKind {
	case "port":
		return "ports", nil
	case "operator", "terminal":
		return "operators", nil
	default:
		return "", eris.Errorf("store: unknown entity kind %q", entityKind)
	}
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPort(row scannable) (*model.Port, error) {
	var p model.Port
	var country, size, importance, capacity, cargo, notes, report sql.NullString
	var lat, lon sql.NullFloat64
	var researchedAt sql.NullTime

	err := row.Scan(&p.ID, &p.ClusterID, &p.Name, &country, &lat, &lon, &size, &importance,
		&capacity, &cargo, &notes, &report, &researchedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan port")
	}

	p.Country = country.String
	p.Size = model.PortSize(size.String)
	p.Importance = model.StrategicImportance(importance.String)
	p.AnnualCapacity = capacity.String
	p.Notes = notes.String
	p.ResearchReport = report.String
	p.Coordinates = coordFromColumns(lat, lon)
	p.CargoTypes = fromJSONList(cargo)
	if researchedAt.Valid {
		p.ResearchedAt = &researchedAt.Time
	}
	return &p, nil
}

func scanOperator(row scannable) (*model.TerminalOperator, error) {
	var op model.TerminalOperator
	var opType, parents, capacity, cargo, locations, address, notes, report sql.NullString
	var lat, lon sql.NullFloat64
	var researchedAt sql.NullTime

	err := row.Scan(&op.ID, &op.PortID, &op.Name, &opType, &parents, &capacity, &cargo,
		&lat, &lon, &locations, &address, &notes, &report, &researchedAt, &op.CreatedAt, &op.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan operator")
	}

	op.OperatorType = model.OperatorType(opType.String)
	op.ParentCompanies = fromJSONList(parents)
	op.Capacity = capacity.String
	op.CargoTypes = fromJSONList(cargo)
	op.Locations = fromJSONList(locations)
	op.Address = address.String
	op.Notes = notes.String
	op.ResearchReport = report.String
	op.Coordinates = coordFromColumns(lat, lon)
	if researchedAt.Valid {
		op.ResearchedAt = &researchedAt.Time
	}
	return &op, nil
}

func scanJob(row scannable) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var clusterID, errMsg sql.NullString
	var startedAt, completedAt, heartbeat sql.NullTime

	err := row.Scan(&j.ID, &j.Type, &j.EntityID, &clusterID, &j.Status, &j.Progress, &errMsg,
		&j.CreatedAt, &startedAt, &completedAt, &heartbeat)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.ClusterID = clusterID.String
	j.Error = errMsg.String
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if heartbeat.Valid {
		j.LastHeartbeat = &heartbeat.Time
	}
	return &j, nil
}

func scanProposal(row scannable) (*model.DiscoveryProposal, error) {
	var p model.DiscoveryProposal
	var opType, parents, capacity, cargo, locations, address sql.NullString
	var lat, lon sql.NullFloat64
	var approvedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Kind, &p.PortID, &p.Name, &opType, &parents, &capacity,
		&cargo, &lat, &lon, &locations, &address, &p.Status, &p.CreatedAt, &approvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan proposal")
	}

	p.OperatorType = model.OperatorType(opType.String)
	p.ParentCompanies = fromJSONList(parents)
	p.Capacity = capacity.String
	p.CargoTypes = fromJSONList(cargo)
	p.Locations = fromJSONList(locations)
	p.Address = address.String
	p.Coordinates = coordFromColumns(lat, lon)
	if approvedAt.Valid {
		p.ApprovedAt = &approvedAt.Time
	}
	return &p, nil
}

func coordColumns(c *model.Coordinates) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Latitude, c.Longitude
}

func coordFromColumns(lat, lon sql.NullFloat64) *model.Coordinates {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &model.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
}

func jsonList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func fromJSONList(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func columnValue(value any) any {
	switch v := value.(type) {
	case []string:
		return jsonList(v)
	case []any:
		if list, ok := asStringList(v); ok {
			return jsonList(list)
		}
	}
	return value
}

func asStringList(values []any) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func asCoordinates(value any) (model.Coordinates, bool) {
	switch v := value.(type) {
	case model.Coordinates:
		return v, true
	case *model.Coordinates:
		if v == nil {
			return model.Coordinates{}, false
		}
		return *v, true
	case map[string]any:
		lat, latOK := numberAt(v, "latitude", "lat")
		lon, lonOK := numberAt(v, "longitude", "lng", "lon")
		if latOK && lonOK {
			return model.Coordinates{Latitude: lat, Longitude: lon}, true
		}
	}
	return model.Coordinates{}, false
}

func numberAt(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := obj[k].(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
