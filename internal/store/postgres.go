package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/evaluation-cli/internal/model"
)

// Pool is the minimal pgx pool surface the store needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"find_applicant_by_key": `SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
		FROM applicants WHERE norm_given = $1 AND norm_family = $2 AND norm_school = $3 AND norm_state = $4`,
	"get_applicant": `SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
		FROM applicants WHERE id = $1`,
	"append_audit": `INSERT INTO audit_events (id, applicant_id, actor, interaction_type, payload, sequence, timestamp)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_events WHERE applicant_id = $2),
			$6)
		RETURNING sequence`,
	"save_stage_result": `INSERT INTO stage_results (applicant_id, stage_id, status, payload, error, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (applicant_id, stage_id) DO UPDATE SET
			status = EXCLUDED.status, payload = EXCLUDED.payload,
			error = EXCLUDED.error, completed_at = EXCLUDED.completed_at`,
}

// NewPostgres creates a PostgresStore with a tuned connection pool.
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS applicants (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	given_name  TEXT NOT NULL,
	family_name TEXT NOT NULL,
	school_name TEXT NOT NULL,
	state_code  TEXT NOT NULL,
	norm_given  TEXT NOT NULL,
	norm_family TEXT NOT NULL,
	norm_school TEXT NOT NULL,
	norm_state  TEXT NOT NULL,
	documents   JSONB NOT NULL DEFAULT '[]',
	fields      JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_applicants_identity
	ON applicants(norm_given, norm_family, norm_school, norm_state);
CREATE INDEX IF NOT EXISTS idx_applicants_school ON applicants(norm_school, norm_state);
CREATE INDEX IF NOT EXISTS idx_applicants_family ON applicants(norm_family);

CREATE TABLE IF NOT EXISTS school_profiles (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	school_name   TEXT NOT NULL,
	state_code    TEXT NOT NULL,
	fields        JSONB NOT NULL DEFAULT '{}',
	review_status TEXT NOT NULL DEFAULT 'pending',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(school_name, state_code)
);

CREATE TABLE IF NOT EXISTS school_profile_versions (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	profile_id    TEXT NOT NULL REFERENCES school_profiles(id),
	version       INTEGER NOT NULL,
	fields        JSONB NOT NULL,
	review_status TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_profile_versions_profile
	ON school_profile_versions(profile_id, version);

CREATE TABLE IF NOT EXISTS stage_results (
	applicant_id TEXT NOT NULL REFERENCES applicants(id),
	stage_id     TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      JSONB,
	error        TEXT,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (applicant_id, stage_id)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	applicant_id     TEXT NOT NULL,
	actor            TEXT NOT NULL,
	interaction_type TEXT NOT NULL,
	payload          JSONB,
	sequence         BIGINT NOT NULL,
	timestamp        TIMESTAMPTZ NOT NULL,
	UNIQUE(applicant_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_audit_applicant ON audit_events(applicant_id, sequence);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(interaction_type);

CREATE TABLE IF NOT EXISTS upload_records (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	filename              TEXT NOT NULL,
	extracted             JSONB NOT NULL,
	extraction_confidence DOUBLE PRECISION NOT NULL,
	matched_applicant_id  TEXT,
	actual                JSONB NOT NULL,
	match_confidence      DOUBLE PRECISION NOT NULL,
	decision              TEXT NOT NULL,
	reviewed              BOOLEAN NOT NULL DEFAULT false,
	approved              BOOLEAN NOT NULL DEFAULT false,
	reviewer_id           TEXT,
	notes                 TEXT,
	reviewed_at           TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_uploads_applicant ON upload_records(matched_applicant_id);

CREATE TABLE IF NOT EXISTS workflow_states (
	applicant_id   TEXT PRIMARY KEY REFERENCES applicants(id),
	status         TEXT NOT NULL,
	current_stage  TEXT,
	pause_reason   TEXT,
	missing_fields JSONB NOT NULL DEFAULT '[]',
	gate_attempts  JSONB NOT NULL DEFAULT '{}',
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_status ON workflow_states(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// --- Applicants ---

func (s *PostgresStore) CreateApplicant(ctx context.Context, a *model.Applicant, key model.IdentityKey) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	docsJSON, fieldsJSON, err := marshalApplicantBags(a)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO applicants
		 (id, given_name, family_name, school_name, state_code,
		  norm_given, norm_family, norm_school, norm_state,
		  documents, fields, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.GivenName, a.FamilyName, a.SchoolName, a.StateCode,
		key.GivenName, key.FamilyName, key.SchoolName, key.StateCode,
		docsJSON, fieldsJSON, now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return eris.Wrap(err, "postgres: insert applicant")
	}
	return nil
}

func (s *PostgresStore) GetApplicant(ctx context.Context, id string) (*model.Applicant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
		 FROM applicants WHERE id = $1`, id)
	a, err := scanPgApplicant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) FindApplicantByKey(ctx context.Context, key model.IdentityKey) (*model.Applicant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
		 FROM applicants
		 WHERE norm_given = $1 AND norm_family = $2 AND norm_school = $3 AND norm_state = $4`,
		key.GivenName, key.FamilyName, key.SchoolName, key.StateCode)
	a, err := scanPgApplicant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) UpdateApplicant(ctx context.Context, a *model.Applicant) error {
	a.UpdatedAt = time.Now().UTC()

	docsJSON, fieldsJSON, err := marshalApplicantBags(a)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE applicants SET documents = $1, fields = $2, updated_at = $3 WHERE id = $4`,
		docsJSON, fieldsJSON, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update applicant %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "applicant %s", a.ID)
	}
	return nil
}

func (s *PostgresStore) SearchCandidates(ctx context.Context, q CandidateQuery) ([]model.Applicant, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
		 FROM applicants
		 WHERE ($1 <> '' AND norm_school = $1)
		    OR ($2 <> '' AND norm_family = $2)
		    OR ($3 <> '' AND $4 <> '' AND left(norm_given, 1) = left($3, 1) AND left(norm_family, 1) = left($4, 1))
		 ORDER BY id LIMIT $5`,
		q.SchoolName, q.FamilyName, q.GivenName, q.FamilyName, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search candidates")
	}
	defer rows.Close()

	var out []model.Applicant
	for rows.Next() {
		a, err := scanPgApplicant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: search candidates iterate")
}

// --- School profiles ---

func (s *PostgresStore) GetSchoolProfile(ctx context.Context, school, state string) (*model.SchoolProfile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, school_name, state_code, fields, review_status, confidence, version, created_at, updated_at
		 FROM school_profiles WHERE school_name = $1 AND state_code = $2`,
		school, state)
	p, err := scanPgProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) SaveSchoolProfile(ctx context.Context, p *model.SchoolProfile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	fieldsJSON, err := json.Marshal(p.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile fields")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin profile tx")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO school_profiles (id, school_name, state_code, fields, review_status, confidence, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
		 ON CONFLICT (school_name, state_code) DO UPDATE SET
		   fields = EXCLUDED.fields, review_status = EXCLUDED.review_status,
		   confidence = EXCLUDED.confidence, version = school_profiles.version + 1,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, version`,
		p.ID, p.SchoolName, p.StateCode, fieldsJSON,
		string(p.ReviewStatus), p.Confidence, p.CreatedAt, now,
	).Scan(&p.ID, &p.Version)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert profile")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO school_profile_versions (id, profile_id, version, fields, review_status, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), p.ID, p.Version, fieldsJSON,
		string(p.ReviewStatus), p.Confidence, now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert profile version")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit profile")
}

func (s *PostgresStore) ListProfileVersions(ctx context.Context, school, state string) ([]model.SchoolProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT v.id, p.school_name, p.state_code, v.fields, v.review_status, v.confidence, v.version, v.created_at, v.created_at
		 FROM school_profile_versions v
		 JOIN school_profiles p ON p.id = v.profile_id
		 WHERE p.school_name = $1 AND p.state_code = $2
		 ORDER BY v.version`,
		school, state)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list profile versions")
	}
	defer rows.Close()

	var out []model.SchoolProfile
	for rows.Next() {
		p, err := scanPgProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: profile versions iterate")
}

// --- Stage results ---

func (s *PostgresStore) SaveStageResult(ctx context.Context, r *model.StageResult) error {
	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage payload")
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stage_results (applicant_id, stage_id, status, payload, error, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (applicant_id, stage_id) DO UPDATE SET
		   status = EXCLUDED.status, payload = EXCLUDED.payload,
		   error = EXCLUDED.error, completed_at = EXCLUDED.completed_at`,
		r.ApplicantID, r.StageID, string(r.Status), payloadJSON, r.Error, r.CompletedAt,
	)
	return eris.Wrap(err, "postgres: save stage result")
}

func (s *PostgresStore) ListStageResults(ctx context.Context, applicantID string) ([]model.StageResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT applicant_id, stage_id, status, payload, error, completed_at
		 FROM stage_results WHERE applicant_id = $1 ORDER BY stage_id`,
		applicantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage results")
	}
	defer rows.Close()
	return collectPgStageResults(rows)
}

func (s *PostgresStore) ListRecentSyntheses(ctx context.Context, school, state string, limit int) ([]model.StageResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT r.applicant_id, r.stage_id, r.status, r.payload, r.error, r.completed_at
		 FROM stage_results r
		 JOIN applicants a ON a.id = r.applicant_id
		 WHERE r.stage_id = $1 AND r.status = $2 AND a.norm_school = $3 AND a.norm_state = $4
		 ORDER BY r.completed_at DESC LIMIT $5`,
		model.StageSynthesis, string(model.StageStatusOK), school, state, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent syntheses")
	}
	defer rows.Close()
	return collectPgStageResults(rows)
}

// --- Audit ---

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, e *model.AuditEvent) (int64, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal audit payload")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO audit_events (id, applicant_id, actor, interaction_type, payload, sequence, timestamp)
		 VALUES ($1, $2, $3, $4, $5,
		   (SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_events WHERE applicant_id = $2),
		   $6)
		 RETURNING sequence`,
		e.ID, e.ApplicantID, e.Actor, string(e.Type), payloadJSON, e.Timestamp,
	).Scan(&e.Sequence)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: append audit event")
	}
	return e.Sequence, nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, applicantID string, f AuditFilter) ([]model.AuditEvent, error) {
	query := `SELECT id, applicant_id, actor, interaction_type, payload, sequence, timestamp
	          FROM audit_events WHERE applicant_id = $1`
	args := []any{applicantID}
	n := 1

	if f.Type != "" {
		n++
		query += ` AND interaction_type = $` + itoa(n)
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		n++
		query += ` AND timestamp >= $` + itoa(n)
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		n++
		query += ` AND timestamp < $` + itoa(n)
		args = append(args, f.Until)
	}
	query += ` ORDER BY sequence`
	if f.Limit > 0 {
		n++
		query += ` LIMIT $` + itoa(n)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit events")
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var payloadJSON []byte
		var itype string
		if err := rows.Scan(&e.ID, &e.ApplicantID, &e.Actor, &itype, &payloadJSON, &e.Sequence, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit event")
		}
		e.Type = model.InteractionType(itype)
		if len(payloadJSON) > 0 && string(payloadJSON) != "null" {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal audit payload")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: audit events iterate")
}

// --- Uploads ---

func (s *PostgresStore) CreateUploadRecord(ctx context.Context, r *model.UploadRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	extractedJSON, err := json.Marshal(r.Extracted)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extracted identity")
	}
	actualJSON, err := json.Marshal(r.Actual)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal actual identity")
	}

	var matched *string
	if r.MatchedApplicantID != "" {
		matched = &r.MatchedApplicantID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO upload_records
		 (id, filename, extracted, extraction_confidence, matched_applicant_id, actual,
		  match_confidence, decision, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.Filename, extractedJSON, r.ExtractionConfidence, matched,
		actualJSON, r.MatchConfidence, string(r.Decision), r.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert upload record")
}

func (s *PostgresStore) GetUploadRecord(ctx context.Context, id string) (*model.UploadRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, extracted, extraction_confidence, matched_applicant_id, actual,
		        match_confidence, decision, reviewed, approved, reviewer_id, notes, reviewed_at, created_at
		 FROM upload_records WHERE id = $1`, id)

	var r model.UploadRecord
	var extractedJSON, actualJSON []byte
	var matched, reviewer, notes *string
	var reviewedAt *time.Time
	var decision string
	err := row.Scan(&r.ID, &r.Filename, &extractedJSON, &r.ExtractionConfidence, &matched, &actualJSON,
		&r.MatchConfidence, &decision, &r.Reviewed, &r.Approved, &reviewer, &notes, &reviewedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get upload record")
	}

	r.Decision = model.UploadDecision(decision)
	if matched != nil {
		r.MatchedApplicantID = *matched
	}
	if reviewer != nil {
		r.ReviewerID = *reviewer
	}
	if notes != nil {
		r.Notes = *notes
	}
	r.ReviewedAt = reviewedAt
	if err := json.Unmarshal(extractedJSON, &r.Extracted); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal extracted identity")
	}
	if err := json.Unmarshal(actualJSON, &r.Actual); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal actual identity")
	}
	return &r, nil
}

func (s *PostgresStore) ReviewUploadRecord(ctx context.Context, id string, review model.UploadReview) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE upload_records
		 SET reviewed = true, approved = $1, reviewer_id = $2, notes = $3, reviewed_at = $4
		 WHERE id = $5`,
		review.Approved, review.ReviewerID, review.Notes, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: review upload %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "upload record %s", id)
	}
	return nil
}

// --- Workflow states ---

func (s *PostgresStore) SaveWorkflowState(ctx context.Context, w *model.WorkflowState) error {
	w.UpdatedAt = time.Now().UTC()

	missingJSON, err := json.Marshal(w.MissingFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal missing fields")
	}
	attemptsJSON, err := json.Marshal(w.GateAttempts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal gate attempts")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_states (applicant_id, status, current_stage, pause_reason, missing_fields, gate_attempts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (applicant_id) DO UPDATE SET
		   status = EXCLUDED.status, current_stage = EXCLUDED.current_stage,
		   pause_reason = EXCLUDED.pause_reason, missing_fields = EXCLUDED.missing_fields,
		   gate_attempts = EXCLUDED.gate_attempts, updated_at = EXCLUDED.updated_at`,
		w.ApplicantID, string(w.Status), w.CurrentStage, w.PauseReason,
		missingJSON, attemptsJSON, w.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save workflow state")
}

func (s *PostgresStore) GetWorkflowState(ctx context.Context, applicantID string) (*model.WorkflowState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT applicant_id, status, current_stage, pause_reason, missing_fields, gate_attempts, updated_at
		 FROM workflow_states WHERE applicant_id = $1`, applicantID)
	w, err := scanPgWorkflowState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *PostgresStore) ListWorkflowStates(ctx context.Context, f WorkflowFilter) ([]model.WorkflowState, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var rows pgx.Rows
	var err error
	if f.Status != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT applicant_id, status, current_stage, pause_reason, missing_fields, gate_attempts, updated_at
			 FROM workflow_states WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`,
			string(f.Status), limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT applicant_id, status, current_stage, pause_reason, missing_fields, gate_attempts, updated_at
			 FROM workflow_states ORDER BY updated_at DESC LIMIT $1`,
			limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workflow states")
	}
	defer rows.Close()

	var out []model.WorkflowState
	for rows.Next() {
		w, err := scanPgWorkflowState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: workflow states iterate")
}

// --- helpers ---

func itoa(n int) string {
	return strconv.Itoa(n)
}

func scanPgApplicant(row pgx.Row) (*model.Applicant, error) {
	var a model.Applicant
	var docsJSON, fieldsJSON []byte
	err := row.Scan(&a.ID, &a.GivenName, &a.FamilyName, &a.SchoolName, &a.StateCode,
		&docsJSON, &fieldsJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan applicant")
	}
	if err := json.Unmarshal(docsJSON, &a.Documents); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal documents")
	}
	if err := json.Unmarshal(fieldsJSON, &a.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal fields")
	}
	return &a, nil
}

func scanPgProfile(row pgx.Row) (*model.SchoolProfile, error) {
	var p model.SchoolProfile
	var fieldsJSON []byte
	var status string
	err := row.Scan(&p.ID, &p.SchoolName, &p.StateCode, &fieldsJSON, &status,
		&p.Confidence, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan profile")
	}
	p.ReviewStatus = model.ReviewStatus(status)
	if err := json.Unmarshal(fieldsJSON, &p.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal profile fields")
	}
	return &p, nil
}

func scanPgWorkflowState(row pgx.Row) (*model.WorkflowState, error) {
	var w model.WorkflowState
	var status string
	var stage, reason *string
	var missingJSON, attemptsJSON []byte
	err := row.Scan(&w.ApplicantID, &status, &stage, &reason, &missingJSON, &attemptsJSON, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan workflow state")
	}
	w.Status = model.WorkflowStatus(status)
	if stage != nil {
		w.CurrentStage = *stage
	}
	if reason != nil {
		w.PauseReason = *reason
	}
	if err := json.Unmarshal(missingJSON, &w.MissingFields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal missing fields")
	}
	if err := json.Unmarshal(attemptsJSON, &w.GateAttempts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal gate attempts")
	}
	return &w, nil
}

func collectPgStageResults(rows pgx.Rows) ([]model.StageResult, error) {
	var out []model.StageResult
	for rows.Next() {
		var r model.StageResult
		var status string
		var payloadJSON []byte
		var errText *string
		if err := rows.Scan(&r.ApplicantID, &r.StageID, &status, &payloadJSON, &errText, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage result")
		}
		r.Status = model.StageStatus(status)
		if errText != nil {
			r.Error = *errText
		}
		if len(payloadJSON) > 0 && string(payloadJSON) != "null" {
			if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stage payload")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: stage results iterate")
}
