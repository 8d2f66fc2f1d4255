package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/evaluation-cli/internal/model"
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
CREATE TABLE IF NOT EXISTS applicants (
	id          TEXT PRIMARY KEY,
	given_name  TEXT NOT NULL,
	family_name TEXT NOT NULL,
	school_name TEXT NOT NULL,
	state_code  TEXT NOT NULL,
	norm_given  TEXT NOT NULL,
	norm_family TEXT NOT NULL,
	norm_school TEXT NOT NULL,
	norm_state  TEXT NOT NULL,
	documents   TEXT NOT NULL DEFAULT '[]',
	fields      TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_applicants_identity
	ON applicants(norm_given, norm_family, norm_school, norm_state);
CREATE INDEX IF NOT EXISTS idx_applicants_school ON applicants(norm_school, norm_state);
CREATE INDEX IF NOT EXISTS idx_applicants_family ON applicants(norm_family);

CREATE TABLE IF NOT EXISTS school_profiles (
	id            TEXT PRIMARY KEY,
	school_name   TEXT NOT NULL,
	state_code    TEXT NOT NULL,
	fields        TEXT NOT NULL DEFAULT '{}',
	review_status TEXT NOT NULL DEFAULT 'pending',
	confidence    REAL NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(school_name, state_code)
);

CREATE TABLE IF NOT EXISTS school_profile_versions (
	id            TEXT PRIMARY KEY,
	profile_id    TEXT NOT NULL REFERENCES school_profiles(id),
	version       INTEGER NOT NULL,
	fields        TEXT NOT NULL,
	review_status TEXT NOT NULL,
	confidence    REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_profile_versions_profile
	ON school_profile_versions(profile_id, version);

CREATE TABLE IF NOT EXISTS stage_results (
	applicant_id TEXT NOT NULL REFERENCES applicants(id),
	stage_id     TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      TEXT,
	error        TEXT,
	completed_at DATETIME NOT NULL,
	PRIMARY KEY (applicant_id, stage_id)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id               TEXT PRIMARY KEY,
	applicant_id     TEXT NOT NULL,
	actor            TEXT NOT NULL,
	interaction_type TEXT NOT NULL,
	payload          TEXT,
	sequence         INTEGER NOT NULL,
	timestamp        DATETIME NOT NULL,
	UNIQUE(applicant_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_audit_applicant ON audit_events(applicant_id, sequence);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(interaction_type);

CREATE TABLE IF NOT EXISTS upload_records (
	id                    TEXT PRIMARY KEY,
	filename              TEXT NOT NULL,
	extracted             TEXT NOT NULL,
	extraction_confidence REAL NOT NULL,
	matched_applicant_id  TEXT,
	actual                TEXT NOT NULL,
	match_confidence      REAL NOT NULL,
	decision              TEXT NOT NULL,
	reviewed              INTEGER NOT NULL DEFAULT 0,
	approved              INTEGER NOT NULL DEFAULT 0,
	reviewer_id           TEXT,
	notes                 TEXT,
	reviewed_at           DATETIME,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_uploads_applicant ON upload_records(matched_applicant_id);

CREATE TABLE IF NOT EXISTS workflow_states (
	applicant_id   TEXT PRIMARY KEY REFERENCES applicants(id),
	status         TEXT NOT NULL,
	current_stage  TEXT,
	pause_reason   TEXT,
	missing_fields TEXT NOT NULL DEFAULT '[]',
	gate_attempts  TEXT NOT NULL DEFAULT '{}',
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_status ON workflow_states(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Applicants ---

func (s *SQLiteStore) CreateApplicant(ctx context.Context, a *model.Applicant, key model.IdentityKey) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO applicants
		 (id, given_name, family_name, school_name, state_code,
		  norm_given, norm_family, norm_school, norm_state,
		  documents, fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.GivenName, a.FamilyName, a.SchoolName, a.StateCode,
		key.GivenName, key.FamilyName, key.SchoolName, key.StateCode,
		docsJSON, fieldsJSON, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return eris.Wrap(err, "sqlite: insert applicant")
	}
	return nil
}

func (s *SQLiteStore) GetApplicant(ctx context.Context, id string) (*model.Applicant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
		 FROM applicants WHERE id = ?`, id)
	a, err := scanApplicant(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) FindApplicantByKey(ctx context.Context, key model.IdentityKey) (*model.Applicant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
		 FROM applicants
		 WHERE norm_given = ? AND norm_family = ? AND norm_school = ? AND norm_state = ?`,
		key.GivenName, key.FamilyName, key.SchoolName, key.StateCode)
	a, err := scanApplicant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) UpdateApplicant(ctx context.Context, a *model.Applicant) error {
	a.UpdatedAt = time.Now().UTC()

	docsJSON, fieldsJSON, err := marshalApplicantBags(a)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE applicants SET documents = ?, fields = ?, updated_at = ? WHERE id = ?`,
		docsJSON, fieldsJSON, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update applicant %s", a.ID)
	}
	return checkRowsAffected(res, "applicant", a.ID)
}

func (s *SQLiteStore) SearchCandidates(ctx context.Context, q CandidateQuery) ([]model.Applicant, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	// The scan is deliberately broad; tier scoring in the match package
	// decides what actually counts as a candidate.
	query := `SELECT id, given_name, family_name, school_name, state_code, documents, fields, created_at, updated_at
	          FROM applicants WHERE 0=1`
	var args []any
	if q.SchoolName != "" {
		query += ` OR norm_school = ?`
		args = append(args, q.SchoolName)
	}
	if q.FamilyName != "" {
		query += ` OR norm_family = ?`
		args = append(args, q.FamilyName)
	}
	if q.GivenName != "" && q.FamilyName != "" {
		query += ` OR (substr(norm_given, 1, 1) = ? AND substr(norm_family, 1, 1) = ?)`
		args = append(args, q.GivenName[:1], q.FamilyName[:1])
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search candidates")
	}
	defer rows.Close()

	var out []model.Applicant
	for rows.Next() {
		a, err := scanApplicant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: search candidates iterate")
}

// --- School profiles ---

func (s *SQLiteStore) GetSchoolProfile(ctx context.Context, school, state string) (*model.SchoolProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, school_name, state_code, fields, review_status, confidence, version, created_at, updated_at
		 FROM school_profiles WHERE school_name = ? AND state_code = ?`,
		school, state)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) SaveSchoolProfile(ctx context.Context, p *model.SchoolProfile) error {
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
		return eris.Wrap(err, "sqlite: marshal profile fields")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin profile tx")
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM school_profiles WHERE school_name = ? AND state_code = ?`,
		p.SchoolName, p.StateCode).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		p.Version = 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO school_profiles
			 (id, school_name, state_code, fields, review_status, confidence, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SchoolName, p.StateCode, string(fieldsJSON),
			string(p.ReviewStatus), p.Confidence, p.Version, p.CreatedAt, now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert profile")
		}
	case err != nil:
		return eris.Wrap(err, "sqlite: read profile version")
	default:
		p.Version = version + 1
		// Keep the original head id stable across versions.
		err = tx.QueryRowContext(ctx,
			`UPDATE school_profiles
			 SET fields = ?, review_status = ?, confidence = ?, version = ?, updated_at = ?
			 WHERE school_name = ? AND state_code = ?
			 RETURNING id`,
			string(fieldsJSON), string(p.ReviewStatus), p.Confidence, p.Version, now,
			p.SchoolName, p.StateCode).Scan(&p.ID)
		if err != nil {
			return eris.Wrap(err, "sqlite: update profile")
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO school_profile_versions (id, profile_id, version, fields, review_status, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), p.ID, p.Version, string(fieldsJSON),
		string(p.ReviewStatus), p.Confidence, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert profile version")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit profile")
}

func (s *SQLiteStore) ListProfileVersions(ctx context.Context, school, state string) ([]model.SchoolProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, p.school_name, p.state_code, v.fields, v.review_status, v.confidence, v.version, v.created_at, v.created_at
		 FROM school_profile_versions v
		 JOIN school_profiles p ON p.id = v.profile_id
		 WHERE p.school_name = ? AND p.state_code = ?
		 ORDER BY v.version`,
		school, state)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profile versions")
	}
	defer rows.Close()

	var out []model.SchoolProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: profile versions iterate")
}

// --- Stage results ---

func (s *SQLiteStore) SaveStageResult(ctx context.Context, r *model.StageResult) error {
	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage payload")
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_results (applicant_id, stage_id, status, payload, error, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (applicant_id, stage_id) DO UPDATE SET
		   status = excluded.status, payload = excluded.payload,
		   error = excluded.error, completed_at = excluded.completed_at`,
		r.ApplicantID, r.StageID, string(r.Status), string(payloadJSON), r.Error, r.CompletedAt,
	)
	return eris.Wrap(err, "sqlite: save stage result")
}

func (s *SQLiteStore) ListStageResults(ctx context.Context, applicantID string) ([]model.StageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT applicant_id, stage_id, status, payload, error, completed_at
		 FROM stage_results WHERE applicant_id = ? ORDER BY stage_id`,
		applicantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage results")
	}
	defer rows.Close()
	return collectStageResults(rows)
}

func (s *SQLiteStore) ListRecentSyntheses(ctx context.Context, school, state string, limit int) ([]model.StageResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.applicant_id, r.stage_id, r.status, r.payload, r.error, r.completed_at
		 FROM stage_results r
		 JOIN applicants a ON a.id = r.applicant_id
		 WHERE r.stage_id = ? AND r.status = ? AND a.norm_school = ? AND a.norm_state = ?
		 ORDER BY r.completed_at DESC LIMIT ?`,
		model.StageSynthesis, string(model.StageStatusOK), school, state, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent syntheses")
	}
	defer rows.Close()
	return collectStageResults(rows)
}

// --- Audit ---

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, e *model.AuditEvent) (int64, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal audit payload")
	}

	// The subselect assigns the next per-applicant sequence atomically
	// within a single statement.
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO audit_events (id, applicant_id, actor, interaction_type, payload, sequence, timestamp)
		 VALUES (?, ?, ?, ?, ?,
		   (SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_events WHERE applicant_id = ?),
		   ?)
		 RETURNING sequence`,
		e.ID, e.ApplicantID, e.Actor, string(e.Type), string(payloadJSON), e.ApplicantID, e.Timestamp,
	).Scan(&e.Sequence)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append audit event")
	}
	return e.Sequence, nil
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, applicantID string, f AuditFilter) ([]model.AuditEvent, error) {
	query := `SELECT id, applicant_id, actor, interaction_type, payload, sequence, timestamp
	          FROM audit_events WHERE applicant_id = ?`
	args := []any{applicantID}

	if f.Type != "" {
		query += ` AND interaction_type = ?`
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, f.Until)
	}
	query += ` ORDER BY sequence`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit events")
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var payloadJSON sql.NullString
		var itype string
		if err := rows.Scan(&e.ID, &e.ApplicantID, &e.Actor, &itype, &payloadJSON, &e.Sequence, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit event")
		}
		e.Type = model.InteractionType(itype)
		if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal audit payload")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: audit events iterate")
}

// --- Uploads ---

func (s *SQLiteStore) CreateUploadRecord(ctx context.Context, r *model.UploadRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	extractedJSON, err := json.Marshal(r.Extracted)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extracted identity")
	}
	actualJSON, err := json.Marshal(r.Actual)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal actual identity")
	}

	var matched sql.NullString
	if r.MatchedApplicantID != "" {
		matched = sql.NullString{String: r.MatchedApplicantID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO upload_records
		 (id, filename, extracted, extraction_confidence, matched_applicant_id, actual,
		  match_confidence, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Filename, string(extractedJSON), r.ExtractionConfidence, matched,
		string(actualJSON), r.MatchConfidence, string(r.Decision), r.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert upload record")
}

func (s *SQLiteStore) GetUploadRecord(ctx context.Context, id string) (*model.UploadRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, extracted, extraction_confidence, matched_applicant_id, actual,
		        match_confidence, decision, reviewed, approved, reviewer_id, notes, reviewed_at, created_at
		 FROM upload_records WHERE id = ?`, id)

	var r model.UploadRecord
	var extractedJSON, actualJSON string
	var matched, reviewer, notes sql.NullString
	var reviewedAt sql.NullTime
	var decision string
	err := row.Scan(&r.ID, &r.Filename, &extractedJSON, &r.ExtractionConfidence, &matched, &actualJSON,
		&r.MatchConfidence, &decision, &r.Reviewed, &r.Approved, &reviewer, &notes, &reviewedAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get upload record")
	}

	r.Decision = model.UploadDecision(decision)
	r.MatchedApplicantID = matched.String
	r.ReviewerID = reviewer.String
	r.Notes = notes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		r.ReviewedAt = &t
	}
	if err := json.Unmarshal([]byte(extractedJSON), &r.Extracted); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal extracted identity")
	}
	if err := json.Unmarshal([]byte(actualJSON), &r.Actual); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal actual identity")
	}
	return &r, nil
}

func (s *SQLiteStore) ReviewUploadRecord(ctx context.Context, id string, review model.UploadReview) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_records
		 SET reviewed = 1, approved = ?, reviewer_id = ?, notes = ?, reviewed_at = ?
		 WHERE id = ?`,
		review.Approved, review.ReviewerID, review.Notes, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: review upload %s", id)
	}
	return checkRowsAffected(res, "upload record", id)
}

// --- Workflow states ---

func (s *SQLiteStore) SaveWorkflowState(ctx context.Context, w *model.WorkflowState) error {
	w.UpdatedAt = time.Now().UTC()

	missingJSON, err := json.Marshal(w.MissingFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal missing fields")
	}
	attemptsJSON, err := json.Marshal(w.GateAttempts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal gate attempts")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_states (applicant_id, status, current_stage, pause_reason, missing_fields, gate_attempts, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (applicant_id) DO UPDATE SET
		   status = excluded.status, current_stage = excluded.current_stage,
		   pause_reason = excluded.pause_reason, missing_fields = excluded.missing_fields,
		   gate_attempts = excluded.gate_attempts, updated_at = excluded.updated_at`,
		w.ApplicantID, string(w.Status), w.CurrentStage, w.PauseReason,
		string(missingJSON), string(attemptsJSON), w.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save workflow state")
}

func (s *SQLiteStore) GetWorkflowState(ctx context.Context, applicantID string) (*model.WorkflowState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT applicant_id, status, current_stage, pause_reason, missing_fields, gate_attempts, updated_at
		 FROM workflow_states WHERE applicant_id = ?`, applicantID)
	w, err := scanWorkflowState(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *SQLiteStore) ListWorkflowStates(ctx context.Context, f WorkflowFilter) ([]model.WorkflowState, error) {
	query := `SELECT applicant_id, status, current_stage, pause_reason, missing_fields, gate_attempts, updated_at
	          FROM workflow_states WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY updated_at DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workflow states")
	}
	defer rows.Close()

	var out []model.WorkflowState
	for rows.Next() {
		w, err := scanWorkflowState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: workflow states iterate")
}

// --- helpers ---

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

func marshalApplicantBags(a *model.Applicant) (string, string, error) {
	docs := a.Documents
	if docs == nil {
		docs = []string{}
	}
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal documents")
	}
	fields := a.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal fields")
	}
	return string(docsJSON), string(fieldsJSON), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanApplicant(row scannable) (*model.Applicant, error) {
	var a model.Applicant
	var docsJSON, fieldsJSON string
	err := row.Scan(&a.ID, &a.GivenName, &a.FamilyName, &a.SchoolName, &a.StateCode,
		&docsJSON, &fieldsJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan applicant")
	}
	if err := json.Unmarshal([]byte(docsJSON), &a.Documents); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal documents")
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &a.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal fields")
	}
	return &a, nil
}

func scanProfile(row scannable) (*model.SchoolProfile, error) {
	var p model.SchoolProfile
	var fieldsJSON, status string
	err := row.Scan(&p.ID, &p.SchoolName, &p.StateCode, &fieldsJSON, &status,
		&p.Confidence, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan profile")
	}
	p.ReviewStatus = model.ReviewStatus(status)
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal profile fields")
	}
	return &p, nil
}

func scanWorkflowState(row scannable) (*model.WorkflowState, error) {
	var w model.WorkflowState
	var status string
	var stage, reason sql.NullString
	var missingJSON, attemptsJSON string
	err := row.Scan(&w.ApplicantID, &status, &stage, &reason, &missingJSON, &attemptsJSON, &w.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan workflow state")
	}
	w.Status = model.WorkflowStatus(status)
	w.CurrentStage = stage.String
	w.PauseReason = reason.String
	if err := json.Unmarshal([]byte(missingJSON), &w.MissingFields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal missing fields")
	}
	if err := json.Unmarshal([]byte(attemptsJSON), &w.GateAttempts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal gate attempts")
	}
	return &w, nil
}

func collectStageResults(rows *sql.Rows) ([]model.StageResult, error) {
	var out []model.StageResult
	for rows.Next() {
		var r model.StageResult
		var status string
		var payloadJSON, errText sql.NullString
		if err := rows.Scan(&r.ApplicantID, &r.StageID, &status, &payloadJSON, &errText, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage result")
		}
		r.Status = model.StageStatus(status)
		r.Error = errText.String
		if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &r.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stage payload")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: stage results iterate")
}
