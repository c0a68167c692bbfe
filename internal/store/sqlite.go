package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/inspection-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is limited to one connection so pragmas apply to every statement
// and concurrent writers queue instead of failing with SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
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
CREATE TABLE IF NOT EXISTS properties (
	id              TEXT PRIMARY KEY,
	location        TEXT NOT NULL,
	inspection_date DATETIME NOT NULL,
	risk_score      INTEGER,
	risk_category   TEXT,
	summary_text    TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rooms (
	id            TEXT PRIMARY KEY,
	property_id   TEXT NOT NULL REFERENCES properties(id),
	room_type     TEXT NOT NULL,
	room_location TEXT,
	risk_score    INTEGER,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS findings (
	id                TEXT PRIMARY KEY,
	room_id           TEXT NOT NULL REFERENCES rooms(id),
	finding_type      TEXT NOT NULL CHECK (finding_type IN ('text', 'image')),
	note_text         TEXT,
	image_filename    TEXT,
	image_ref         TEXT,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS defect_tags (
	id               TEXT PRIMARY KEY,
	finding_id       TEXT NOT NULL REFERENCES findings(id),
	defect_category  TEXT NOT NULL,
	confidence_score REAL NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	severity_weight  INTEGER NOT NULL,
	classified_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS classification_history (
	id                    TEXT PRIMARY KEY,
	finding_id            TEXT NOT NULL REFERENCES findings(id),
	defect_category       TEXT NOT NULL,
	confidence_score      REAL NOT NULL,
	classification_method TEXT NOT NULL,
	classified_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS error_logs (
	id            TEXT PRIMARY KEY,
	error_type    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	entity_type   TEXT,
	entity_id     TEXT,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rooms_property_id ON rooms(property_id);
CREATE INDEX IF NOT EXISTS idx_findings_room_id ON findings(room_id);
CREATE INDEX IF NOT EXISTS idx_findings_status ON findings(processing_status);
CREATE INDEX IF NOT EXISTS idx_defect_tags_finding_id ON defect_tags(finding_id);
CREATE INDEX IF NOT EXISTS idx_defect_tags_category ON defect_tags(defect_category);
CREATE INDEX IF NOT EXISTS idx_history_finding_id ON classification_history(finding_id);
CREATE INDEX IF NOT EXISTS idx_error_logs_type ON error_logs(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Properties ---

func (s *SQLiteStore) UpsertProperty(ctx context.Context, p *model.Property) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (id, location, inspection_date, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET location = excluded.location, inspection_date = excluded.inspection_date`,
		p.ID, p.Location, p.InspectionDate.UTC(), p.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert property %s", p.ID)
}

const sqlitePropertyColumns = `p.id, p.location, p.inspection_date, p.risk_score,
	COALESCE(p.risk_category, ''), COALESCE(p.summary_text, ''), p.created_at`

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePropertyColumns+` FROM properties p WHERE p.id = ?`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "property %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get property %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error) {
	query := `SELECT ` + sqlitePropertyColumns + ` FROM properties p WHERE 1=1`
	var args []any

	if filter.RiskCategory != "" {
		query += ` AND p.risk_category = ?`
		args = append(args, string(filter.RiskCategory))
	}
	if filter.DefectType != "" {
		query += ` AND EXISTS (
			SELECT 1 FROM defect_tags t
			JOIN findings f ON f.id = t.finding_id
			JOIN rooms r ON r.id = f.room_id
			WHERE r.property_id = p.id AND t.defect_category = ?)`
		args = append(args, filter.DefectType)
	}
	if filter.Search != "" {
		query += ` AND (p.id LIKE ? OR p.location LIKE ?)`
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY p.id LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list properties")
	}
	defer rows.Close()

	var props []model.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan property")
		}
		props = append(props, *p)
	}
	return props, eris.Wrap(rows.Err(), "sqlite: list properties iterate")
}

func (s *SQLiteStore) UpdatePropertyRisk(ctx context.Context, id string, score int, category model.RiskCategory) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET risk_score = ?, risk_category = ? WHERE id = ?`,
		score, string(category), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update property risk %s", id)
	}
	return checkRowsAffected(res, "property", id)
}

func (s *SQLiteStore) UpdatePropertySummary(ctx context.Context, id string, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET summary_text = ? WHERE id = ?`, summary, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update property summary %s", id)
	}
	return checkRowsAffected(res, "property", id)
}

// --- Rooms ---

func (s *SQLiteStore) UpsertRoom(ctx context.Context, r *model.Room) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, property_id, room_type, room_location, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET room_type = excluded.room_type, room_location = excluded.room_location`,
		r.ID, r.PropertyID, r.RoomType, nullString(r.RoomLocation), r.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert room %s", r.ID)
}

const sqliteRoomColumns = `id, property_id, room_type, COALESCE(room_location, ''), risk_score, created_at`

func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRoomColumns+` FROM rooms WHERE id = ?`, id)
	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "room %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get room %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRooms(ctx context.Context, propertyID string) ([]model.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRoomColumns+` FROM rooms WHERE property_id = ? ORDER BY id`, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list rooms for %s", propertyID)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan room")
		}
		rooms = append(rooms, *r)
	}
	return rooms, eris.Wrap(rows.Err(), "sqlite: list rooms iterate")
}

func (s *SQLiteStore) UpdateRoomRisk(ctx context.Context, id string, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET risk_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update room risk %s", id)
	}
	return checkRowsAffected(res, "room", id)
}

// --- Findings ---

func (s *SQLiteStore) InsertFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert findings")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range findings {
		f := &findings[i]
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		if f.Status == "" {
			f.Status = model.StatusPending
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO findings (id, room_id, finding_type, note_text, image_filename, image_ref, processing_status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.RoomID, string(f.Type), nullString(f.NoteText), nullString(f.ImageFilename),
			nullString(f.ImageRef), string(f.Status), f.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert finding %s", f.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert findings")
}

const sqliteFindingColumns = `f.id, f.room_id, f.finding_type, COALESCE(f.note_text, ''),
	COALESCE(f.image_filename, ''), COALESCE(f.image_ref, ''), f.processing_status, f.created_at`

func (s *SQLiteStore) GetFinding(ctx context.Context, id string) (*model.Finding, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteFindingColumns+` FROM findings f WHERE f.id = ?`, id)
	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "finding %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get finding %s", id)
	}
	return f, nil
}

func (s *SQLiteStore) ListFindings(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	query := `SELECT ` + sqliteFindingColumns + ` FROM findings f JOIN rooms r ON r.id = f.room_id WHERE 1=1`
	var args []any
	if filter.PropertyID != "" {
		query += ` AND r.property_id = ?`
		args = append(args, filter.PropertyID)
	}
	if filter.RoomID != "" {
		query += ` AND f.room_id = ?`
		args = append(args, filter.RoomID)
	}
	if filter.Status != "" {
		query += ` AND f.processing_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY f.created_at, f.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list findings")
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan finding")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list findings iterate")
}

func (s *SQLiteStore) UpdateFindingStatus(ctx context.Context, id string, status model.ProcessingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET processing_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update finding status %s", id)
	}
	return checkRowsAffected(res, "finding", id)
}

// --- Classification ---

func (s *SQLiteStore) ApplyClassification(ctx context.Context, w ClassificationWrite) error {
	if err := validateWrite(w); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin classification")
	}
	defer tx.Rollback() //nolint:errcheck

	if w.ReplaceCurrent {
		if _, err := tx.ExecContext(ctx, `DELETE FROM defect_tags WHERE finding_id = ?`, w.FindingID); err != nil {
			return eris.Wrapf(err, "sqlite: delete current tags for %s", w.FindingID)
		}
	}
	for _, t := range w.Tags {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO defect_tags (id, finding_id, defect_category, confidence_score, severity_weight, classified_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, t.FindingID, t.Category, t.Confidence, t.SeverityWeight, t.ClassifiedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert defect tag for %s", w.FindingID)
		}
	}
	for _, h := range w.History {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO classification_history (id, finding_id, defect_category, confidence_score, classification_method, classified_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			h.ID, h.FindingID, h.Category, h.Confidence, string(h.Method), h.ClassifiedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert history for %s", w.FindingID)
		}
	}
	if w.Status != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE findings SET processing_status = ? WHERE id = ?`, string(w.Status), w.FindingID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update finding status %s", w.FindingID)
		}
		if err := checkRowsAffected(res, "finding", w.FindingID); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit classification")
}

const sqliteTagColumns = `t.id, t.finding_id, t.defect_category, t.confidence_score, t.severity_weight, t.classified_at`

func (s *SQLiteStore) ListCurrentTags(ctx context.Context, findingID string) ([]model.DefectTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTagColumns+` FROM defect_tags t WHERE t.finding_id = ?
		 ORDER BY t.severity_weight DESC, t.defect_category ASC, t.rowid ASC`, findingID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list tags for %s", findingID)
	}
	defer rows.Close()

	var tags []model.DefectTag
	for rows.Next() {
		var t model.DefectTag
		if err := rows.Scan(&t.ID, &t.FindingID, &t.Category, &t.Confidence, &t.SeverityWeight, &t.ClassifiedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tag")
		}
		tags = append(tags, t)
	}
	return tags, eris.Wrap(rows.Err(), "sqlite: list tags iterate")
}

func (s *SQLiteStore) ListHistory(ctx context.Context, findingID string) ([]model.ClassificationHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, finding_id, defect_category, confidence_score, classification_method, classified_at
		 FROM classification_history WHERE finding_id = ? ORDER BY classified_at ASC, rowid ASC`, findingID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list history for %s", findingID)
	}
	defer rows.Close()

	var out []model.ClassificationHistory
	for rows.Next() {
		var h model.ClassificationHistory
		if err := rows.Scan(&h.ID, &h.FindingID, &h.Category, &h.Confidence, &h.Method, &h.ClassifiedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list history iterate")
}

func (s *SQLiteStore) ListRoomTags(ctx context.Context, roomID string) ([]RoomTag, error) {
	return s.queryRoomTags(ctx,
		`SELECT `+sqliteTagColumns+`, f.room_id FROM defect_tags t
		 JOIN findings f ON f.id = t.finding_id
		 WHERE f.room_id = ?
		 ORDER BY t.severity_weight DESC, t.defect_category ASC, t.id ASC`, roomID)
}

func (s *SQLiteStore) ListPropertyTags(ctx context.Context, propertyID string) ([]RoomTag, error) {
	return s.queryRoomTags(ctx,
		`SELECT `+sqliteTagColumns+`, f.room_id FROM defect_tags t
		 JOIN findings f ON f.id = t.finding_id
		 JOIN rooms r ON r.id = f.room_id
		 WHERE r.property_id = ?
		 ORDER BY f.room_id ASC, t.severity_weight DESC, t.defect_category ASC, t.id ASC`, propertyID)
}

func (s *SQLiteStore) queryRoomTags(ctx context.Context, query string, arg string) ([]RoomTag, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list room tags for %s", arg)
	}
	defer rows.Close()

	var out []RoomTag
	for rows.Next() {
		var rt RoomTag
		if err := rows.Scan(&rt.ID, &rt.FindingID, &rt.Category, &rt.Confidence, &rt.SeverityWeight, &rt.ClassifiedAt, &rt.RoomID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan room tag")
		}
		out = append(out, rt)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list room tags iterate")
}

// --- Error log ---

func (s *SQLiteStore) InsertErrorLog(ctx context.Context, e *model.ErrorLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_logs (id, error_type, error_message, entity_type, entity_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.ErrorType), e.Message, nullString(e.EntityType), nullString(e.EntityID), e.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert error log")
}

func (s *SQLiteStore) ListErrorLogs(ctx context.Context, limit int) ([]model.ErrorLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, error_type, error_message, COALESCE(entity_type, ''), COALESCE(entity_id, ''), created_at
		 FROM error_logs ORDER BY created_at DESC, rowid DESC LIMIT ?`, defaultLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list error logs")
	}
	defer rows.Close()

	var out []model.ErrorLogEntry
	for rows.Next() {
		var e model.ErrorLogEntry
		if err := rows.Scan(&e.ID, &e.ErrorType, &e.Message, &e.EntityType, &e.EntityID, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan error log")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list error logs iterate")
}

// helpers

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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProperty(row scannable) (*model.Property, error) {
	var p model.Property
	if err := row.Scan(&p.ID, &p.Location, &p.InspectionDate, &p.RiskScore, &p.RiskCategory, &p.SummaryText, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRoom(row scannable) (*model.Room, error) {
	var r model.Room
	if err := row.Scan(&r.ID, &r.PropertyID, &r.RoomType, &r.RoomLocation, &r.RiskScore, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanFinding(row scannable) (*model.Finding, error) {
	var f model.Finding
	if err := row.Scan(&f.ID, &f.RoomID, &f.Type, &f.NoteText, &f.ImageFilename, &f.ImageRef, &f.Status, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
