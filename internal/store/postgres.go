package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inspection-cli/internal/db"
	"github.com/sells-group/inspection-cli/internal/model"
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

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_finding":         `SELECT ` + pgFindingColumns + ` FROM findings f WHERE f.id = $1`,
	"update_room_risk":    `UPDATE rooms SET risk_score = $1 WHERE id = $2`,
	"update_finding_stat": `UPDATE findings SET processing_status = $1 WHERE id = $2`,
	"insert_error_log":    `INSERT INTO error_logs (id, error_type, error_message, entity_type, entity_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id              TEXT PRIMARY KEY,
	location        TEXT NOT NULL,
	inspection_date TIMESTAMPTZ NOT NULL,
	risk_score      INTEGER,
	risk_category   TEXT,
	summary_text    TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rooms (
	id            TEXT PRIMARY KEY,
	property_id   TEXT NOT NULL REFERENCES properties(id),
	room_type     TEXT NOT NULL,
	room_location TEXT,
	risk_score    INTEGER,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS findings (
	id                TEXT PRIMARY KEY,
	room_id           TEXT NOT NULL REFERENCES rooms(id),
	finding_type      TEXT NOT NULL CHECK (finding_type IN ('text', 'image')),
	note_text         TEXT,
	image_filename    TEXT,
	image_ref         TEXT,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS defect_tags (
	id               TEXT PRIMARY KEY,
	finding_id       TEXT NOT NULL REFERENCES findings(id),
	defect_category  TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	severity_weight  INTEGER NOT NULL,
	classified_at    TIMESTAMPTZ NOT NULL,
	seq              BIGSERIAL
);

CREATE TABLE IF NOT EXISTS classification_history (
	id                    TEXT PRIMARY KEY,
	finding_id            TEXT NOT NULL REFERENCES findings(id),
	defect_category       TEXT NOT NULL,
	confidence_score      DOUBLE PRECISION NOT NULL,
	classification_method TEXT NOT NULL,
	classified_at         TIMESTAMPTZ NOT NULL,
	seq                   BIGSERIAL
);

CREATE TABLE IF NOT EXISTS error_logs (
	id            TEXT PRIMARY KEY,
	error_type    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	entity_type   TEXT,
	entity_id     TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rooms_property_id ON rooms(property_id);
CREATE INDEX IF NOT EXISTS idx_findings_room_id ON findings(room_id);
CREATE INDEX IF NOT EXISTS idx_findings_status ON findings(processing_status);
CREATE INDEX IF NOT EXISTS idx_defect_tags_finding_id ON defect_tags(finding_id);
CREATE INDEX IF NOT EXISTS idx_defect_tags_category ON defect_tags(defect_category);
CREATE INDEX IF NOT EXISTS idx_history_finding_id ON classification_history(finding_id);
CREATE INDEX IF NOT EXISTS idx_error_logs_type ON error_logs(error_type);
`

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

// --- Properties ---

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *model.Property) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO properties (id, location, inspection_date, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET location = EXCLUDED.location, inspection_date = EXCLUDED.inspection_date`,
		p.ID, p.Location, p.InspectionDate, p.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert property %s", p.ID)
}

const pgPropertyColumns = `p.id, p.location, p.inspection_date, p.risk_score,
	COALESCE(p.risk_category, ''), COALESCE(p.summary_text, ''), p.created_at`

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPropertyColumns+` FROM properties p WHERE p.id = $1`, id)
	p, err := scanProperty(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "property %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get property %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error) {
	query := `SELECT ` + pgPropertyColumns + ` FROM properties p WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.RiskCategory != "" {
		query += ` AND p.risk_category = ` + arg(string(filter.RiskCategory))
	}
	if filter.DefectType != "" {
		query += ` AND EXISTS (
			SELECT 1 FROM defect_tags t
			JOIN findings f ON f.id = t.finding_id
			JOIN rooms r ON r.id = f.room_id
			WHERE r.property_id = p.id AND t.defect_category = ` + arg(filter.DefectType) + `)`
	}
	if filter.Search != "" {
		like := arg("%" + filter.Search + "%")
		query += ` AND (p.id ILIKE ` + like + ` OR p.location ILIKE ` + like + `)`
	}
	query += ` ORDER BY p.id LIMIT ` + arg(defaultLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list properties")
	}
	defer rows.Close()

	var props []model.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan property")
		}
		props = append(props, *p)
	}
	return props, eris.Wrap(rows.Err(), "postgres: list properties iterate")
}

func (s *PostgresStore) UpdatePropertyRisk(ctx context.Context, id string, score int, category model.RiskCategory) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET risk_score = $1, risk_category = $2 WHERE id = $3`,
		score, string(category), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update property risk %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "property %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdatePropertySummary(ctx context.Context, id string, summary string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE properties SET summary_text = $1 WHERE id = $2`, summary, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update property summary %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "property %s", id)
	}
	return nil
}

// --- Rooms ---

func (s *PostgresStore) UpsertRoom(ctx context.Context, r *model.Room) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, property_id, room_type, room_location, created_at) VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		 ON CONFLICT (id) DO UPDATE SET room_type = EXCLUDED.room_type, room_location = EXCLUDED.room_location`,
		r.ID, r.PropertyID, r.RoomType, r.RoomLocation, r.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert room %s", r.ID)
}

const pgRoomColumns = `id, property_id, room_type, COALESCE(room_location, ''), risk_score, created_at`

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRoomColumns+` FROM rooms WHERE id = $1`, id)
	r, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "room %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get room %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, propertyID string) ([]model.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRoomColumns+` FROM rooms WHERE property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list rooms for %s", propertyID)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan room")
		}
		rooms = append(rooms, *r)
	}
	return rooms, eris.Wrap(rows.Err(), "postgres: list rooms iterate")
}

func (s *PostgresStore) UpdateRoomRisk(ctx context.Context, id string, score int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rooms SET risk_score = $1 WHERE id = $2`, score, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update room risk %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "room %s", id)
	}
	return nil
}

// --- Findings ---

var findingCopyColumns = []string{
	"id", "room_id", "finding_type", "note_text", "image_filename", "image_ref", "processing_status", "created_at",
}

// InsertFindings bulk-loads findings with COPY.
func (s *PostgresStore) InsertFindings(ctx context.Context, findings []model.Finding) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(findings))
	for i := range findings {
		f := &findings[i]
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		if f.Status == "" {
			f.Status = model.StatusPending
		}
		rows = append(rows, []any{
			f.ID, f.RoomID, string(f.Type), nullable(f.NoteText), nullable(f.ImageFilename),
			nullable(f.ImageRef), string(f.Status), f.CreatedAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "findings", findingCopyColumns, rows)
	return eris.Wrap(err, "postgres: insert findings")
}

const pgFindingColumns = `f.id, f.room_id, f.finding_type, COALESCE(f.note_text, ''),
	COALESCE(f.image_filename, ''), COALESCE(f.image_ref, ''), f.processing_status, f.created_at`

func (s *PostgresStore) GetFinding(ctx context.Context, id string) (*model.Finding, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgFindingColumns+` FROM findings f WHERE f.id = $1`, id)
	f, err := scanFinding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "finding %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get finding %s", id)
	}
	return f, nil
}

func (s *PostgresStore) ListFindings(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	query := `SELECT ` + pgFindingColumns + ` FROM findings f JOIN rooms r ON r.id = f.room_id WHERE 1=1`
	var args []any
	if filter.PropertyID != "" {
		args = append(args, filter.PropertyID)
		query += ` AND r.property_id = $` + strconv.Itoa(len(args))
	}
	if filter.RoomID != "" {
		args = append(args, filter.RoomID)
		query += ` AND f.room_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND f.processing_status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY f.created_at, f.id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list findings")
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan finding")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list findings iterate")
}

func (s *PostgresStore) UpdateFindingStatus(ctx context.Context, id string, status model.ProcessingStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE findings SET processing_status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update finding status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "finding %s", id)
	}
	return nil
}

// --- Classification ---

func (s *PostgresStore) ApplyClassification(ctx context.Context, w ClassificationWrite) error {
	if err := validateWrite(w); err != nil {
		return err
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if w.ReplaceCurrent {
			if _, err := tx.Exec(ctx, `DELETE FROM defect_tags WHERE finding_id = $1`, w.FindingID); err != nil {
				return eris.Wrapf(err, "postgres: delete current tags for %s", w.FindingID)
			}
		}
		for _, t := range w.Tags {
			_, err := tx.Exec(ctx,
				`INSERT INTO defect_tags (id, finding_id, defect_category, confidence_score, severity_weight, classified_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				t.ID, t.FindingID, t.Category, t.Confidence, t.SeverityWeight, t.ClassifiedAt,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: insert defect tag for %s", w.FindingID)
			}
		}
		for _, h := range w.History {
			_, err := tx.Exec(ctx,
				`INSERT INTO classification_history (id, finding_id, defect_category, confidence_score, classification_method, classified_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				h.ID, h.FindingID, h.Category, h.Confidence, string(h.Method), h.ClassifiedAt,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: insert history for %s", w.FindingID)
			}
		}
		if w.Status != "" {
			tag, err := tx.Exec(ctx,
				`UPDATE findings SET processing_status = $1 WHERE id = $2`, string(w.Status), w.FindingID)
			if err != nil {
				return eris.Wrapf(err, "postgres: update finding status %s", w.FindingID)
			}
			if tag.RowsAffected() == 0 {
				return eris.Wrapf(ErrNotFound, "finding %s", w.FindingID)
			}
		}
		return nil
	})
}

const pgTagColumns = `t.id, t.finding_id, t.defect_category, t.confidence_score, t.severity_weight, t.classified_at`

func (s *PostgresStore) ListCurrentTags(ctx context.Context, findingID string) ([]model.DefectTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgTagColumns+` FROM defect_tags t WHERE t.finding_id = $1
		 ORDER BY t.severity_weight DESC, t.defect_category ASC, t.seq ASC`, findingID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list tags for %s", findingID)
	}
	defer rows.Close()

	var tags []model.DefectTag
	for rows.Next() {
		var t model.DefectTag
		if err := rows.Scan(&t.ID, &t.FindingID, &t.Category, &t.Confidence, &t.SeverityWeight, &t.ClassifiedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tag")
		}
		tags = append(tags, t)
	}
	return tags, eris.Wrap(rows.Err(), "postgres: list tags iterate")
}

func (s *PostgresStore) ListHistory(ctx context.Context, findingID string) ([]model.ClassificationHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, finding_id, defect_category, confidence_score, classification_method, classified_at
		 FROM classification_history WHERE finding_id = $1 ORDER BY classified_at ASC, seq ASC`, findingID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list history for %s", findingID)
	}
	defer rows.Close()

	var out []model.ClassificationHistory
	for rows.Next() {
		var h model.ClassificationHistory
		if err := rows.Scan(&h.ID, &h.FindingID, &h.Category, &h.Confidence, &h.Method, &h.ClassifiedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list history iterate")
}

func (s *PostgresStore) ListRoomTags(ctx context.Context, roomID string) ([]RoomTag, error) {
	return s.queryRoomTags(ctx,
		`SELECT `+pgTagColumns+`, f.room_id FROM defect_tags t
		 JOIN findings f ON f.id = t.finding_id
		 WHERE f.room_id = $1
		 ORDER BY t.severity_weight DESC, t.defect_category ASC, t.id ASC`, roomID)
}

func (s *PostgresStore) ListPropertyTags(ctx context.Context, propertyID string) ([]RoomTag, error) {
	return s.queryRoomTags(ctx,
		`SELECT `+pgTagColumns+`, f.room_id FROM defect_tags t
		 JOIN findings f ON f.id = t.finding_id
		 JOIN rooms r ON r.id = f.room_id
		 WHERE r.property_id = $1
		 ORDER BY f.room_id ASC, t.severity_weight DESC, t.defect_category ASC, t.id ASC`, propertyID)
}

func (s *PostgresStore) queryRoomTags(ctx context.Context, query string, arg string) ([]RoomTag, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list room tags for %s", arg)
	}
	defer rows.Close()

	var out []RoomTag
	for rows.Next() {
		var rt RoomTag
		if err := rows.Scan(&rt.ID, &rt.FindingID, &rt.Category, &rt.Confidence, &rt.SeverityWeight, &rt.ClassifiedAt, &rt.RoomID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan room tag")
		}
		out = append(out, rt)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list room tags iterate")
}

// --- Error log ---

func (s *PostgresStore) InsertErrorLog(ctx context.Context, e *model.ErrorLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO error_logs (id, error_type, error_message, entity_type, entity_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, string(e.ErrorType), e.Message, nullable(e.EntityType), nullable(e.EntityID), e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert error log")
}

func (s *PostgresStore) ListErrorLogs(ctx context.Context, limit int) ([]model.ErrorLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, error_type, error_message, COALESCE(entity_type, ''), COALESCE(entity_id, ''), created_at
		 FROM error_logs ORDER BY created_at DESC LIMIT $1`, defaultLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list error logs")
	}
	defer rows.Close()

	var out []model.ErrorLogEntry
	for rows.Next() {
		var e model.ErrorLogEntry
		if err := rows.Scan(&e.ID, &e.ErrorType, &e.Message, &e.EntityType, &e.EntityID, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan error log")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list error logs iterate")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
