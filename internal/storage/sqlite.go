package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netforge-io/changerd/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteChangeLog implements ChangeLog on SQLite.
type SQLiteChangeLog struct {
	db   *sql.DB
	path string
}

// NewSQLiteChangeLog opens (or creates) the change log database inside
// dataDir.
func NewSQLiteChangeLog(dataDir string) (*SQLiteChangeLog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "changelog.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteChangeLog{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

// schemaVersion is bumped together with schema.sql when the layout changes.
const schemaVersion = 1

func (s *SQLiteChangeLog) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		schemaVersion, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteChangeLog) Append(rec *model.ChangeRecord) error {
	commands, err := json.Marshal(rec.Commands)
	if err != nil {
		return fmt.Errorf("encoding commands: %w", err)
	}
	rollbacks, err := json.Marshal(rec.RollbackCommands)
	if err != nil {
		return fmt.Errorf("encoding rollback commands: %w", err)
	}
	detail, err := encodeDetail(rec.ResultDetail)
	if err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO change_records (
			change_id, device_id, tenant_id, category, router_profile,
			site_profile, actor, change_ticket, status, commands,
			rollback_commands, result_detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ChangeID, rec.DeviceID, rec.TenantID, rec.Category, rec.RouterProfile,
		rec.SiteProfile, rec.Actor, rec.ChangeTicket, string(rec.Status), string(commands),
		string(rollbacks), detail, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("change %s: %w", rec.ChangeID, ErrChangeExists)
		}
		return fmt.Errorf("inserting change record: %w", err)
	}
	return nil
}

func (s *SQLiteChangeLog) UpdateStatus(changeID string, status model.Status, detail *model.ResultDetail) error {
	encoded, err := encodeDetail(detail)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var res sql.Result
	switch status {
	case model.StatusApplied:
		res, err = s.db.Exec(`UPDATE change_records SET status = ?, result_detail = ?, applied_at = ? WHERE change_id = ?`,
			string(status), encoded, now, changeID)
	case model.StatusRolledBack:
		res, err = s.db.Exec(`UPDATE change_records SET status = ?, result_detail = ?, rolled_back_at = ? WHERE change_id = ?`,
			string(status), encoded, now, changeID)
	default:
		res, err = s.db.Exec(`UPDATE change_records SET status = ?, result_detail = ? WHERE change_id = ?`,
			string(status), encoded, changeID)
	}
	if err != nil {
		return fmt.Errorf("updating change record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("change %s: %w", changeID, ErrChangeNotFound)
	}
	return nil
}

func (s *SQLiteChangeLog) Get(changeID string) (*model.ChangeRecord, error) {
	row := s.db.QueryRow(selectColumns+` FROM change_records WHERE change_id = ?`, changeID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("change %s: %w", changeID, ErrChangeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading change record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteChangeLog) List(filter model.ChangeFilter) ([]*model.ChangeRecord, error) {
	query := selectColumns + ` FROM change_records WHERE 1=1`
	var args []any
	if filter.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, filter.DeviceID)
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	query += ` ORDER BY created_at DESC, change_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing change records: %w", err)
	}
	defer rows.Close()

	var out []*model.ChangeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("reading change record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteChangeLog) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT change_id, device_id, tenant_id, category, router_profile,
	site_profile, actor, change_ticket, status, commands, rollback_commands,
	result_detail, created_at, applied_at, rolled_back_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.ChangeRecord, error) {
	var rec model.ChangeRecord
	var status, commands, rollbacks, createdAt string
	var detail, appliedAt, rolledBackAt sql.NullString

	err := row.Scan(
		&rec.ChangeID, &rec.DeviceID, &rec.TenantID, &rec.Category, &rec.RouterProfile,
		&rec.SiteProfile, &rec.Actor, &rec.ChangeTicket, &status, &commands, &rollbacks,
		&detail, &createdAt, &appliedAt, &rolledBackAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = model.Status(status)
	if err := json.Unmarshal([]byte(commands), &rec.Commands); err != nil {
		return nil, fmt.Errorf("decoding commands: %w", err)
	}
	if err := json.Unmarshal([]byte(rollbacks), &rec.RollbackCommands); err != nil {
		return nil, fmt.Errorf("decoding rollback commands: %w", err)
	}
	if detail.Valid && detail.String != "" {
		rec.ResultDetail = &model.ResultDetail{}
		if err := json.Unmarshal([]byte(detail.String), rec.ResultDetail); err != nil {
			return nil, fmt.Errorf("decoding result detail: %w", err)
		}
	}

	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decoding created_at: %w", err)
	}
	if rec.AppliedAt, err = parseNullTime(appliedAt); err != nil {
		return nil, fmt.Errorf("decoding applied_at: %w", err)
	}
	if rec.RolledBackAt, err = parseNullTime(rolledBackAt); err != nil {
		return nil, fmt.Errorf("decoding rolled_back_at: %w", err)
	}
	return &rec, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeDetail(detail *model.ResultDetail) (any, error) {
	if detail == nil {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encoding result detail: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
