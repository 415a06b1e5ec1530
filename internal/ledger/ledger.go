// Package ledger records which bundles have already been uploaded, so a
// re-run of the same archive only pushes what is still missing.
package ledger

import (
	"time"

	"github.com/carbocation/pfx"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	run_id      TEXT NOT NULL,
	subject     TEXT NOT NULL,
	series_uid  TEXT NOT NULL,
	bundle_path TEXT NOT NULL,
	uploaded_at TIMESTAMP NOT NULL,
	PRIMARY KEY (subject, series_uid)
);`

// Ledger is a small sqlite-backed upload log keyed on (subject, series).
type Ledger struct {
	db *sqlx.DB
}

// Upload is one recorded bundle upload.
type Upload struct {
	RunID      string    `db:"run_id"`
	Subject    string    `db:"subject"`
	SeriesUID  string    `db:"series_uid"`
	BundlePath string    `db:"bundle_path"`
	UploadedAt time.Time `db:"uploaded_at"`
}

func Open(path string) (*Ledger, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, pfx.Err(err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pfx.Err(err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordUpload marks a (subject, series) pair uploaded. Re-recording the same
// pair replaces the previous row; the latest run wins.
func (l *Ledger) RecordUpload(runID, subject, seriesUID, bundlePath string) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO uploads (run_id, subject, series_uid, bundle_path, uploaded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, subject, seriesUID, bundlePath, time.Now().UTC(),
	)
	if err != nil {
		return pfx.Err(err)
	}

	return nil
}

// IsUploaded reports whether a (subject, series) pair was already pushed.
func (l *Ledger) IsUploaded(subject, seriesUID string) (bool, error) {
	var count int

	err := l.db.Get(&count,
		`SELECT COUNT(*) FROM uploads WHERE subject = ? AND series_uid = ?`,
		subject, seriesUID,
	)
	if err != nil {
		return false, pfx.Err(err)
	}

	return count > 0, nil
}

// Uploads returns everything recorded for one run, ordered as inserted.
func (l *Ledger) Uploads(runID string) ([]Upload, error) {
	uploads := []Upload{}

	err := l.db.Select(&uploads,
		`SELECT run_id, subject, series_uid, bundle_path, uploaded_at
		 FROM uploads WHERE run_id = ? ORDER BY uploaded_at`,
		runID,
	)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return uploads, nil
}
