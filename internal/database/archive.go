package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReplaceArchive stores a as the archive of its event, removing any earlier
// archive of the same event in the same transaction. It returns the new
// batch id.
func (db *DB) ReplaceArchive(a *Archive) (string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM archive_records WHERE batch_id IN (SELECT id FROM archive_batches WHERE event_key = ?)`,
		`DELETE FROM upload_counts WHERE batch_id IN (SELECT id FROM archive_batches WHERE event_key = ?)`,
		`DELETE FROM archive_batches WHERE event_key = ?`,
	} {
		if _, err := tx.Exec(q, a.EventKey); err != nil {
			return "", fmt.Errorf("clearing previous archive: %w", err)
		}
	}

	id := uuid.NewString()
	if _, err := tx.Exec(`INSERT INTO archive_batches (id, event_key) VALUES (?, ?)`, id, a.EventKey); err != nil {
		return "", fmt.Errorf("creating archive batch: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO archive_records (batch_id, source, position, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, r := range a.Records {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return "", err
		}
		if _, err := stmt.Exec(id, r.Source, r.Position, string(data)); err != nil {
			return "", fmt.Errorf("archiving %s row %d: %w", r.Source, r.Position, err)
		}
	}

	for _, c := range a.Counts {
		_, err := tx.Exec(
			`INSERT INTO upload_counts
			(batch_id, audience, date, type, pub_code, initial_count, internal_records,
			 sf_tracking_code, sf_count, udb_tracking_code, udb_uploaded_count, udb_mastersupp,
			 udb_isactivefalse, udb_hardbounce, sf_new_leads, sf_updated_leads, sf_updated_contact,
			 converted, sf_dead, left_dead, flipped_open, contact_no_lead, null_phone, merged, bad_email)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, c.Audience, c.Date, c.Type, c.PubCode, c.InitialCount, c.InternalRecords,
			c.SFTrackingCode, c.SFCount, c.UDBTrackingCode, c.UDBUploadedCount, c.UDBMasterSupp,
			c.UDBIsActiveFalse, c.UDBHardBounce, c.SFNewLeads, c.SFUpdatedLeads, c.SFUpdatedContact,
			c.Converted, c.SFDead, c.LeftDead, c.FlippedOpen, c.ContactNoLead, c.NullPhone, c.Merged, c.BadEmail,
		)
		if err != nil {
			return "", fmt.Errorf("archiving %s counts: %w", c.Audience, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	db.log.Info("event archived",
		zap.String("event", a.EventKey),
		zap.String("batch", id),
		zap.Int("rows", len(a.Records)))
	return id, nil
}

// GetArchiveBatch returns the archive batch of an event, or nil if the
// event was never archived.
func (db *DB) GetArchiveBatch(eventKey string) (*ArchiveBatch, error) {
	var b ArchiveBatch
	err := db.conn.QueryRow(
		`SELECT id, event_key, archived_at FROM archive_batches WHERE event_key = ?`, eventKey,
	).Scan(&b.ID, &b.EventKey, &b.ArchivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetArchivedRecords returns the archived rows of an event from one source,
// in their original order.
func (db *DB) GetArchivedRecords(eventKey, source string) ([]ArchiveRecord, error) {
	rows, err := db.conn.Query(
		`SELECT r.source, r.position, r.data
		FROM archive_records r JOIN archive_batches b ON b.id = r.batch_id
		WHERE b.event_key = ? AND r.source = ?
		ORDER BY r.position`,
		eventKey, source,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchiveRecord
	for rows.Next() {
		var r ArchiveRecord
		var data string
		if err := rows.Scan(&r.Source, &r.Position, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return nil, fmt.Errorf("decoding archived row %d: %w", r.Position, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetUploadCounts returns the archived count rows of an event, attendees
// first.
func (db *DB) GetUploadCounts(eventKey string) ([]UploadCount, error) {
	rows, err := db.conn.Query(
		`SELECT c.audience, c.date, c.type, COALESCE(c.pub_code, ''), c.initial_count, c.internal_records,
		 COALESCE(c.sf_tracking_code, ''), c.sf_count, COALESCE(c.udb_tracking_code, ''), c.udb_uploaded_count,
		 c.udb_mastersupp, c.udb_isactivefalse, c.udb_hardbounce, c.sf_new_leads, c.sf_updated_leads,
		 c.sf_updated_contact, c.converted, c.sf_dead, c.left_dead, c.flipped_open, c.contact_no_lead,
		 c.null_phone, c.merged, c.bad_email
		FROM upload_counts c JOIN archive_batches b ON b.id = c.batch_id
		WHERE b.event_key = ?
		ORDER BY c.audience`,
		eventKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UploadCount
	for rows.Next() {
		var c UploadCount
		if err := rows.Scan(&c.Audience, &c.Date, &c.Type, &c.PubCode, &c.InitialCount, &c.InternalRecords,
			&c.SFTrackingCode, &c.SFCount, &c.UDBTrackingCode, &c.UDBUploadedCount,
			&c.UDBMasterSupp, &c.UDBIsActiveFalse, &c.UDBHardBounce, &c.SFNewLeads, &c.SFUpdatedLeads,
			&c.SFUpdatedContact, &c.Converted, &c.SFDead, &c.LeftDead, &c.FlippedOpen, &c.ContactNoLead,
			&c.NullPhone, &c.Merged, &c.BadEmail); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
