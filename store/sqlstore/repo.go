package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/visit-engine/admission"
)

// Timestamps are stored as fixed-width UTC text so they sort as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// PERSONS
// =============================================================================

const personColumns = `id, kind, name, phone, email, id_number, standing, standing_source,
	receive_sms, receive_email, created_at, updated_at`

func scanPerson(row scanner) (*admission.Person, error) {
	var (
		p                    admission.Person
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Kind, &p.Name, &p.Phone, &p.Email, &p.IDNumber,
		&p.Standing, &p.StandingSource, &p.ReceiveSMS, &p.ReceiveEmail,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) FindPerson(ctx context.Context, kind admission.PersonKind, phone, idNumber string) (*admission.Person, error) {
	if phone != "" {
		p, err := scanPerson(r.queryRow(ctx, `
			SELECT `+personColumns+` FROM persons
			WHERE kind = ? AND phone = ?
			ORDER BY created_at, id LIMIT 1`, kind, phone))
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, mapDriverError(fmt.Errorf("failed to find person: %w", err))
		}
	}
	if idNumber != "" {
		p, err := scanPerson(r.queryRow(ctx, `
			SELECT `+personColumns+` FROM persons
			WHERE kind = ? AND id_number <> '' AND LOWER(id_number) = LOWER(CAST(? AS TEXT))
			ORDER BY created_at, id LIMIT 1`, kind, idNumber))
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, mapDriverError(fmt.Errorf("failed to find person: %w", err))
		}
	}
	return nil, admission.ErrPersonNotFound
}

func (r *repo) GetPerson(ctx context.Context, id admission.PersonID) (*admission.Person, error) {
	p, err := scanPerson(r.queryRow(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, admission.ErrPersonNotFound
	}
	if err != nil {
		return nil, mapDriverError(fmt.Errorf("failed to get person: %w", err))
	}
	return p, nil
}

func (r *repo) CreatePerson(ctx context.Context, p admission.Person) error {
	_, err := r.exec(ctx, `
		INSERT INTO persons (`+personColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Kind, p.Name, p.Phone, p.Email, p.IDNumber, p.Standing, p.StandingSource,
		p.ReceiveSMS, p.ReceiveEmail, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return mapPersonWriteError(fmt.Errorf("failed to create person: %w", err))
	}
	return nil
}

func (r *repo) UpdatePerson(ctx context.Context, p admission.Person) error {
	res, err := r.exec(ctx, `
		UPDATE persons SET name = ?, phone = ?, email = ?, id_number = ?,
			standing = ?, standing_source = ?, receive_sms = ?, receive_email = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Phone, p.Email, p.IDNumber, p.Standing, p.StandingSource,
		p.ReceiveSMS, p.ReceiveEmail, formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return mapDriverError(fmt.Errorf("failed to update person: %w", err))
	}
	return requireRow(res, admission.ErrPersonNotFound)
}

func (r *repo) ListPersons(ctx context.Context, f admission.PersonFilter) ([]admission.Person, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Standing != "" {
		where = append(where, "standing = ?")
		args = append(args, f.Standing)
	}
	if f.StandingSource != nil {
		where = append(where, "standing_source = ?")
		args = append(args, *f.StandingSource)
	}
	query := `SELECT ` + personColumns + ` FROM persons`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, mapDriverError(fmt.Errorf("failed to list persons: %w", err))
	}
	defer rows.Close()

	var persons []admission.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

func (r *repo) DeletePerson(ctx context.Context, id admission.PersonID, cascade bool) error {
	var count int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM visits WHERE person_id = ?`, id).Scan(&count); err != nil {
		return mapDriverError(fmt.Errorf("failed to count visits: %w", err))
	}
	if count > 0 {
		if !cascade {
			return admission.ErrPersonHasVisits
		}
		if _, err := r.exec(ctx, `DELETE FROM visits WHERE person_id = ?`, id); err != nil {
			return mapDriverError(fmt.Errorf("failed to delete visits: %w", err))
		}
	}
	res, err := r.exec(ctx, `DELETE FROM persons WHERE id = ?`, id)
	if err != nil {
		return mapDriverError(fmt.Errorf("failed to delete person: %w", err))
	}
	return requireRow(res, admission.ErrPersonNotFound)
}

// =============================================================================
// HOSTS
// =============================================================================

func (r *repo) GetHost(ctx context.Context, id admission.HostID) (*admission.Host, error) {
	var (
		h         admission.Host
		createdAt string
	)
	err := r.queryRow(ctx, `
		SELECT id, name, phone, email, active, created_at FROM hosts WHERE id = ?`, id).
		Scan(&h.ID, &h.Name, &h.Phone, &h.Email, &h.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, admission.ErrHostNotFound
	}
	if err != nil {
		return nil, mapDriverError(fmt.Errorf("failed to get host: %w", err))
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *repo) SaveHost(ctx context.Context, h admission.Host) error {
	_, err := r.exec(ctx, `
		INSERT INTO hosts (id, name, phone, email, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			active = excluded.active`,
		h.ID, h.Name, h.Phone, h.Email, h.Active, formatTime(h.CreatedAt))
	if err != nil {
		return mapDriverError(fmt.Errorf("failed to save host: %w", err))
	}
	return nil
}

// =============================================================================
// VISITS
// =============================================================================

const visitColumns = `id, person_id, host_id, visit_date, status, courtesy,
	sign_in_time, sign_out_time, seq, created_at, updated_at`

func scanVisit(row scanner) (*admission.Visit, error) {
	var (
		v                    admission.Visit
		date                 string
		signIn, signOut      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&v.ID, &v.PersonID, &v.HostID, &date, &v.Status, &v.Courtesy,
		&signIn, &signOut, &v.Seq, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if v.Date, err = admission.ParseDate(date); err != nil {
		return nil, err
	}
	if v.SignInTime, err = parseTimePtr(signIn); err != nil {
		return nil, err
	}
	if v.SignOutTime, err = parseTimePtr(signOut); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repo) queryVisits(ctx context.Context, query string, args ...any) ([]admission.Visit, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, mapDriverError(fmt.Errorf("failed to query visits: %w", err))
	}
	defer rows.Close()

	var visits []admission.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

func (r *repo) GetVisit(ctx context.Context, id admission.VisitID) (*admission.Visit, error) {
	v, err := scanVisit(r.queryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, admission.ErrVisitNotFound
	}
	if err != nil {
		return nil, mapDriverError(fmt.Errorf("failed to get visit: %w", err))
	}
	return v, nil
}

func (r *repo) ListVisits(ctx context.Context, personID admission.PersonID, period admission.Period) ([]admission.Visit, error) {
	return r.queryVisits(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE person_id = ? AND visit_date >= ? AND visit_date <= ?
		ORDER BY visit_date, seq`,
		personID, period.Start.String(), period.End.String())
}

func (r *repo) ListHostVisits(ctx context.Context, hostID admission.HostID, date admission.Date) ([]admission.Visit, error) {
	return r.queryVisits(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE host_id = ? AND visit_date = ?
		ORDER BY seq`,
		hostID, date.String())
}

func (r *repo) ListVisitsOn(ctx context.Context, date admission.Date) ([]admission.Visit, error) {
	return r.queryVisits(ctx, `
		SELECT `+visitColumns+` FROM visits WHERE visit_date = ? ORDER BY seq`,
		date.String())
}

func (r *repo) InsertVisit(ctx context.Context, v *admission.Visit) error {
	err := r.queryRow(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM visits), ?, ?)
		RETURNING seq`,
		v.ID, v.PersonID, v.HostID, v.Date.String(), v.Status, v.Courtesy,
		formatTimePtr(v.SignInTime), formatTimePtr(v.SignOutTime),
		formatTime(v.CreatedAt), formatTime(v.UpdatedAt)).Scan(&v.Seq)
	if err != nil {
		return mapVisitWriteError(fmt.Errorf("failed to insert visit: %w", err), *v)
	}
	return nil
}

func (r *repo) UpdateVisit(ctx context.Context, v admission.Visit) error {
	res, err := r.exec(ctx, `
		UPDATE visits SET status = ?, sign_in_time = ?, sign_out_time = ?, updated_at = ?
		WHERE id = ?`,
		v.Status, formatTimePtr(v.SignInTime), formatTimePtr(v.SignOutTime),
		formatTime(v.UpdatedAt), v.ID)
	if err != nil {
		return mapVisitWriteError(fmt.Errorf("failed to update visit: %w", err), v)
	}
	return requireRow(res, admission.ErrVisitNotFound)
}

func (r *repo) ReopenVisit(ctx context.Context, v *admission.Visit) error {
	v.SignInTime, v.SignOutTime = nil, nil
	err := r.queryRow(ctx, `
		UPDATE visits SET host_id = ?, status = ?, courtesy = ?,
			sign_in_time = NULL, sign_out_time = NULL,
			seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM visits),
			created_at = ?, updated_at = ?
		WHERE id = ?
		RETURNING seq`,
		v.HostID, v.Status, v.Courtesy,
		formatTime(v.CreatedAt), formatTime(v.UpdatedAt), v.ID).Scan(&v.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return admission.ErrVisitNotFound
	}
	if err != nil {
		return mapVisitWriteError(fmt.Errorf("failed to reopen visit: %w", err), *v)
	}
	return nil
}

// =============================================================================
// JOB RUNS
// =============================================================================

func (r *repo) SaveJobRun(ctx context.Context, run admission.JobRun) error {
	_, err := r.exec(ctx, `
		INSERT INTO job_runs (id, kind, period_key, status, processed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.Kind, run.PeriodKey, run.Status, run.Processed, run.Error,
		formatTime(run.StartedAt), formatTimePtr(run.CompletedAt))
	if err != nil {
		return mapDriverError(fmt.Errorf("failed to save job run: %w", err))
	}
	return nil
}

func (r *repo) IsJobComplete(ctx context.Context, kind admission.JobKind, periodKey string) (bool, error) {
	var count int
	err := r.queryRow(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE kind = ? AND period_key = ? AND status = ?`,
		kind, periodKey, admission.JobCompleted).Scan(&count)
	if err != nil {
		return false, mapDriverError(fmt.Errorf("failed to check job run: %w", err))
	}
	return count > 0, nil
}

func (r *repo) ListJobRuns(ctx context.Context, kind admission.JobKind) ([]admission.JobRun, error) {
	rows, err := r.query(ctx, `
		SELECT id, kind, period_key, status, processed, error, started_at, completed_at
		FROM job_runs WHERE kind = ? ORDER BY started_at DESC`, kind)
	if err != nil {
		return nil, mapDriverError(fmt.Errorf("failed to list job runs: %w", err))
	}
	defer rows.Close()

	var runs []admission.JobRun
	for rows.Next() {
		var (
			run       admission.JobRun
			startedAt string
			completed sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Kind, &run.PeriodKey, &run.Status,
			&run.Processed, &run.Error, &startedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseTimePtr(completed); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
