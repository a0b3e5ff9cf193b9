// Package certstore is the durable ledger of issued certificates and
// their lifecycle: a single `certs` table plus the mandatory duplicate
// checks, atomic status transitions, and background sweep it drives.
package certstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"pvacms/model"
)

// Store is the Cert Store's public contract.
type Store interface {
	// CheckDuplicate matches the subject 4-tuple OR the SKI against
	// already-issued, non-terminal certificates.
	CheckDuplicate(ctx context.Context, rec model.CertificateRecord) (DuplicateKind, bool, error)
	// Insert atomically persists a new record.
	Insert(ctx context.Context, rec model.CertificateRecord) error
	// GetStatus returns the current status and the time it last changed.
	GetStatus(ctx context.Context, serial uint64) (model.PVAStatus, time.Time, error)
	// SetStatus atomically transitions serial to newStatus iff its
	// current status is a member of allowedPrior.
	SetStatus(ctx context.Context, serial uint64, newStatus model.PVAStatus, allowedPrior []model.PVAStatus) error
	// ListByIssuer returns every record for an issuer-id, used to seed
	// the CMS-side wildcard monitor.
	ListByIssuer(ctx context.Context, issuerID string) ([]model.CertificateRecord, error)
	// SweepDue returns the serials whose lifecycle clock has expired:
	// PENDING certificates whose not_before has arrived, and VALID
	// certificates whose not_after has passed.
	SweepDue(ctx context.Context, now time.Time) (toValid []uint64, toExpired []uint64, err error)
}

type store struct {
	db *sql.DB
	// mu enforces the single-writer discipline requires: the
	// certificate database has exactly one writer, the CMS process
	// itself, even though it may run several concurrent RPC handlers.
	mu sync.Mutex
}

// New wraps an already-open *sql.DB (opened by the caller against the
// "pgx" driver registered by github.com/jackc/pgx/v5/stdlib) and ensures
// the certs table exists.
func New(ctx context.Context, db *sql.DB) (Store, error) {
	if db == nil {
		return nil, errors.New("certstore: database is nil")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("certstore: create schema: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) CheckDuplicate(ctx context.Context, rec model.CertificateRecord) (DuplicateKind, bool, error) {
	var serial int64
	err := s.db.QueryRowContext(ctx, queryDuplicateBySubject,
		rec.CommonName, rec.Organization, rec.OrgUnit, rec.Country,
		model.StatusRevoked, model.StatusExpired,
	).Scan(&serial)
	if err == nil {
		return DuplicateSubject, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("%w: check duplicate subject: %v", ErrDB, err)
	}

	err = s.db.QueryRowContext(ctx, queryDuplicateBySKID,
		rec.SubjectKeyID, model.StatusRevoked, model.StatusExpired,
	).Scan(&serial)
	if err == nil {
		return DuplicateKey, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("%w: check duplicate SKI: %v", ErrDB, err)
	}

	return "", false, nil
}

func (s *store) Insert(ctx context.Context, rec model.CertificateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind, dup, err := s.CheckDuplicate(ctx, rec); err != nil {
		return err
	} else if dup {
		return errForDuplicateKind(kind)
	}

	_, err := s.db.ExecContext(ctx, queryInsert,
		int64(rec.Serial), rec.IssuerID, rec.SubjectKeyID,
		rec.CommonName, rec.Organization, rec.OrgUnit, rec.Country,
		rec.NotBefore.Unix(), rec.NotAfter.Unix(),
		int(rec.Status), rec.StatusChangedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert certificate: %v", ErrDB, err)
	}
	return nil
}

func (s *store) GetStatus(ctx context.Context, serial uint64) (model.PVAStatus, time.Time, error) {
	var status int
	var changedAt int64
	err := s.db.QueryRowContext(ctx, queryStatusBySerial, int64(serial)).Scan(&status, &changedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StatusUnknown, time.Time{}, ErrNotFound
	}
	if err != nil {
		return model.StatusUnknown, time.Time{}, fmt.Errorf("%w: get status: %v", ErrDB, err)
	}
	return model.PVAStatus(status), time.Unix(changedAt, 0).UTC(), nil
}

func (s *store) SetStatus(ctx context.Context, serial uint64, newStatus model.PVAStatus, allowedPrior []model.PVAStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrDB, err)
	}
	defer tx.Rollback()

	prior := make([]int32, len(allowedPrior))
	for i, p := range allowedPrior {
		prior[i] = int32(p)
	}

	res, err := tx.ExecContext(ctx, querySetStatus, int(newStatus), time.Now().UTC().Unix(), int64(serial), prior)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", ErrDB, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrDB, err)
	}
	if n == 0 {
		// Either the serial doesn't exist, or its current status is not
		// in allowedPrior: the state machine is enforced at the
		// persistence layer, not merely in memory.
		return fmt.Errorf("%w: serial %d not in allowed prior state", ErrIllegalTransition, serial)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDB, err)
	}
	return nil
}

func (s *store) ListByIssuer(ctx context.Context, issuerID string) ([]model.CertificateRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryByIssuerWildcard, issuerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list by issuer: %v", ErrDB, err)
	}
	defer rows.Close()

	var out []model.CertificateRecord
	for rows.Next() {
		var rec model.CertificateRecord
		var serial, notBefore, notAfter, statusDate int64
		var status int
		if err := rows.Scan(&serial, &rec.IssuerID, &rec.SubjectKeyID, &rec.CommonName, &rec.Organization, &rec.OrgUnit, &rec.Country, &notBefore, &notAfter, &status, &statusDate); err != nil {
			return nil, fmt.Errorf("%w: scan certificate: %v", ErrDB, err)
		}
		rec.Serial = uint64(serial)
		rec.NotBefore = time.Unix(notBefore, 0).UTC()
		rec.NotAfter = time.Unix(notAfter, 0).UTC()
		rec.Status = model.PVAStatus(status)
		rec.StatusChangedAt = time.Unix(statusDate, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *store) SweepDue(ctx context.Context, now time.Time) ([]uint64, []uint64, error) {
	toValid, err := s.sweepSerials(ctx, querySweepByValidity, model.StatusPending, now)
	if err != nil {
		return nil, nil, err
	}
	toExpired, err := s.sweepSerials(ctx, querySweepByExpiry, model.StatusValid, now)
	if err != nil {
		return nil, nil, err
	}
	return toValid, toExpired, nil
}

func (s *store) sweepSerials(ctx context.Context, query string, status model.PVAStatus, now time.Time) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, query, int(status), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: sweep query: %v", ErrDB, err)
	}
	defer rows.Close()

	var serials []uint64
	for rows.Next() {
		var serial int64
		if err := rows.Scan(&serial); err != nil {
			return nil, fmt.Errorf("%w: scan sweep serial: %v", ErrDB, err)
		}
		serials = append(serials, uint64(serial))
	}
	return serials, rows.Err()
}
