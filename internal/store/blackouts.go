package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskprinter/internal/model"
)

const blackoutColumns = "id, name, start_date, end_date, is_active, created_at"

func scanBlackout(row scanner) (*model.BlackoutPeriod, error) {
	var b model.BlackoutPeriod
	if err := row.Scan(&b.ID, &b.Name, &b.StartDate, &b.EndDate, &b.IsActive, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.StartDate = b.StartDate.UTC()
	b.EndDate = b.EndDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

// ListBlackouts returns blackout periods ordered by start date.
func (s *Store) ListBlackouts(ctx context.Context, activeOnly bool) ([]model.BlackoutPeriod, error) {
	q := "SELECT " + blackoutColumns + " FROM blackout_periods"
	if activeOnly {
		q += " WHERE is_active = 1"
	}
	q += " ORDER BY start_date, id"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing blackout periods: %w", err)
	}
	defer rows.Close()

	var out []model.BlackoutPeriod
	for rows.Next() {
		b, err := scanBlackout(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blackout period: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// GetBlackout returns one blackout period or ErrNotFound.
func (s *Store) GetBlackout(ctx context.Context, id int64) (*model.BlackoutPeriod, error) {
	b, err := scanBlackout(s.db.QueryRowContext(ctx,
		"SELECT "+blackoutColumns+" FROM blackout_periods WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting blackout period %d: %w", id, err)
	}
	return b, nil
}

// ValidateBlackout rejects periods that end before they start.
func ValidateBlackout(b *model.BlackoutPeriod) error {
	if b.StartDate.IsZero() || b.EndDate.IsZero() {
		return errors.New("start_date and end_date are required")
	}
	if b.EndDate.Before(b.StartDate) {
		return errors.New("end_date must not be before start_date")
	}
	return nil
}

// CreateBlackout inserts b and sets its ID and CreatedAt.
func (s *Store) CreateBlackout(ctx context.Context, b *model.BlackoutPeriod) error {
	if err := ValidateBlackout(b); err != nil {
		return err
	}
	b.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO blackout_periods (name, start_date, end_date, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.Name, b.StartDate.UTC(), b.EndDate.UTC(), b.IsActive, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting blackout period: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// UpdateBlackout overwrites name, range and active flag.
func (s *Store) UpdateBlackout(ctx context.Context, b *model.BlackoutPeriod) error {
	if err := ValidateBlackout(b); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE blackout_periods SET name = ?, start_date = ?, end_date = ?, is_active = ?
		WHERE id = ?`,
		b.Name, b.StartDate.UTC(), b.EndDate.UTC(), b.IsActive, b.ID)
	if err != nil {
		return fmt.Errorf("updating blackout period %d: %w", b.ID, err)
	}
	return expectOne(res)
}

// DeleteBlackout removes a blackout period.
func (s *Store) DeleteBlackout(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM blackout_periods WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting blackout period %d: %w", id, err)
	}
	return expectOne(res)
}
