package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bedcast/bedcast/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithSnapshotTx(ctx, r.pool, fn)
}

const fcCols = `id, facility_id, unit_id, target_date, predicted_available,
	confidence_low, confidence_high, model_version, degraded, superseded, generated_at`

func (r *repoPG) SupersedeAndInsert(ctx context.Context, unitID uuid.UUID, fcs []*Forecast) error {
	facility := db.FacilityFromContext(ctx)
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx, `
			UPDATE forecast SET superseded = TRUE
			WHERE unit_id = $1 AND facility_id = $2 AND superseded = FALSE`,
			unitID, facility); err != nil {
			return err
		}
		for _, f := range fcs {
			f.ID = uuid.New()
			f.FacilityID = facility
			if _, err := q.Exec(ctx, `
				INSERT INTO forecast (
					id, facility_id, unit_id, target_date, predicted_available,
					confidence_low, confidence_high, model_version, degraded, superseded, generated_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,$10)`,
				f.ID, f.FacilityID, f.UnitID, f.TargetDate, f.PredictedAvailable,
				f.ConfidenceLow, f.ConfidenceHigh, f.ModelVersion, f.Degraded, f.GeneratedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) GetCurrentByUnit(ctx context.Context, unitID uuid.UUID) ([]*Forecast, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fcCols+` FROM forecast
		 WHERE unit_id = $1 AND facility_id = $2 AND superseded = FALSE
		 ORDER BY target_date ASC`,
		unitID, db.FacilityFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectForecasts(rows)
}

func (r *repoPG) ListForDate(ctx context.Context, unitID uuid.UUID, targetDate time.Time) ([]*Forecast, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fcCols+` FROM forecast
		 WHERE unit_id = $1 AND facility_id = $2 AND target_date = $3
		 ORDER BY generated_at ASC`,
		unitID, db.FacilityFromContext(ctx), targetDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectForecasts(rows)
}

func collectForecasts(rows pgx.Rows) ([]*Forecast, error) {
	var fcs []*Forecast
	for rows.Next() {
		var f Forecast
		if err := rows.Scan(
			&f.ID, &f.FacilityID, &f.UnitID, &f.TargetDate, &f.PredictedAvailable,
			&f.ConfidenceLow, &f.ConfidenceHigh, &f.ModelVersion, &f.Degraded, &f.Superseded, &f.GeneratedAt,
		); err != nil {
			return nil, err
		}
		fcs = append(fcs, &f)
	}
	return fcs, rows.Err()
}

const arrivalCols = `id, facility_id, unit_id, patient_id, expected_date,
	required_capabilities, fulfilled, fulfilled_at, expired, created_at`

func (r *repoPG) CreateArrival(ctx context.Context, a *ScheduledArrival) error {
	a.ID = uuid.New()
	a.FacilityID = db.FacilityFromContext(ctx)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO scheduled_arrival (
			id, facility_id, unit_id, patient_id, expected_date, required_capabilities
		) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		a.ID, a.FacilityID, a.UnitID, a.PatientID, a.ExpectedDate, a.RequiredCapabilities,
	).Scan(&a.CreatedAt)
}

func (r *repoPG) GetArrival(ctx context.Context, id uuid.UUID) (*ScheduledArrival, error) {
	a, err := scanArrival(r.conn(ctx).QueryRow(ctx,
		`SELECT `+arrivalCols+` FROM scheduled_arrival
		 WHERE id = $1 AND facility_id = $2`,
		id, db.FacilityFromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) ListPendingArrivals(ctx context.Context, unitID uuid.UUID, by time.Time) ([]*ScheduledArrival, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+arrivalCols+` FROM scheduled_arrival
		 WHERE unit_id = $1 AND facility_id = $2
		   AND fulfilled = FALSE AND expired = FALSE AND expected_date <= $3
		 ORDER BY expected_date ASC`,
		unitID, db.FacilityFromContext(ctx), by)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var arrivals []*ScheduledArrival
	for rows.Next() {
		a, err := scanArrival(rows)
		if err != nil {
			return nil, err
		}
		arrivals = append(arrivals, a)
	}
	return arrivals, rows.Err()
}

func (r *repoPG) MarkFulfilled(ctx context.Context, unitID uuid.UUID, patientID string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE scheduled_arrival SET fulfilled = TRUE, fulfilled_at = $4
		WHERE id = (
			SELECT id FROM scheduled_arrival
			WHERE unit_id = $1 AND facility_id = $2 AND patient_id = $3
			  AND fulfilled = FALSE AND expired = FALSE
			ORDER BY expected_date ASC LIMIT 1
		)`,
		unitID, db.FacilityFromContext(ctx), patientID, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) CancelArrival(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM scheduled_arrival
		 WHERE id = $1 AND facility_id = $2 AND fulfilled = FALSE`,
		id, db.FacilityFromContext(ctx))
	return err
}

func (r *repoPG) ExpireArrivals(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE scheduled_arrival SET expired = TRUE
		WHERE facility_id = $1 AND fulfilled = FALSE AND expired = FALSE AND expected_date < $2`,
		db.FacilityFromContext(ctx), before,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanArrival(row pgx.Row) (*ScheduledArrival, error) {
	var a ScheduledArrival
	err := row.Scan(
		&a.ID, &a.FacilityID, &a.UnitID, &a.PatientID, &a.ExpectedDate,
		&a.RequiredCapabilities, &a.Fulfilled, &a.FulfilledAt, &a.Expired, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
