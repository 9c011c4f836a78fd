package assignment

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

const asgCols = `id, facility_id, patient_id, bed_id, unit_id, reason, acuity,
	diagnosis_class, age_band, comorbidity_count, required_capabilities,
	admitted_at, expected_discharge_at, discharged_at, disposition,
	created_at, updated_at`

func (r *repoPG) OpenWithBedClaim(ctx context.Context, a *Assignment) (bool, error) {
	a.ID = uuid.New()
	a.FacilityID = db.FacilityFromContext(ctx)

	claimed := false
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE bed SET status = 'occupied', status_changed_at = $3, updated_at = NOW()
			WHERE id = $1 AND facility_id = $2 AND status = 'available' AND active`,
			a.BedID, a.FacilityID, a.AdmittedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			// Bed claimed by a concurrent caller between candidate selection
			// and commit. Roll back without the insert.
			return nil
		}
		claimed = true

		_, err = r.conn(ctx).Exec(ctx, `
			INSERT INTO assignment (
				id, facility_id, patient_id, bed_id, unit_id, reason, acuity,
				diagnosis_class, age_band, comorbidity_count, required_capabilities, admitted_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			a.ID, a.FacilityID, a.PatientID, a.BedID, a.UnitID, a.Reason, a.Acuity,
			a.DiagnosisClass, a.AgeBand, a.ComorbidityCount, a.RequiredCapabilities, a.AdmittedAt,
		)
		return err
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (r *repoPG) CloseWithBedRelease(ctx context.Context, id uuid.UUID, at time.Time, disposition string, bedStatus string) (bool, error) {
	facility := db.FacilityFromContext(ctx)
	released := false
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var bedID uuid.UUID
		err := r.conn(ctx).QueryRow(ctx, `
			UPDATE assignment SET discharged_at = $3, disposition = $4, updated_at = NOW()
			WHERE id = $1 AND facility_id = $2 AND discharged_at IS NULL
			RETURNING bed_id`,
			id, facility, at, disposition,
		).Scan(&bedID)
		if err != nil {
			return err
		}

		// A manual override can move the bed off occupied mid-stay; in
		// that case the guard matches no row and the bed keeps its status.
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE bed SET status = $3, status_changed_at = $4, updated_at = NOW()
			WHERE id = $1 AND facility_id = $2 AND status = 'occupied'`,
			bedID, facility, bedStatus, at,
		)
		if err != nil {
			return err
		}
		released = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return scanAsg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+asgCols+` FROM assignment WHERE id = $1 AND facility_id = $2`,
		id, db.FacilityFromContext(ctx)))
}

func (r *repoPG) GetActiveByPatient(ctx context.Context, patientID string) (*Assignment, error) {
	a, err := scanAsg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+asgCols+` FROM assignment
		 WHERE patient_id = $1 AND facility_id = $2 AND discharged_at IS NULL`,
		patientID, db.FacilityFromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) GetActiveByBed(ctx context.Context, bedID uuid.UUID) (*Assignment, error) {
	a, err := scanAsg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+asgCols+` FROM assignment
		 WHERE bed_id = $1 AND facility_id = $2 AND discharged_at IS NULL`,
		bedID, db.FacilityFromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) ListActiveByUnit(ctx context.Context, unitID uuid.UUID) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+asgCols+` FROM assignment
		 WHERE unit_id = $1 AND facility_id = $2 AND discharged_at IS NULL
		 ORDER BY admitted_at`,
		unitID, db.FacilityFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAsgs(rows)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Assignment, int, error) {
	facility := db.FacilityFromContext(ctx)
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM assignment WHERE patient_id = $1 AND facility_id = $2`,
		patientID, facility).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+asgCols+` FROM assignment
		 WHERE patient_id = $1 AND facility_id = $2
		 ORDER BY admitted_at DESC LIMIT $3 OFFSET $4`,
		patientID, facility, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	asgs, err := collectAsgs(rows)
	return asgs, total, err
}

func (r *repoPG) ListByBed(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*Assignment, int, error) {
	facility := db.FacilityFromContext(ctx)
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM assignment WHERE bed_id = $1 AND facility_id = $2`,
		bedID, facility).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+asgCols+` FROM assignment
		 WHERE bed_id = $1 AND facility_id = $2
		 ORDER BY admitted_at DESC LIMIT $3 OFFSET $4`,
		bedID, facility, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	asgs, err := collectAsgs(rows)
	return asgs, total, err
}

func (r *repoPG) SetExpectedDischarge(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE assignment SET expected_discharge_at = $3, updated_at = NOW()
		WHERE id = $1 AND facility_id = $2 AND discharged_at IS NULL`,
		id, db.FacilityFromContext(ctx), at,
	)
	return err
}

func (r *repoPG) CountMovements(ctx context.Context, unitID uuid.UUID, since, until time.Time) (MovementCounts, error) {
	var mc MovementCounts
	facility := db.FacilityFromContext(ctx)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE admitted_at > $3 AND admitted_at <= $4 AND reason <> 'transfer-in'),
			COUNT(*) FILTER (WHERE discharged_at > $3 AND discharged_at <= $4),
			COUNT(*) FILTER (WHERE admitted_at > $3 AND admitted_at <= $4 AND reason = 'transfer-in')
		FROM assignment
		WHERE unit_id = $1 AND facility_id = $2`,
		unitID, facility, since, until,
	).Scan(&mc.Admissions, &mc.Discharges, &mc.Transfers)
	return mc, err
}

func scanAsg(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(
		&a.ID, &a.FacilityID, &a.PatientID, &a.BedID, &a.UnitID, &a.Reason, &a.Acuity,
		&a.DiagnosisClass, &a.AgeBand, &a.ComorbidityCount, &a.RequiredCapabilities,
		&a.AdmittedAt, &a.ExpectedDischargeAt, &a.DischargedAt, &a.Disposition,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAsgs(rows pgx.Rows) ([]*Assignment, error) {
	var asgs []*Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(
			&a.ID, &a.FacilityID, &a.PatientID, &a.BedID, &a.UnitID, &a.Reason, &a.Acuity,
			&a.DiagnosisClass, &a.AgeBand, &a.ComorbidityCount, &a.RequiredCapabilities,
			&a.AdmittedAt, &a.ExpectedDischargeAt, &a.DischargedAt, &a.Disposition,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		asgs = append(asgs, &a)
	}
	return asgs, nil
}
