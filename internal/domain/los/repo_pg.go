package los

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

const benchCols = `id, facility_id, unit_id, diagnosis_class, baseline_hours,
	age_factors, acuity_factors, comorbidity_factor, model_version, created_at, updated_at`

func (r *repoPG) Upsert(ctx context.Context, b *Benchmark) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.FacilityID = db.FacilityFromContext(ctx)
	now := time.Now().UTC()
	b.UpdatedAt = now
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO los_benchmark (
			id, facility_id, unit_id, diagnosis_class, baseline_hours,
			age_factors, acuity_factors, comorbidity_factor, model_version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (facility_id, unit_id, diagnosis_class) DO UPDATE SET
			baseline_hours = EXCLUDED.baseline_hours,
			age_factors = EXCLUDED.age_factors,
			acuity_factors = EXCLUDED.acuity_factors,
			comorbidity_factor = EXCLUDED.comorbidity_factor,
			model_version = EXCLUDED.model_version,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		b.ID, b.FacilityID, b.UnitID, b.DiagnosisClass, b.BaselineHours,
		b.AgeFactors, b.AcuityFactors, b.ComorbidityFactor, b.ModelVersion, now,
	).Scan(&b.ID, &b.CreatedAt)
}

func (r *repoPG) GetByClassUnit(ctx context.Context, unitID uuid.UUID, diagnosisClass string) (*Benchmark, error) {
	b, err := scanBench(r.conn(ctx).QueryRow(ctx,
		`SELECT `+benchCols+` FROM los_benchmark
		 WHERE unit_id = $1 AND diagnosis_class = $2 AND facility_id = $3`,
		unitID, diagnosisClass, db.FacilityFromContext(ctx)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *repoPG) ListByUnit(ctx context.Context, unitID uuid.UUID) ([]*Benchmark, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+benchCols+` FROM los_benchmark
		 WHERE unit_id = $1 AND facility_id = $2
		 ORDER BY diagnosis_class`,
		unitID, db.FacilityFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var benches []*Benchmark
	for rows.Next() {
		b, err := scanBench(rows)
		if err != nil {
			return nil, err
		}
		benches = append(benches, b)
	}
	return benches, rows.Err()
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM los_benchmark WHERE id = $1 AND facility_id = $2`,
		id, db.FacilityFromContext(ctx))
	return err
}

func scanBench(row pgx.Row) (*Benchmark, error) {
	var b Benchmark
	err := row.Scan(
		&b.ID, &b.FacilityID, &b.UnitID, &b.DiagnosisClass, &b.BaselineHours,
		&b.AgeFactors, &b.AcuityFactors, &b.ComorbidityFactor, &b.ModelVersion, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
