package unit

import (
	"context"

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

const unitCols = `id, facility_id, name, accepted_acuities, target_census, max_census,
	nurse_ratio, default_los_hours, active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, u *Unit) error {
	u.ID = uuid.New()
	u.FacilityID = db.FacilityFromContext(ctx)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO care_unit (
			id, facility_id, name, accepted_acuities, target_census, max_census,
			nurse_ratio, default_los_hours, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)`,
		u.ID, u.FacilityID, u.Name, u.AcceptedAcuities, u.TargetCensus, u.MaxCensus,
		u.NurseRatio, u.DefaultLOSHours,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Unit, error) {
	return scanUnit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+unitCols+` FROM care_unit WHERE id = $1 AND facility_id = $2`,
		id, db.FacilityFromContext(ctx)))
}

func (r *repoPG) Update(ctx context.Context, u *Unit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE care_unit SET
			name=$3, accepted_acuities=$4, target_census=$5, max_census=$6,
			nurse_ratio=$7, default_los_hours=$8, updated_at=NOW()
		WHERE id = $1 AND facility_id = $2`,
		u.ID, db.FacilityFromContext(ctx), u.Name, u.AcceptedAcuities,
		u.TargetCensus, u.MaxCensus, u.NurseRatio, u.DefaultLOSHours,
	)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE care_unit SET active = FALSE, updated_at = NOW() WHERE id = $1 AND facility_id = $2`,
		id, db.FacilityFromContext(ctx))
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Unit, int, error) {
	facility := db.FacilityFromContext(ctx)
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM care_unit WHERE facility_id = $1`, facility).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+unitCols+` FROM care_unit WHERE facility_id = $1 ORDER BY name LIMIT $2 OFFSET $3`,
		facility, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	units, err := collectUnits(rows)
	return units, total, err
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Unit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+unitCols+` FROM care_unit WHERE facility_id = $1 AND active ORDER BY name`,
		db.FacilityFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUnits(rows)
}

func scanUnit(row pgx.Row) (*Unit, error) {
	var u Unit
	err := row.Scan(
		&u.ID, &u.FacilityID, &u.Name, &u.AcceptedAcuities, &u.TargetCensus, &u.MaxCensus,
		&u.NurseRatio, &u.DefaultLOSHours, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectUnits(rows pgx.Rows) ([]*Unit, error) {
	var units []*Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(
			&u.ID, &u.FacilityID, &u.Name, &u.AcceptedAcuities, &u.TargetCensus, &u.MaxCensus,
			&u.NurseRatio, &u.DefaultLOSHours, &u.Active, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		units = append(units, &u)
	}
	return units, nil
}
