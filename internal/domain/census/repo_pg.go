package census

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

const snapCols = `id, facility_id, unit_id, as_of, occupied, available, dirty, blocked, maintenance,
	admissions_since, discharges_since, transfers_since,
	predicted_available, variance, model_version, created_at`

func (r *repoPG) Insert(ctx context.Context, s *Snapshot) (bool, error) {
	s.ID = uuid.New()
	s.FacilityID = db.FacilityFromContext(ctx)
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO census_snapshot (
			id, facility_id, unit_id, as_of, occupied, available, dirty, blocked, maintenance,
			admissions_since, discharges_since, transfers_since
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (facility_id, unit_id, as_of) DO NOTHING`,
		s.ID, s.FacilityID, s.UnitID, s.AsOf, s.Occupied, s.Available, s.Dirty, s.Blocked, s.Maintenance,
		s.AdmissionsSince, s.DischargesSince, s.TransfersSince,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) GetByUnitAsOf(ctx context.Context, unitID uuid.UUID, asOf time.Time) (*Snapshot, error) {
	s, err := scanSnap(r.conn(ctx).QueryRow(ctx,
		`SELECT `+snapCols+` FROM census_snapshot
		 WHERE unit_id = $1 AND facility_id = $2 AND as_of = $3`,
		unitID, db.FacilityFromContext(ctx), asOf))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *repoPG) GetLatestBefore(ctx context.Context, unitID uuid.UUID, before time.Time) (*Snapshot, error) {
	s, err := scanSnap(r.conn(ctx).QueryRow(ctx,
		`SELECT `+snapCols+` FROM census_snapshot
		 WHERE unit_id = $1 AND facility_id = $2 AND as_of < $3
		 ORDER BY as_of DESC LIMIT 1`,
		unitID, db.FacilityFromContext(ctx), before))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *repoPG) ListByUnit(ctx context.Context, unitID uuid.UUID, limit, offset int) ([]*Snapshot, int, error) {
	facility := db.FacilityFromContext(ctx)
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM census_snapshot WHERE unit_id = $1 AND facility_id = $2`,
		unitID, facility).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+snapCols+` FROM census_snapshot
		 WHERE unit_id = $1 AND facility_id = $2
		 ORDER BY as_of DESC LIMIT $3 OFFSET $4`,
		unitID, facility, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		s, err := scanSnapRows(rows)
		if err != nil {
			return nil, 0, err
		}
		snaps = append(snaps, s)
	}
	return snaps, total, nil
}

func (r *repoPG) BackfillVariance(ctx context.Context, id uuid.UUID, predicted, variance float64, modelVersion string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE census_snapshot SET predicted_available = $3, variance = $4, model_version = $5
		WHERE id = $1 AND facility_id = $2 AND variance IS NULL`,
		id, db.FacilityFromContext(ctx), predicted, variance, modelVersion,
	)
	return err
}

func scanSnap(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	err := row.Scan(
		&s.ID, &s.FacilityID, &s.UnitID, &s.AsOf, &s.Occupied, &s.Available, &s.Dirty, &s.Blocked, &s.Maintenance,
		&s.AdmissionsSince, &s.DischargesSince, &s.TransfersSince,
		&s.PredictedAvailable, &s.Variance, &s.ModelVersion, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSnapRows(rows pgx.Rows) (*Snapshot, error) {
	var s Snapshot
	err := rows.Scan(
		&s.ID, &s.FacilityID, &s.UnitID, &s.AsOf, &s.Occupied, &s.Available, &s.Dirty, &s.Blocked, &s.Maintenance,
		&s.AdmissionsSince, &s.DischargesSince, &s.TransfersSince,
		&s.PredictedAvailable, &s.Variance, &s.ModelVersion, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
