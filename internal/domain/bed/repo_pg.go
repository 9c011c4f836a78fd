package bed

import (
	"context"
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

const bedCols = `id, facility_id, unit_id, label, capabilities, status, status_changed_at,
	active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	b.FacilityID = db.FacilityFromContext(ctx)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bed (id, facility_id, unit_id, label, capabilities, status, status_changed_at, active)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),TRUE)`,
		b.ID, b.FacilityID, b.UnitID, b.Label, b.Capabilities, b.Status,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bedCols+` FROM bed WHERE id = $1 AND facility_id = $2`,
		id, db.FacilityFromContext(ctx)))
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE bed SET active = FALSE, updated_at = NOW() WHERE id = $1 AND facility_id = $2`,
		id, db.FacilityFromContext(ctx))
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Bed, int, error) {
	facility := db.FacilityFromContext(ctx)
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bed WHERE facility_id = $1`, facility).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bedCols+` FROM bed WHERE facility_id = $1 ORDER BY label LIMIT $2 OFFSET $3`,
		facility, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	beds, err := collectBeds(rows)
	return beds, total, err
}

func (r *repoPG) ListByUnit(ctx context.Context, unitID uuid.UUID) ([]*Bed, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bedCols+` FROM bed WHERE unit_id = $1 AND facility_id = $2 AND active ORDER BY label`,
		unitID, db.FacilityFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBeds(rows)
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed SET status = $3, status_changed_at = $4, updated_at = NOW()
		WHERE id = $1 AND facility_id = $2 AND status = $5`,
		id, db.FacilityFromContext(ctx), to, at, from,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) FindCandidates(ctx context.Context, unitID uuid.UUID, requiredCapabilities []string) ([]*Bed, error) {
	// capabilities @> $3 requires all requested tags; longest idle first so
	// cleaning and wear spread across the unit.
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bedCols+` FROM bed
		WHERE unit_id = $1 AND facility_id = $2 AND active
		  AND status = 'available'
		  AND capabilities @> $3
		ORDER BY status_changed_at ASC`,
		unitID, db.FacilityFromContext(ctx), requiredCapabilities)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBeds(rows)
}

func (r *repoPG) CountByUnitStatus(ctx context.Context, unitID uuid.UUID) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM bed
		WHERE unit_id = $1 AND facility_id = $2 AND active
		GROUP BY status`,
		unitID, db.FacilityFromContext(ctx))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, nil
}

func (r *repoPG) AddStatusChange(ctx context.Context, sc *StatusChange) error {
	sc.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bed_status_history (id, bed_id, from_status, to_status, reason, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sc.ID, sc.BedID, sc.FromStatus, sc.ToStatus, sc.Reason, sc.ChangedAt,
	)
	return err
}

func (r *repoPG) ListStatusHistory(ctx context.Context, bedID uuid.UUID, limit, offset int) ([]*StatusChange, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bed_status_history WHERE bed_id = $1`, bedID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bed_id, from_status, to_status, reason, changed_at
		FROM bed_status_history WHERE bed_id = $1
		ORDER BY changed_at DESC LIMIT $2 OFFSET $3`,
		bedID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var changes []*StatusChange
	for rows.Next() {
		var sc StatusChange
		if err := rows.Scan(&sc.ID, &sc.BedID, &sc.FromStatus, &sc.ToStatus, &sc.Reason, &sc.ChangedAt); err != nil {
			return nil, 0, err
		}
		changes = append(changes, &sc)
	}
	return changes, total, nil
}

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(
		&b.ID, &b.FacilityID, &b.UnitID, &b.Label, &b.Capabilities, &b.Status, &b.StatusChangedAt,
		&b.Active, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBeds(rows pgx.Rows) ([]*Bed, error) {
	var beds []*Bed
	for rows.Next() {
		var b Bed
		if err := rows.Scan(
			&b.ID, &b.FacilityID, &b.UnitID, &b.Label, &b.Capabilities, &b.Status, &b.StatusChangedAt,
			&b.Active, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		beds = append(beds, &b)
	}
	return beds, nil
}
