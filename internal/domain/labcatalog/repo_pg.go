package labcatalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/labtracker/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const testCols = `id, name, category, price, turnaround_hours, requires_fasting,
	sample_type, description, active, created_at, updated_at`

func scanTest(row pgx.Row) (*LabTest, error) {
	var t LabTest
	err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Price, &t.TurnaroundHours, &t.RequiresFasting,
		&t.SampleType, &t.Description, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *LabTest) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO lab_test (id, name, category, price, turnaround_hours, requires_fasting,
			sample_type, description, active)
		VALUES (`+db.SequenceID("LT", "lab_test_seq")+`, $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		t.Name, t.Category, t.Price, t.TurnaroundHours, t.RequiresFasting,
		t.SampleType, t.Description, t.Active,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*LabTest, error) {
	return scanTest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+testCols+` FROM lab_test WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, t *LabTest) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE lab_test SET name=$2, category=$3, price=$4, turnaround_hours=$5,
			requires_fasting=$6, sample_type=$7, description=$8, active=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Name, t.Category, t.Price, t.TurnaroundHours,
		t.RequiresFasting, t.SampleType, t.Description, t.Active,
	).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM lab_test WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, category Category, activeOnly bool) ([]*LabTest, error) {
	query, args, err := listQuery(category, activeOnly)
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LabTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func listQuery(category Category, activeOnly bool) (string, []interface{}, error) {
	ds := goqu.Dialect("postgres").
		From("lab_test").
		Select(goqu.L(testCols)).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)
	if category != "" {
		ds = ds.Where(goqu.C("category").Eq(string(category)))
	}
	if activeOnly {
		ds = ds.Where(goqu.C("active").IsTrue())
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build lab_test query: %w", err)
	}
	return query, args, nil
}
