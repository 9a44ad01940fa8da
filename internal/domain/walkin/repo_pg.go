package walkin

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/labtracker/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, first_name, last_name, gender, age, phone, email, id_number, referred_by, created_at`

func scanPatient(row pgx.Row) (*ExternalPatient, error) {
	var p ExternalPatient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Gender, &p.Age, &p.Phone,
		&p.Email, &p.IDNumber, &p.ReferredBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *ExternalPatient) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO external_patient (id, first_name, last_name, gender, age, phone,
			email, id_number, referred_by, created_at)
		VALUES (`+db.SequenceID("EP", "external_patient_seq")+`, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		p.FirstName, p.LastName, p.Gender, p.Age, p.Phone,
		p.Email, p.IDNumber, p.ReferredBy, p.CreatedAt,
	).Scan(&p.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*ExternalPatient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM external_patient WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context) ([]*ExternalPatient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+patientCols+` FROM external_patient ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ExternalPatient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
