package labrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

const requestCols = `id, patient_id, patient_name, patient_type, doctor_id, doctor_name,
	tests, priority, branch, total_amount, payment_status, payment_method,
	insurance_provider, insurance_policy_number, insurance_approval_code,
	notes, version_id, created_at, updated_at`

func scanRequest(row pgx.Row) (*LabRequest, error) {
	var r LabRequest
	var tests []byte
	err := row.Scan(&r.ID, &r.PatientID, &r.PatientName, &r.PatientType, &r.DoctorID, &r.DoctorName,
		&tests, &r.Priority, &r.Branch, &r.TotalAmount, &r.PaymentStatus, &r.PaymentMethod,
		&r.InsuranceProvider, &r.InsurancePolicyNumber, &r.InsuranceApprovalCode,
		&r.Notes, &r.VersionID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tests, &r.Tests); err != nil {
		return nil, fmt.Errorf("decode tests of %s: %w", r.ID, err)
	}
	return &r, nil
}

func (p *repoPG) Create(ctx context.Context, r *LabRequest) error {
	return db.WithTx(ctx, p.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, p.pool)

		rows, err := conn.Query(ctx,
			`SELECT `+db.SequenceID("T", "test_order_seq")+` FROM generate_series(1, $1)`,
			len(r.Tests))
		if err != nil {
			return err
		}
		i := 0
		for rows.Next() {
			if err := rows.Scan(&r.Tests[i].ID); err != nil {
				rows.Close()
				return err
			}
			i++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		tests, err := json.Marshal(r.Tests)
		if err != nil {
			return fmt.Errorf("encode tests: %w", err)
		}
		r.VersionID = 1
		return conn.QueryRow(ctx, `
			INSERT INTO lab_request (id, patient_id, patient_name, patient_type, doctor_id, doctor_name,
				tests, priority, branch, total_amount, payment_status, payment_method,
				insurance_provider, insurance_policy_number, insurance_approval_code,
				notes, version_id, created_at, updated_at)
			VALUES (`+db.SequenceID("LR", "lab_request_seq")+`, $1, $2, $3, $4, $5,
				$6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING id`,
			r.PatientID, r.PatientName, r.PatientType, r.DoctorID, r.DoctorName,
			string(tests), r.Priority, r.Branch, r.TotalAmount, r.PaymentStatus, r.PaymentMethod,
			r.InsuranceProvider, r.InsurancePolicyNumber, r.InsuranceApprovalCode,
			r.Notes, r.VersionID, r.CreatedAt, r.UpdatedAt,
		).Scan(&r.ID)
	})
}

func (p *repoPG) GetByID(ctx context.Context, id string) (*LabRequest, error) {
	return scanRequest(db.Conn(ctx, p.pool).QueryRow(ctx,
		`SELECT `+requestCols+` FROM lab_request WHERE id = $1`, id))
}

func (p *repoPG) Update(ctx context.Context, r *LabRequest) error {
	tests, err := json.Marshal(r.Tests)
	if err != nil {
		return fmt.Errorf("encode tests: %w", err)
	}
	conn := db.Conn(ctx, p.pool)
	tag, err := conn.Exec(ctx, `
		UPDATE lab_request SET tests=$3::jsonb, priority=$4, payment_status=$5, payment_method=$6,
			insurance_provider=$7, insurance_policy_number=$8, insurance_approval_code=$9,
			doctor_id=$10, doctor_name=$11, notes=$12, updated_at=$13, version_id = version_id + 1
		WHERE id = $1 AND version_id = $2`,
		r.ID, r.VersionID, string(tests), r.Priority, r.PaymentStatus, r.PaymentMethod,
		r.InsuranceProvider, r.InsurancePolicyNumber, r.InsuranceApprovalCode,
		r.DoctorID, r.DoctorName, r.Notes, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lab_request WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	r.VersionID++
	return nil
}

func (p *repoPG) ListByPatient(ctx context.Context, patientID string) ([]*LabRequest, error) {
	return p.Find(ctx, Criteria{PatientID: patientID})
}

func (p *repoPG) Find(ctx context.Context, c Criteria) ([]*LabRequest, error) {
	query, args, err := findQuery(c)
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn(ctx, p.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LabRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func findQuery(c Criteria) (string, []interface{}, error) {
	ds := goqu.Dialect("postgres").
		From("lab_request").
		Select(goqu.L(requestCols)).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	if c.PatientID != "" {
		ds = ds.Where(goqu.C("patient_id").Eq(c.PatientID))
	}
	if c.Branch != "" {
		ds = ds.Where(goqu.Func("lower", goqu.C("branch")).Eq(strings.ToLower(strings.TrimSpace(c.Branch))))
	}
	if c.PatientType != "" {
		ds = ds.Where(goqu.C("patient_type").Eq(string(c.PatientType)))
	}
	if c.Status != "" {
		containment, err := json.Marshal([]map[string]string{{"status": string(c.Status)}})
		if err != nil {
			return "", nil, err
		}
		ds = ds.Where(goqu.L("tests @> ?::jsonb", string(containment)))
	}
	if c.CreatedFrom != nil {
		ds = ds.Where(goqu.C("created_at").Gte(*c.CreatedFrom))
	}
	if c.CreatedTo != nil {
		ds = ds.Where(goqu.C("created_at").Lt(*c.CreatedTo))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build lab_request query: %w", err)
	}
	return query, args, nil
}
