package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

var (
	_ contractx.Directory     = (*PostgresDirectory)(nil)
	_ contractx.StatusUpdater = (*PostgresDirectory)(nil)
)

type customerRow struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID             int64   `bun:"id,pk,autoincrement"`
	CustomerID     string  `bun:"customer_id,notnull,unique"`
	Email          string  `bun:"email,notnull"`
	Name           string  `bun:"name"`
	Phone          string  `bun:"phone"`
	Tier           string  `bun:"tier"`
	MonthlyPayment float64 `bun:"monthly_payment"`
	TenureMonths   int     `bun:"tenure_months"`
	PlanName       string  `bun:"plan_name"`
	Device         string  `bun:"device"`
	Status         string  `bun:"status"`
}

func (r customerRow) record() (statex.CustomerRecord, error) {
	tier, err := statex.ParseTier(r.Tier)
	if err != nil {
		return statex.CustomerRecord{}, err
	}
	status, err := statex.ParseCustomerStatus(r.Status)
	if err != nil {
		return statex.CustomerRecord{}, err
	}
	return statex.CustomerRecord{
		CustomerID:     r.CustomerID,
		Email:          r.Email,
		Name:           r.Name,
		Phone:          r.Phone,
		Tier:           tier,
		MonthlyPayment: r.MonthlyPayment,
		TenureMonths:   r.TenureMonths,
		PlanName:       r.PlanName,
		Device:         r.Device,
		Status:         status,
	}, nil
}

// PostgresDirectory reads the customers table. Duplicate emails resolve to the
// lowest row id, matching the load order of the CSV directory.
type PostgresDirectory struct {
	db bun.IDB
}

func NewPostgresDirectory(db bun.IDB) (*PostgresDirectory, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &PostgresDirectory{db: db}, nil
}

func (d *PostgresDirectory) CreateSchema(ctx context.Context) error {
	_, err := d.db.NewCreateTable().Model((*customerRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (d *PostgresDirectory) Lookup(ctx context.Context, email string) (statex.CustomerRecord, error) {
	key := normalizeEmail(email)
	if key == "" {
		return statex.CustomerRecord{}, fmt.Errorf("%w: email is empty", contractx.ErrValidation)
	}

	var row customerRow
	err := d.db.NewSelect().
		Model(&row).
		Where("LOWER(c.email) = ?", key).
		OrderExpr("c.id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return statex.CustomerRecord{}, fmt.Errorf("%w: customer email=%s", contractx.ErrNotFound, key)
	}
	if err != nil {
		return statex.CustomerRecord{}, fmt.Errorf("%w: lookup customer: %v", contractx.ErrExternalUnavailable, err)
	}
	return row.record()
}

func (d *PostgresDirectory) UpdateStatus(ctx context.Context, customerID string, status statex.CustomerStatus) error {
	res, err := d.db.NewUpdate().
		Model((*customerRow)(nil)).
		Set("status = ?", string(status)).
		Where("customer_id = ?", customerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: update customer status: %v", contractx.ErrExternalUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: customer id=%s", contractx.ErrNotFound, customerID)
	}
	return nil
}
