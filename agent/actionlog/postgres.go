package actionlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

var _ contractx.ActionLog = (*PostgresLog)(nil)

type actionRow struct {
	bun.BaseModel `bun:"table:customer_actions,alias:a"`

	ID         string    `bun:"id,pk"`
	CustomerID string    `bun:"customer_id,notnull"`
	Action     string    `bun:"action,notnull"`
	Reason     string    `bun:"reason"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type PostgresLog struct {
	db bun.IDB
}

func NewPostgresLog(db bun.IDB) (*PostgresLog, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &PostgresLog{db: db}, nil
}

func (l *PostgresLog) CreateSchema(ctx context.Context) error {
	_, err := l.db.NewCreateTable().Model((*actionRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Append inserts the entry. Re-appending an id is a no-op so a retried
// commit cannot produce two rows.
func (l *PostgresLog) Append(ctx context.Context, entry contractx.ActionEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	row := &actionRow{
		ID:         entry.ID,
		CustomerID: entry.CustomerID,
		Action:     string(entry.Action),
		Reason:     entry.Reason,
		CreatedAt:  entry.Timestamp.UTC(),
	}
	if _, err := l.db.NewInsert().Model(row).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("%w: insert action entry: %v", contractx.ErrExternalUnavailable, err)
	}
	return nil
}
