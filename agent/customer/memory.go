package customer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

var (
	_ contractx.Directory     = (*MemoryDirectory)(nil)
	_ contractx.StatusUpdater = (*MemoryDirectory)(nil)
)

// MemoryDirectory keeps customer records keyed by lower-cased email.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]*statex.CustomerRecord
	byID    map[string]*statex.CustomerRecord
}

func NewMemoryDirectory(records ...statex.CustomerRecord) *MemoryDirectory {
	d := &MemoryDirectory{
		byEmail: make(map[string]*statex.CustomerRecord, len(records)),
		byID:    make(map[string]*statex.CustomerRecord, len(records)),
	}
	for _, rec := range records {
		d.add(rec)
	}
	return d
}

// add keeps the first record seen for an email.
func (d *MemoryDirectory) add(rec statex.CustomerRecord) bool {
	key := normalizeEmail(rec.Email)
	if key == "" {
		return false
	}
	if _, dup := d.byEmail[key]; dup {
		return false
	}
	r := rec
	d.byEmail[key] = &r
	if r.CustomerID != "" {
		if _, dup := d.byID[r.CustomerID]; !dup {
			d.byID[r.CustomerID] = &r
		}
	}
	return true
}

func (d *MemoryDirectory) Lookup(ctx context.Context, email string) (statex.CustomerRecord, error) {
	if err := ctx.Err(); err != nil {
		return statex.CustomerRecord{}, err
	}
	key := normalizeEmail(email)
	if key == "" {
		return statex.CustomerRecord{}, fmt.Errorf("%w: email is empty", contractx.ErrValidation)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.byEmail[key]
	if !ok {
		return statex.CustomerRecord{}, fmt.Errorf("%w: customer email=%s", contractx.ErrNotFound, key)
	}
	return *rec, nil
}

func (d *MemoryDirectory) UpdateStatus(ctx context.Context, customerID string, status statex.CustomerStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.byID[customerID]
	if !ok {
		return fmt.Errorf("%w: customer id=%s", contractx.ErrNotFound, customerID)
	}
	rec.Status = status
	return nil
}

func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byEmail)
}

// LoadCSVFile reads a customers CSV file with a header row.
func LoadCSVFile(path string) (*MemoryDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open customers file: %w", err)
	}
	defer f.Close()

	return LoadCSV(f)
}

// LoadCSV parses customer rows. Columns are matched by header name; unknown
// columns are ignored. Rows without an email are skipped.
func LoadCSV(r io.Reader) (*MemoryDirectory, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return NewMemoryDirectory(), nil
		}
		return nil, fmt.Errorf("read customers header: %w", err)
	}
	cols := indexColumns(header)
	if _, ok := cols["email"]; !ok {
		return nil, fmt.Errorf("%w: customers file has no email column", contractx.ErrValidation)
	}

	dir := NewMemoryDirectory()
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read customers line %d: %w", line, err)
		}

		rec, err := parseRow(cols, row)
		if err != nil {
			return nil, fmt.Errorf("customers line %d: %w", line, err)
		}
		dir.add(rec)
	}
	return dir, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch name {
		case "monthly_charge":
			name = "monthly_payment"
		case "plan_type":
			name = "plan_name"
		}
		if _, seen := cols[name]; !seen {
			cols[name] = i
		}
	}
	return cols
}

func parseRow(cols map[string]int, row []string) (statex.CustomerRecord, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	tier, err := statex.ParseTier(get("tier"))
	if err != nil && get("tier") != "" {
		return statex.CustomerRecord{}, err
	}
	if tier == "" {
		tier = statex.TierStandard
	}
	status, err := statex.ParseCustomerStatus(get("status"))
	if err != nil {
		return statex.CustomerRecord{}, err
	}

	rec := statex.CustomerRecord{
		CustomerID: get("customer_id"),
		Email:      get("email"),
		Name:       get("name"),
		Phone:      get("phone"),
		Tier:       tier,
		PlanName:   get("plan_name"),
		Device:     get("device"),
		Status:     status,
	}
	if raw := strings.TrimPrefix(get("monthly_payment"), "$"); raw != "" {
		if rec.MonthlyPayment, err = strconv.ParseFloat(raw, 64); err != nil {
			return statex.CustomerRecord{}, fmt.Errorf("monthly payment %q: %w", raw, err)
		}
	}
	if raw := get("tenure_months"); raw != "" {
		if rec.TenureMonths, err = strconv.Atoi(raw); err != nil {
			return statex.CustomerRecord{}, fmt.Errorf("tenure months %q: %w", raw, err)
		}
	}
	if rec.CustomerID == "" {
		rec.CustomerID = normalizeEmail(rec.Email)
	}
	return rec, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
