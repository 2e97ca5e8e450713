// internal/infra/database/postgres_customer_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"policy_reminder/internal/domain/customer"
	"strconv"
	"strings"
	"time"
)

// PostgresCustomerRepository stores policy items as JSONB arrays on the
// customers row so items keep the same positional identity as in MongoDB.
type PostgresCustomerRepository struct {
	db *sql.DB
}

func NewPostgresCustomerRepository(db *sql.DB) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{db: db}
}

func sectionColumn(s customer.Section) (string, error) {
	switch s {
	case customer.SectionHealth:
		return "health_details", nil
	case customer.SectionVehicle:
		return "vehicles", nil
	default:
		return "", fmt.Errorf("unknown policy section %q", string(s))
	}
}

func (r *PostgresCustomerRepository) ListWithOwnerEmail(ctx context.Context) ([]*customer.Customer, error) {
	query := `SELECT c.customer_id, c.customer_name, u.email, c.health_details, c.vehicles
               FROM customers c
               LEFT JOIN users u ON u.id = c.user_id
               ORDER BY c.id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing customers with owners: %w", err)
	}
	defer rows.Close()

	var customers []*customer.Customer
	for rows.Next() {
		var (
			c                     customer.Customer
			ownerEmail            sql.NullString
			healthRaw, vehicleRaw []byte
		)
		if err := rows.Scan(&c.CustomerID, &c.CustomerName, &ownerEmail, &healthRaw, &vehicleRaw); err != nil {
			return nil, fmt.Errorf("error scanning customer row: %w", err)
		}
		c.OwnerEmail = ownerEmail.String
		if err := decodeItems(healthRaw, &c.HealthDetails); err != nil {
			return nil, fmt.Errorf("malformed health_details for customer %s: %w", c.CustomerID, err)
		}
		if err := decodeItems(vehicleRaw, &c.Vehicles); err != nil {
			return nil, fmt.Errorf("malformed vehicles for customer %s: %w", c.CustomerID, err)
		}
		customers = append(customers, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}
	return customers, nil
}

func decodeItems(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// markItemsStatement builds one UPDATE marking refs of a customer. Each
// item gets a jsonb_set pair touching only its two flag fields, and the
// WHERE clause requires every addressed element to be a JSON object.
func markItemsStatement(customerID string, refs []customer.ItemRef, at time.Time) (string, []any, error) {
	if len(refs) == 0 {
		return "", nil, fmt.Errorf("no items to mark for customer %s", customerID)
	}

	args := []any{customerID, at.UTC()}
	var (
		cols  []string
		exprs = make(map[string]string)
		conds []string
		seen  = make(map[string]struct{}, len(refs))
	)
	for _, ref := range refs {
		if ref.CustomerID != customerID {
			return "", nil, fmt.Errorf("%s does not belong to customer %s", ref, customerID)
		}
		if ref.Index < 0 {
			return "", nil, fmt.Errorf("negative index %d for %s", ref.Index, ref)
		}
		col, err := sectionColumn(ref.Section)
		if err != nil {
			return "", nil, err
		}
		key := col + "." + strconv.Itoa(ref.Index)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if _, ok := exprs[col]; !ok {
			cols = append(cols, col)
			exprs[col] = col
		}
		args = append(args, strconv.Itoa(ref.Index))
		pathParam := len(args)
		args = append(args, ref.Index)
		indexParam := len(args)

		exprs[col] = fmt.Sprintf(
			"jsonb_set(jsonb_set(%s, ARRAY[$%[2]d::text, 'reminderSent'], 'true'::jsonb), ARRAY[$%[2]d::text, 'reminderSentAt'], to_jsonb($2::timestamptz))",
			exprs[col], pathParam)
		conds = append(conds, fmt.Sprintf("jsonb_typeof(%s->$%d::int) = 'object'", col, indexParam))
	}

	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = "+exprs[col])
	}
	sets = append(sets, "updated_at = NOW()")

	query := "UPDATE customers SET " + strings.Join(sets, ", ") +
		" WHERE customer_id = $1 AND " + strings.Join(conds, " AND ")
	return query, args, nil
}

func (r *PostgresCustomerRepository) MarkItemNotified(ctx context.Context, ref customer.ItemRef, at time.Time) error {
	return r.MarkCustomerItemsNotified(ctx, ref.CustomerID, []customer.ItemRef{ref}, at)
}

func (r *PostgresCustomerRepository) MarkCustomerItemsNotified(ctx context.Context, customerID string, refs []customer.ItemRef, at time.Time) error {
	query, args, err := markItemsStatement(customerID, refs, at)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error marking %d items of customer %s as notified: %w", len(refs), customerID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows for customer %s: %w", customerID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: customer %s (%d items)", customer.ErrPolicyItemNotFound, customerID, len(refs))
	}
	return nil
}
