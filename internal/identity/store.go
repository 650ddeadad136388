// Package identity reads patient identity and order ownership from the
// marketplace tables. It is the only package that loads PatientContext and it
// is consulted exclusively by the report path.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/labsight/deidgate/internal/domain"
)

// Store provides server-side identity lookups keyed by order reference
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewStore creates a new identity store on an open database handle
func NewStore(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{
		db:  db,
		log: logger,
	}
}

// PatientContext loads the identity attached to an order. Missing columns
// come back as empty fields; a missing order is domain.ErrNotFound.
func (s *Store) PatientContext(ctx context.Context, orderRef string) (*domain.PatientContext, error) {
	query := `
		SELECT p.full_name, p.email, p.phone, p.date_of_birth::text, p.address, p.sex
		FROM orders o
		JOIN profiles p ON p.id = o.user_id
		WHERE o.order_ref = $1`

	var fullName, email, phone, dob, address, sex sql.NullString
	err := s.db.QueryRowContext(ctx, query, orderRef).Scan(
		&fullName, &email, &phone, &dob, &address, &sex,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient context for order %s: %w", orderRef, domain.ErrNotFound)
	}
	if err != nil {
		// Only the order reference is logged; identity never is.
		s.log.WithFields(logrus.Fields{
			"order_ref": orderRef,
			"error":     err,
		}).Error("Failed to load patient context")
		return nil, fmt.Errorf("loading patient context: %w", err)
	}

	return &domain.PatientContext{
		FullName:    fullName.String,
		Email:       email.String,
		Phone:       phone.String,
		DateOfBirth: dob.String,
		Address:     address.String,
		Sex:         sex.String,
	}, nil
}

// OrderOwner returns the user id that placed the order.
func (s *Store) OrderOwner(ctx context.Context, orderRef string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id::text FROM orders WHERE order_ref = $1`, orderRef,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("order %s: %w", orderRef, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading order owner: %w", err)
	}
	return userID, nil
}

// SetOrderStatus moves an order to status.
func (s *Store) SetOrderStatus(ctx context.Context, orderRef string, status domain.OrderStatus) error {
	if !status.IsValid() {
		return domain.NewValidationError("status", "unknown order status")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE order_ref = $2`,
		string(status), orderRef,
	)
	if err != nil {
		return fmt.Errorf("updating order status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", orderRef, domain.ErrNotFound)
	}

	s.log.WithFields(logrus.Fields{
		"order_ref": orderRef,
		"status":    status,
	}).Debug("Order status updated")
	return nil
}
