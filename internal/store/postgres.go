package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/pkg/models"
)

// PostgresStore implements Store on database/sql with the pq driver.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// EnsureSchema creates the orders tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			total_amount DECIMAL(12,2) NOT NULL,
			total_items INTEGER NOT NULL,
			status VARCHAR(50) NOT NULL,
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			paid_at TIMESTAMP,
			payment_charge_id VARCHAR(255),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL REFERENCES orders(id),
			product_id VARCHAR(255) NOT NULL,
			price DECIMAL(12,2) NOT NULL,
			quantity INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_receipts (
			order_id VARCHAR(255) PRIMARY KEY REFERENCES orders(id),
			receipt_url TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) CreateOrderWithItems(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, total_amount, total_items, status, paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, query, order.ID, order.TotalAmount, order.TotalItems,
		order.Status, order.Paid, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		itemQuery := `
			INSERT INTO order_items (order_id, product_id, price, quantity)
			VALUES ($1, $2, $3, $4)
		`
		_, err = tx.ExecContext(ctx, itemQuery, order.ID, item.ProductID, item.Price, item.Quantity)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, total_amount, total_items, status, paid, paid_at, payment_charge_id, created_at, updated_at
		FROM orders WHERE id = $1
	`
	var paidAt sql.NullTime
	var chargeID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.TotalAmount, &order.TotalItems, &order.Status,
		&order.Paid, &paidAt, &chargeID, &order.CreatedAt, &order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	if chargeID.Valid {
		order.PaymentChargeID = chargeID.String
	}

	itemsQuery := `
		SELECT product_id, price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, itemsQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	receipt := &models.OrderReceipt{}
	receiptQuery := `SELECT order_id, receipt_url, created_at FROM order_receipts WHERE order_id = $1`
	err = s.db.QueryRowContext(ctx, receiptQuery, id).Scan(&receipt.OrderID, &receipt.ReceiptURL, &receipt.CreatedAt)
	if err == nil {
		order.Receipt = receipt
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	return order, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	query := `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	result, err := s.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.missOrConflict(ctx, id)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":    id,
		"from_status": from,
		"to_status":   to,
	}).Info("Order status updated")

	return s.FindByID(ctx, id)
}

func (s *PostgresStore) ApplyPayment(ctx context.Context, up PaymentUpdate, from models.OrderStatus) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE orders
		SET status = $3, paid = TRUE, paid_at = $4, payment_charge_id = $5, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	result, err := tx.ExecContext(ctx, query, up.OrderID, from, models.StatusPaid, up.PaidAt, up.ChargeID)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.missOrConflict(ctx, up.OrderID)
	}

	receiptQuery := `
		INSERT INTO order_receipts (order_id, receipt_url, created_at)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.ExecContext(ctx, receiptQuery, up.OrderID, up.ReceiptURL, up.PaidAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":  up.OrderID,
		"charge_id": up.ChargeID,
	}).Info("Payment applied to order")

	return s.FindByID(ctx, up.OrderID)
}

func (s *PostgresStore) CountAndList(ctx context.Context, filter ListFilter, page, limit int) ([]models.Order, int, error) {
	where := ""
	args := []interface{}{}
	if filter.Status != nil {
		where = "WHERE status = $1"
		args = append(args, *filter.Status)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM orders %s", where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	listQuery := fmt.Sprintf(`
		SELECT id, total_amount, total_items, status, paid, paid_at, payment_charge_id, created_at, updated_at
		FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		var paidAt sql.NullTime
		var chargeID sql.NullString
		err := rows.Scan(
			&order.ID, &order.TotalAmount, &order.TotalItems, &order.Status,
			&order.Paid, &paidAt, &chargeID, &order.CreatedAt, &order.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		if paidAt.Valid {
			t := paidAt.Time
			order.PaidAt = &t
		}
		if chargeID.Valid {
			order.PaymentChargeID = chargeID.String
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// missOrConflict distinguishes a missing row from a lost conditional write.
func (s *PostgresStore) missOrConflict(ctx context.Context, id string) error {
	var status models.OrderStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}
