package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// SQLiteStore persists approvals, execution results, and orders. It backs
// the ApprovalStore, ExecutionStore, and OrderRepository contracts.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ model.ApprovalStore   = (*SQLiteStore)(nil)
	_ model.ExecutionStore  = (*SQLiteStore)(nil)
	_ model.OrderRepository = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database and initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer connection; concurrent writers would surface SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			action TEXT NOT NULL,
			order_id TEXT NOT NULL,
			proposed_message TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			approval_id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			order_id TEXT NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			error TEXT,
			refund_id TEXT,
			executed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			expected_delivery_date TIMESTAMP NOT NULL,
			amount REAL NOT NULL,
			refundable INTEGER NOT NULL DEFAULT 0,
			description TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_conversation ON approvals(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ================ ApprovalStore ================

func (s *SQLiteStore) Create(ctx context.Context, ap *model.Approval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (approval_id, conversation_id, action, order_id, proposed_message, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ap.ApprovalID, ap.ConversationID, string(ap.Action), ap.OrderID, ap.ProposedMessage, string(ap.Status), ap.CreatedAt,
	)
	if err != nil {
		logx.Error().Err(err).Str("approval_id", ap.ApprovalID).Msg("failed to insert approval")
		return errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, approvalID string) (*model.Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT approval_id, conversation_id, action, order_id, proposed_message, status, created_at, resolved_at
		 FROM approvals WHERE approval_id = ?`, approvalID)
	return scanApproval(row)
}

// ResolvePending flips a PENDING approval to its final status. The WHERE
// clause on status makes concurrent resolutions race safely: the update
// affects a row exactly once, so exactly one caller wins.
func (s *SQLiteStore) ResolvePending(ctx context.Context, approvalID string, status model.ApprovalStatus) (*model.Approval, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE approval_id = ? AND status = ?`,
		string(status), now, approvalID, string(model.ApprovalPending),
	)
	if err != nil {
		logx.Error().Err(err).Str("approval_id", approvalID).Msg("failed to resolve approval")
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	if affected == 0 {
		if _, gerr := s.Get(ctx, approvalID); gerr != nil {
			return nil, gerr // not found
		}
		return nil, errx.AlreadyResolved(approvalID)
	}
	return s.Get(ctx, approvalID)
}

func scanApproval(row *sql.Row) (*model.Approval, error) {
	var (
		ap         model.Approval
		action     string
		status     string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&ap.ApprovalID, &ap.ConversationID, &action, &ap.OrderID, &ap.ProposedMessage, &status, &ap.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errx.NotFound("approval not found")
	}
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	ap.Action = model.ActionType(action)
	ap.Status = model.ApprovalStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		ap.ResolvedAt = &t
	}
	return &ap, nil
}

// ================ ExecutionStore ================

func (s *SQLiteStore) GetExecution(ctx context.Context, approvalID string) (*model.ExecutionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT approval_id, action, order_id, success, message, error, refund_id, executed_at
		 FROM executions WHERE approval_id = ?`, approvalID)
	return scanExecution(row)
}

// Record inserts the execution outcome. A conflicting insert for the same
// approval id is ignored and the already-stored row is returned instead,
// keeping execution idempotent per approval.
func (s *SQLiteStore) Record(ctx context.Context, res *model.ExecutionResult) (*model.ExecutionResult, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (approval_id, action, order_id, success, message, error, refund_id, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(approval_id) DO NOTHING`,
		res.ApprovalID, string(res.Action), res.OrderID, boolToInt(res.Success), res.Message, res.Error, res.RefundID, res.ExecutedAt,
	)
	if err != nil {
		logx.Error().Err(err).Str("approval_id", res.ApprovalID).Msg("failed to record execution")
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	return s.GetExecution(ctx, res.ApprovalID)
}

func scanExecution(row *sql.Row) (*model.ExecutionResult, error) {
	var (
		res     model.ExecutionResult
		action  string
		success int
	)
	err := row.Scan(&res.ApprovalID, &action, &res.OrderID, &success, &res.Message, &res.Error, &res.RefundID, &res.ExecutedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errx.NotFound("execution not found")
	}
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	res.Action = model.ActionType(action)
	res.Success = success != 0
	return &res, nil
}

// ================ OrderRepository ================

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT order_id, status, expected_delivery_date, amount, refundable, description
		 FROM orders WHERE order_id = ?`, orderID)

	var (
		o           model.Order
		status      string
		refundable  int
		description sql.NullString
	)
	err := row.Scan(&o.OrderID, &status, &o.ExpectedDeliveryDate, &o.Amount, &refundable, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errx.NotFound("order not found")
	}
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	o.Status = model.OrderStatus(status)
	o.Refundable = refundable != 0
	o.Description = description.String
	return &o, nil
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) (*model.Order, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE order_id = ?`, string(status), orderID)
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	if affected == 0 {
		return nil, errx.NotFound("order not found")
	}
	return s.GetOrder(ctx, orderID)
}

func (s *SQLiteStore) ProcessRefund(ctx context.Context, orderID string, amount float64) (*model.Refund, error) {
	// Payment gateway integration is out of scope; the refund reference is
	// deterministic per order.
	return &model.Refund{
		RefundID: "REF-" + orderID,
		OrderID:  orderID,
		Amount:   amount,
		Status:   "processed",
	}, nil
}

// SeedOrders inserts the development order fixtures when the table is empty.
func (s *SQLiteStore) SeedOrders(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
	}
	if count > 0 {
		return nil
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	fixtures := []model.Order{
		{OrderID: "ORD-001", Status: model.OrderPlaced, ExpectedDeliveryDate: today.AddDate(0, 0, 5), Amount: 99.99, Refundable: true},
		{OrderID: "ORD-002", Status: model.OrderShipped, ExpectedDeliveryDate: today.AddDate(0, 0, 2), Amount: 149.50, Refundable: true},
		{OrderID: "ORD-003", Status: model.OrderDelivered, ExpectedDeliveryDate: today.AddDate(0, 0, -3), Amount: 79.99, Refundable: true},
		{OrderID: "ORD-004", Status: model.OrderCancelled, ExpectedDeliveryDate: today.AddDate(0, 0, 7), Amount: 199.99, Refundable: false},
		{OrderID: "ORD-005", Status: model.OrderPlaced, ExpectedDeliveryDate: today.AddDate(0, 0, -10), Amount: 299.99, Refundable: true}, // delayed
	}

	for _, o := range fixtures {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO orders (order_id, status, expected_delivery_date, amount, refundable, description)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			o.OrderID, string(o.Status), o.ExpectedDeliveryDate, o.Amount, boolToInt(o.Refundable), o.Description,
		)
		if err != nil {
			return errx.New(err, http.StatusBadGateway, errx.StoreErrorMessage)
		}
	}
	logx.Info().Int("orders", len(fixtures)).Msg("seeded order fixtures")
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
