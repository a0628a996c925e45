package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// GetStock returns the quantity for an item. ok is false when the item does
// not exist (distinct from an existing item at zero stock).
func (s *Store) GetStock(itemName string) (quantity int, ok bool, err error) {
	err = s.db.QueryRow(
		"SELECT quantity FROM inventory WHERE item_name = ?", itemName,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read stock for %s: %w", itemName, err)
	}
	return quantity, true, nil
}

// AllItems returns the full inventory ordered by item name.
func (s *Store) AllItems() ([]InventoryItem, error) {
	rows, err := s.db.Query("SELECT item_name, quantity FROM inventory ORDER BY item_name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []InventoryItem
	for rows.Next() {
		var item InventoryItem
		if err := rows.Scan(&item.Name, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory iteration failed: %w", err)
	}
	return items, nil
}

// AllItemNames returns the canonical key set, in enumeration order. The
// resolver re-reads this on every call because items are added at runtime.
func (s *Store) AllItemNames() ([]string, error) {
	items, err := s.AllItems()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names, nil
}

// AddItem registers a new inventory item. Fails if the item already exists.
func (s *Store) AddItem(itemName string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("initial quantity must not be negative, got %d", quantity)
	}
	_, err := s.db.Exec(
		"INSERT INTO inventory (item_name, quantity) VALUES (?, ?)", itemName, quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to add item %s: %w", itemName, err)
	}
	return nil
}

// DeleteItem removes an item type. Historical request rows keep referring to
// it by name.
func (s *Store) DeleteItem(itemName string) error {
	res, err := s.db.Exec("DELETE FROM inventory WHERE item_name = ?", itemName)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", itemName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result for %s: %w", itemName, err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", itemName, ErrNotFound)
	}
	return nil
}

// SetStock sets the absolute quantity for an existing item.
func (s *Store) SetStock(itemName string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("quantity must not be negative, got %d", quantity)
	}
	res, err := s.db.Exec(
		"UPDATE inventory SET quantity = ? WHERE item_name = ?", quantity, itemName,
	)
	if err != nil {
		return fmt.Errorf("failed to set stock for %s: %w", itemName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for %s: %w", itemName, err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", itemName, ErrNotFound)
	}
	return nil
}

// IncrementStock adds delta to an item's quantity and returns the new value.
// The item is created at delta if it does not exist yet.
func (s *Store) IncrementStock(itemName string, delta int) (int, error) {
	res, err := s.db.Exec(
		"UPDATE inventory SET quantity = quantity + ? WHERE item_name = ?", delta, itemName,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to increment stock for %s: %w", itemName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check increment result for %s: %w", itemName, err)
	}
	if n == 0 {
		if delta < 0 {
			return 0, fmt.Errorf("item %s: %w", itemName, ErrNotFound)
		}
		if err := s.AddItem(itemName, delta); err != nil {
			return 0, err
		}
		return delta, nil
	}

	quantity, ok, err := s.GetStock(itemName)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("item %s vanished during increment: %w", itemName, ErrNotFound)
	}
	return quantity, nil
}

// CreateRequest inserts a request row and returns its id.
func (s *Store) CreateRequest(req *Request) (int64, error) {
	if !IsValidStatus(req.Status) {
		return 0, fmt.Errorf("invalid request status %q", req.Status)
	}
	var sessionRef any
	if req.SessionRef != "" {
		sessionRef = req.SessionRef
	}
	res, err := s.db.Exec(
		`INSERT INTO requests (item_name, quantity, location, status, urgency, notes, session_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ItemName, req.Quantity, req.Location, req.Status, req.Urgency, req.Notes, sessionRef,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create request for %s: %w", req.ItemName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read request id: %w", err)
	}
	req.ID = id
	return id, nil
}

// GetRequest loads one request row by id.
func (s *Store) GetRequest(id int64) (*Request, error) {
	row := s.db.QueryRow(
		`SELECT id, item_name, quantity, location, status, urgency, notes, session_ref, created_at
		 FROM requests WHERE id = ?`, id,
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	return req, nil
}

// UpdateRequestStatus sets a request's status, and its notes when notes is
// non-empty.
func (s *Store) UpdateRequestStatus(id int64, status, notes string) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("invalid request status %q", status)
	}
	var (
		res sql.Result
		err error
	)
	if notes != "" {
		res, err = s.db.Exec("UPDATE requests SET status = ?, notes = ? WHERE id = ?", status, notes, id)
	} else {
		res, err = s.db.Exec("UPDATE requests SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for request %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	return nil
}

// PendingRequests returns rows a supervisor still has to act on, most urgent
// first, oldest first within an urgency level.
func (s *Store) PendingRequests() ([]*Request, error) {
	placeholders := strings.Repeat("?,", len(openStatuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(openStatuses))
	for i, status := range openStatuses {
		args[i] = status
	}

	query := fmt.Sprintf(
		`SELECT id, item_name, quantity, location, status, urgency, notes, session_ref, created_at
		 FROM requests WHERE status IN (%s)
		 ORDER BY CASE WHEN urgency = '%s' THEN 0 ELSE 1 END, id ASC`,
		placeholders, UrgencyCritical)
	return s.queryRequests(query, args...)
}

// OpenRequestsForItem returns PENDING_DISPATCH and ACTION_REQUIRED rows for
// one item in FIFO order. Restock reconciliation consumes this list.
func (s *Store) OpenRequestsForItem(itemName string) ([]*Request, error) {
	return s.queryRequests(
		`SELECT id, item_name, quantity, location, status, urgency, notes, session_ref, created_at
		 FROM requests WHERE item_name = ? AND status IN (?, ?)
		 ORDER BY id ASC`,
		itemName, StatusPendingDispatch, StatusActionRequired,
	)
}

// AuditLog returns the most recent terminal/resolved rows, newest first.
func (s *Store) AuditLog(limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryRequests(
		`SELECT id, item_name, quantity, location, status, urgency, notes, session_ref, created_at
		 FROM requests WHERE status NOT IN (?, ?, ?)
		 ORDER BY id DESC LIMIT ?`,
		StatusPending, StatusActionRequired, StatusPendingDispatch, limit,
	)
}

// CreateSystemLog inserts a non-actionable FLAGGED row for supervisor review.
func (s *Store) CreateSystemLog(notes string) error {
	_, err := s.CreateRequest(&Request{
		ItemName: SystemNoteItem,
		Quantity: 0,
		Location: "N/A",
		Status:   StatusFlagged,
		Urgency:  UrgencyNormal,
		Notes:    notes,
	})
	return err
}

func (s *Store) queryRequests(query string, args ...any) ([]*Request, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request row: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request iteration failed: %w", err)
	}
	return requests, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(sc scanner) (*Request, error) {
	var (
		req        Request
		sessionRef sql.NullString
	)
	if err := sc.Scan(
		&req.ID, &req.ItemName, &req.Quantity, &req.Location,
		&req.Status, &req.Urgency, &req.Notes, &sessionRef, &req.CreatedAt,
	); err != nil {
		return nil, err
	}
	if sessionRef.Valid {
		req.SessionRef = sessionRef.String
	}
	return &req, nil
}
