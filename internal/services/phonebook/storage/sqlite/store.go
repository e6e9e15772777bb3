// Package sqlite provides a SQLite-backed phonebook storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/phonebook/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists contacts and identities in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite phonebook store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// PutContact inserts or updates one contact record. Updates keep the
// original insertion position so first-match lookups stay stable.
func (s *Store) PutContact(ctx context.Context, contact storage.Contact) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	contactID := strings.TrimSpace(contact.ID)
	if contactID == "" {
		return fmt.Errorf("%w: contact id is required", storage.ErrInvalidRecord)
	}
	if strings.TrimSpace(contact.Name) == "" {
		return fmt.Errorf("%w: name is required", storage.ErrInvalidRecord)
	}
	if strings.TrimSpace(contact.Location.Street) == "" {
		return fmt.Errorf("%w: street is required", storage.ErrInvalidRecord)
	}
	if strings.TrimSpace(contact.Location.City) == "" {
		return fmt.Errorf("%w: city is required", storage.ErrInvalidRecord)
	}
	createdAt, updatedAt := recordTimes(contact.CreatedAt, contact.UpdatedAt)

	var phone sql.NullString
	if contact.Phone != nil {
		phone = sql.NullString{String: *contact.Phone, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO contacts (id, name, phone, street, city, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   phone = excluded.phone,
		   street = excluded.street,
		   city = excluded.city,
		   updated_at = excluded.updated_at`,
		contactID,
		contact.Name,
		phone,
		contact.Location.Street,
		contact.Location.City,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("put contact: %w", err)
	}
	return nil
}

// GetContact returns one contact by ID.
func (s *Store) GetContact(ctx context.Context, contactID string) (storage.Contact, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Contact{}, err
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return storage.Contact{}, fmt.Errorf("contact id is required")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, phone, street, city, created_at, updated_at
		 FROM contacts WHERE id = ?`,
		contactID,
	)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Contact{}, storage.ErrNotFound
		}
		return storage.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return contact, nil
}

// FindContactByName returns the earliest inserted contact with name.
func (s *Store) FindContactByName(ctx context.Context, name string) (storage.Contact, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Contact{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, phone, street, city, created_at, updated_at
		 FROM contacts WHERE name = ?
		 ORDER BY rowid ASC
		 LIMIT 1`,
		name,
	)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Contact{}, storage.ErrNotFound
		}
		return storage.Contact{}, fmt.Errorf("find contact by name: %w", err)
	}
	return contact, nil
}

// ListContacts returns contacts matching filter in insertion order.
func (s *Store) ListContacts(ctx context.Context, filter storage.ContactFilter) ([]storage.Contact, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	query := `SELECT id, name, phone, street, city, created_at, updated_at FROM contacts`
	switch filter.Phone {
	case storage.PhoneAny:
	case storage.PhoneHas:
		query += ` WHERE phone IS NOT NULL`
	case storage.PhoneNone:
		query += ` WHERE phone IS NULL`
	default:
		return nil, fmt.Errorf("unknown phone filter %d", filter.Phone)
	}
	query += ` ORDER BY rowid ASC`

	rows, err := s.sqlDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]storage.Contact, 0)
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// CountContacts returns the number of stored contacts.
func (s *Store) CountContacts(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return count, nil
}

// PutIdentity inserts or updates one identity and replaces its friend list
// in a single transaction.
func (s *Store) PutIdentity(ctx context.Context, identity storage.Identity) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	identityID := strings.TrimSpace(identity.ID)
	if identityID == "" {
		return fmt.Errorf("%w: identity id is required", storage.ErrInvalidRecord)
	}
	username := strings.TrimSpace(identity.Username)
	if username == "" {
		return fmt.Errorf("%w: username is required", storage.ErrInvalidRecord)
	}
	createdAt, updatedAt := recordTimes(identity.CreatedAt, identity.UpdatedAt)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin identity tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO identities (id, username, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   updated_at = excluded.updated_at`,
		identityID,
		username,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "identities.username") {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put identity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_friends WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("clear identity friends: %w", err)
	}
	for position, friend := range identity.Friends {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO identity_friends (identity_id, contact_id, position) VALUES (?, ?, ?)`,
			identityID,
			friend.ID,
			position,
		)
		if err != nil {
			if isUniqueViolation(err, "identity_friends.") {
				return fmt.Errorf("%w: duplicate friend %s", storage.ErrInvalidRecord, friend.ID)
			}
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown friend %s", storage.ErrInvalidRecord, friend.ID)
			}
			return fmt.Errorf("put identity friend: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identity tx: %w", err)
	}
	return nil
}

// GetIdentity returns one identity by ID with its friends hydrated.
func (s *Store) GetIdentity(ctx context.Context, identityID string) (storage.Identity, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Identity{}, err
	}
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return storage.Identity{}, fmt.Errorf("identity id is required")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, username, created_at, updated_at FROM identities WHERE id = ?`,
		identityID,
	)
	return s.hydrateIdentity(ctx, row)
}

// GetIdentityByUsername returns one identity by canonical username with its
// friends hydrated.
func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (storage.Identity, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Identity{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, username, created_at, updated_at FROM identities WHERE username = ?`,
		username,
	)
	return s.hydrateIdentity(ctx, row)
}

func (s *Store) hydrateIdentity(ctx context.Context, row *sql.Row) (storage.Identity, error) {
	var (
		identity  storage.Identity
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&identity.ID, &identity.Username, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Identity{}, storage.ErrNotFound
		}
		return storage.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	identity.CreatedAt = fromMillis(createdAt)
	identity.UpdatedAt = fromMillis(updatedAt)

	friends, err := s.listFriends(ctx, identity.ID)
	if err != nil {
		return storage.Identity{}, err
	}
	identity.Friends = friends
	return identity, nil
}

func (s *Store) listFriends(ctx context.Context, identityID string) ([]storage.Contact, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT c.id, c.name, c.phone, c.street, c.city, c.created_at, c.updated_at
		 FROM identity_friends f
		 JOIN contacts c ON c.id = f.contact_id
		 WHERE f.identity_id = ?
		 ORDER BY f.position ASC`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list identity friends: %w", err)
	}
	defer rows.Close()

	friends := make([]storage.Contact, 0)
	for rows.Next() {
		friend, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity friend: %w", err)
		}
		friends = append(friends, friend)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity friends: %w", err)
	}
	return friends, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (storage.Contact, error) {
	var (
		contact   storage.Contact
		phone     sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&contact.ID,
		&contact.Name,
		&phone,
		&contact.Location.Street,
		&contact.Location.City,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Contact{}, err
	}
	if phone.Valid {
		value := phone.String
		contact.Phone = &value
	}
	contact.CreatedAt = fromMillis(createdAt)
	contact.UpdatedAt = fromMillis(updatedAt)
	return contact, nil
}

func recordTimes(createdAt, updatedAt time.Time) (time.Time, time.Time) {
	createdAt = createdAt.UTC()
	updatedAt = updatedAt.UTC()
	if createdAt.IsZero() && updatedAt.IsZero() {
		now := time.Now().UTC()
		return now, now
	}
	if createdAt.IsZero() {
		createdAt = updatedAt
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	return createdAt, updatedAt
}

func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return strings.Contains(err.Error(), column)
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, strings.ToLower(column))
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

var _ storage.Store = (*Store)(nil)
