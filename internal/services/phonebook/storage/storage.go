// Package storage defines persistence contracts for phonebook records.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
var ErrAlreadyExists = errors.New("record already exists")

// ErrInvalidRecord indicates a record was rejected before it reached the
// database, usually because a required field is empty.
var ErrInvalidRecord = errors.New("record is invalid")

// Location is the postal address of a contact. Both fields are required.
type Location struct {
	Street string
	City   string
}

// Contact stores one person record.
type Contact struct {
	ID        string
	Name      string
	Phone     *string
	Location  Location
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPhone reports whether the contact carries a phone number.
func (c Contact) HasPhone() bool {
	return c.Phone != nil
}

// Identity stores one authenticated actor with its ordered friend list.
type Identity struct {
	ID        string
	Username  string
	Friends   []Contact
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFriend reports whether contactID is already in the friend list.
func (i Identity) HasFriend(contactID string) bool {
	for _, friend := range i.Friends {
		if friend.ID == contactID {
			return true
		}
	}
	return false
}

// PhoneFilter selects contacts by the presence of a phone number.
type PhoneFilter int

const (
	// PhoneAny matches every contact.
	PhoneAny PhoneFilter = iota
	// PhoneHas matches contacts with a phone number.
	PhoneHas
	// PhoneNone matches contacts without a phone number.
	PhoneNone
)

// ContactFilter narrows ListContacts results.
type ContactFilter struct {
	Phone PhoneFilter
}

// ContactStore persists contact records.
type ContactStore interface {
	// PutContact inserts the contact or replaces the record with the same ID.
	PutContact(ctx context.Context, contact Contact) error
	GetContact(ctx context.Context, contactID string) (Contact, error)
	// FindContactByName returns the earliest stored contact with name.
	FindContactByName(ctx context.Context, name string) (Contact, error)
	ListContacts(ctx context.Context, filter ContactFilter) ([]Contact, error)
	CountContacts(ctx context.Context) (int, error)
}

// IdentityStore persists identities. Reads return the identity with its
// friend list hydrated in append order.
type IdentityStore interface {
	// PutIdentity inserts the identity or replaces the record with the same
	// ID, including its friend list.
	PutIdentity(ctx context.Context, identity Identity) error
	GetIdentity(ctx context.Context, identityID string) (Identity, error)
	GetIdentityByUsername(ctx context.Context, username string) (Identity, error)
}

// Store is the full record store consumed by the phonebook service.
type Store interface {
	ContactStore
	IdentityStore
}
