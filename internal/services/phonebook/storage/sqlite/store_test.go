package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "phonebook.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	if err := first.PutContact(context.Background(), testContact("c-1", "Arto Hellas", nil)); err != nil {
		t.Fatalf("put contact: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	count, err := second.CountContacts(context.Background())
	if err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestPutGetContactRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	phone := "040-123543"
	input := testContact("c-1", "Arto Hellas", &phone)
	if err := store.PutContact(context.Background(), input); err != nil {
		t.Fatalf("put contact: %v", err)
	}

	got, err := store.GetContact(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if got.Name != input.Name {
		t.Fatalf("name = %q, want %q", got.Name, input.Name)
	}
	if got.Phone == nil || *got.Phone != phone {
		t.Fatalf("phone = %v, want %q", got.Phone, phone)
	}
	if got.Location != input.Location {
		t.Fatalf("location = %+v, want %+v", got.Location, input.Location)
	}
	if !got.CreatedAt.Equal(input.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, input.CreatedAt)
	}
}

func TestGetContactNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.GetContact(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing contact error = %v, want %v", err, storage.ErrNotFound)
	}
	if _, err := store.FindContactByName(context.Background(), "Nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("find missing contact error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestPutContactRejectsMissingFields(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	tests := []struct {
		name   string
		mutate func(*storage.Contact)
	}{
		{name: "id", mutate: func(c *storage.Contact) { c.ID = "" }},
		{name: "name", mutate: func(c *storage.Contact) { c.Name = " " }},
		{name: "street", mutate: func(c *storage.Contact) { c.Location.Street = "" }},
		{name: "city", mutate: func(c *storage.Contact) { c.Location.City = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			contact := testContact("c-invalid", "Invalid", nil)
			tc.mutate(&contact)
			err := store.PutContact(context.Background(), contact)
			if !errors.Is(err, storage.ErrInvalidRecord) {
				t.Fatalf("put contact error = %v, want %v", err, storage.ErrInvalidRecord)
			}
		})
	}
}

func TestPutContactUpdateKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	first := testContact("c-1", "Bob", nil)
	second := testContact("c-2", "Bob", nil)
	for _, contact := range []storage.Contact{first, second} {
		if err := store.PutContact(ctx, contact); err != nil {
			t.Fatalf("put contact %s: %v", contact.ID, err)
		}
	}

	phone := "555-0100"
	first.Phone = &phone
	if err := store.PutContact(ctx, first); err != nil {
		t.Fatalf("update contact: %v", err)
	}

	got, err := store.FindContactByName(ctx, "Bob")
	if err != nil {
		t.Fatalf("find contact: %v", err)
	}
	if got.ID != "c-1" {
		t.Fatalf("first match id = %q, want %q", got.ID, "c-1")
	}
	if got.Phone == nil || *got.Phone != phone {
		t.Fatalf("phone = %v, want %q", got.Phone, phone)
	}
	count, err := store.CountContacts(ctx)
	if err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestListContactsFiltersByPhone(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	phone := "040-123543"
	contacts := []storage.Contact{
		testContact("c-1", "Arto Hellas", &phone),
		testContact("c-2", "Matti Luukkainen", nil),
		testContact("c-3", "Venla Ruuska", &phone),
	}
	for _, contact := range contacts {
		if err := store.PutContact(ctx, contact); err != nil {
			t.Fatalf("put contact %s: %v", contact.ID, err)
		}
	}

	tests := []struct {
		filter storage.PhoneFilter
		want   []string
	}{
		{filter: storage.PhoneAny, want: []string{"c-1", "c-2", "c-3"}},
		{filter: storage.PhoneHas, want: []string{"c-1", "c-3"}},
		{filter: storage.PhoneNone, want: []string{"c-2"}},
	}
	for _, tc := range tests {
		got, err := store.ListContacts(ctx, storage.ContactFilter{Phone: tc.filter})
		if err != nil {
			t.Fatalf("list contacts (%d): %v", tc.filter, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("list contacts (%d) len = %d, want %d", tc.filter, len(got), len(tc.want))
		}
		for i, id := range tc.want {
			if got[i].ID != id {
				t.Fatalf("list contacts (%d)[%d] = %q, want %q", tc.filter, i, got[i].ID, id)
			}
		}
	}
}

func TestListContactsEmptyStore(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	got, err := store.ListContacts(context.Background(), storage.ContactFilter{})
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("list contacts = %v, want empty slice", got)
	}
}

func TestPutIdentityHydratesFriendsInOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	bob := testContact("c-bob", "Bob", nil)
	carol := testContact("c-carol", "Carol", nil)
	for _, contact := range []storage.Contact{bob, carol} {
		if err := store.PutContact(ctx, contact); err != nil {
			t.Fatalf("put contact %s: %v", contact.ID, err)
		}
	}

	identity := storage.Identity{ID: "i-1", Username: "alice"}
	if err := store.PutIdentity(ctx, identity); err != nil {
		t.Fatalf("put identity: %v", err)
	}
	identity.Friends = []storage.Contact{carol, bob}
	if err := store.PutIdentity(ctx, identity); err != nil {
		t.Fatalf("put identity with friends: %v", err)
	}

	byID, err := store.GetIdentity(ctx, "i-1")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	byUsername, err := store.GetIdentityByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get identity by username: %v", err)
	}
	for _, got := range []storage.Identity{byID, byUsername} {
		if got.Username != "alice" {
			t.Fatalf("username = %q, want %q", got.Username, "alice")
		}
		if len(got.Friends) != 2 {
			t.Fatalf("friends len = %d, want 2", len(got.Friends))
		}
		if got.Friends[0].ID != "c-carol" || got.Friends[1].ID != "c-bob" {
			t.Fatalf("friends = [%s %s], want [c-carol c-bob]", got.Friends[0].ID, got.Friends[1].ID)
		}
		if got.Friends[1].Location.City != bob.Location.City {
			t.Fatalf("friend city = %q, want %q", got.Friends[1].Location.City, bob.Location.City)
		}
	}
}

func TestPutIdentityRejectsDuplicateUsername(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.PutIdentity(ctx, storage.Identity{ID: "i-1", Username: "alice"}); err != nil {
		t.Fatalf("put identity: %v", err)
	}
	err := store.PutIdentity(ctx, storage.Identity{ID: "i-2", Username: "alice"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate username error = %v, want %v", err, storage.ErrAlreadyExists)
	}
}

func TestPutIdentityRejectsDuplicateFriend(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	bob := testContact("c-bob", "Bob", nil)
	if err := store.PutContact(ctx, bob); err != nil {
		t.Fatalf("put contact: %v", err)
	}
	err := store.PutIdentity(ctx, storage.Identity{
		ID:       "i-1",
		Username: "alice",
		Friends:  []storage.Contact{bob, bob},
	})
	if !errors.Is(err, storage.ErrInvalidRecord) {
		t.Fatalf("duplicate friend error = %v, want %v", err, storage.ErrInvalidRecord)
	}
	if _, err := store.GetIdentity(ctx, "i-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("identity after rollback error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestPutIdentityRejectsMissingFields(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.PutIdentity(ctx, storage.Identity{Username: "alice"}); !errors.Is(err, storage.ErrInvalidRecord) {
		t.Fatalf("missing id error = %v, want %v", err, storage.ErrInvalidRecord)
	}
	if err := store.PutIdentity(ctx, storage.Identity{ID: "i-1"}); !errors.Is(err, storage.ErrInvalidRecord) {
		t.Fatalf("missing username error = %v, want %v", err, storage.ErrInvalidRecord)
	}
}

func TestGetIdentityNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.GetIdentity(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing identity error = %v, want %v", err, storage.ErrNotFound)
	}
	if _, err := store.GetIdentityByUsername(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing username error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.CountContacts(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("count contacts error = %v, want %v", err, context.Canceled)
	}
}

func TestNilStoreIsNotConfigured(t *testing.T) {
	t.Parallel()

	var store *Store
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
	if _, err := store.CountContacts(context.Background()); err == nil {
		t.Fatal("expected unconfigured store error")
	}
}

func testContact(id, name string, phone *string) storage.Contact {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	return storage.Contact{
		ID:        id,
		Name:      name,
		Phone:     phone,
		Location:  storage.Location{Street: "Tapiolankatu 5 A", City: "Espoo"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "phonebook.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
