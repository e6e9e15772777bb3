package directory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
)

// fakeStore keeps records in insertion order and can be told to fail.
type fakeStore struct {
	mu         sync.Mutex
	contacts   []storage.Contact
	identities []storage.Identity

	readErr        error
	putContactErr  error
	putIdentityErr error
	putContacts    int
	putIdentities  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) PutContact(_ context.Context, contact storage.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putContacts++
	if f.putContactErr != nil {
		return f.putContactErr
	}
	for i, existing := range f.contacts {
		if existing.ID == contact.ID {
			f.contacts[i] = contact
			return nil
		}
	}
	f.contacts = append(f.contacts, contact)
	return nil
}

func (f *fakeStore) GetContact(_ context.Context, contactID string) (storage.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return storage.Contact{}, f.readErr
	}
	for _, contact := range f.contacts {
		if contact.ID == contactID {
			return contact, nil
		}
	}
	return storage.Contact{}, storage.ErrNotFound
}

func (f *fakeStore) FindContactByName(_ context.Context, name string) (storage.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return storage.Contact{}, f.readErr
	}
	for _, contact := range f.contacts {
		if contact.Name == name {
			return contact, nil
		}
	}
	return storage.Contact{}, storage.ErrNotFound
}

func (f *fakeStore) ListContacts(_ context.Context, filter storage.ContactFilter) ([]storage.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	contacts := make([]storage.Contact, 0, len(f.contacts))
	for _, contact := range f.contacts {
		switch filter.Phone {
		case storage.PhoneHas:
			if !contact.HasPhone() {
				continue
			}
		case storage.PhoneNone:
			if contact.HasPhone() {
				continue
			}
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

func (f *fakeStore) CountContacts(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return len(f.contacts), nil
}

func (f *fakeStore) PutIdentity(_ context.Context, identity storage.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putIdentities++
	if f.putIdentityErr != nil {
		return f.putIdentityErr
	}
	if identity.ID == "" || identity.Username == "" {
		return storage.ErrInvalidRecord
	}
	identity.Friends = slices.Clone(identity.Friends)
	for i, existing := range f.identities {
		if existing.ID == identity.ID {
			f.identities[i] = identity
			return nil
		}
		if existing.Username == identity.Username {
			return storage.ErrAlreadyExists
		}
	}
	f.identities = append(f.identities, identity)
	return nil
}

func (f *fakeStore) GetIdentity(_ context.Context, identityID string) (storage.Identity, error) {
	return f.getIdentity(func(identity storage.Identity) bool { return identity.ID == identityID })
}

func (f *fakeStore) GetIdentityByUsername(_ context.Context, username string) (storage.Identity, error) {
	return f.getIdentity(func(identity storage.Identity) bool { return identity.Username == username })
}

func (f *fakeStore) getIdentity(match func(storage.Identity) bool) (storage.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return storage.Identity{}, f.readErr
	}
	for _, identity := range f.identities {
		if match(identity) {
			identity.Friends = slices.Clone(identity.Friends)
			if identity.Friends == nil {
				identity.Friends = []storage.Contact{}
			}
			return identity, nil
		}
	}
	return storage.Identity{}, storage.ErrNotFound
}

func (f *fakeStore) contactCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contacts)
}

type fakeAuth struct {
	password string
	issueErr error
	issued   []string
}

func (f *fakeAuth) IssueToken(identity storage.Identity) (string, error) {
	if f.issueErr != nil {
		return "", f.issueErr
	}
	f.issued = append(f.issued, identity.ID)
	return "token-for-" + identity.ID, nil
}

func (f *fakeAuth) CheckCredential(password string) bool {
	return password == f.password
}

var errDiskFull = errors.New("disk full")
