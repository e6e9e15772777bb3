// Package directory implements the phonebook operations: contact and
// identity queries, authenticated mutations, and the contact-added feed.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/phonebook/internal/platform/errors"
	"github.com/louisbranch/phonebook/internal/platform/id"
	"github.com/louisbranch/phonebook/internal/services/phonebook/contact"
	"github.com/louisbranch/phonebook/internal/services/phonebook/eventbus"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
	"github.com/louisbranch/phonebook/internal/services/phonebook/username"
)

// TopicContactAdded carries every newly created contact.
const TopicContactAdded = "CONTACT_ADDED"

const tracerName = "github.com/louisbranch/phonebook/internal/services/phonebook/directory"

// Store is the record store the service reads and writes.
type Store interface {
	storage.ContactStore
	storage.IdentityStore
}

// Authenticator issues tokens and checks login credentials.
type Authenticator interface {
	IssueToken(identity storage.Identity) (string, error)
	CheckCredential(password string) bool
}

// ContactEvents fans contact events out to subscribers.
type ContactEvents interface {
	Publish(topic string, event storage.Contact) int
	Subscribe(topic string) (*eventbus.Subscription[storage.Contact], error)
}

// Token is a signed bearer credential returned by Login.
type Token struct {
	Value string
}

// Service runs phonebook operations on behalf of a viewer. A nil viewer is
// an anonymous caller.
type Service struct {
	store       Store
	auth        Authenticator
	events      ContactEvents
	clock       func() time.Time
	idGenerator func() (string, error)
	tracer      trace.Tracer
}

// NewService creates a directory service over store, auth, and events.
func NewService(store Store, auth Authenticator, events ContactEvents) *Service {
	return &Service{
		store:       store,
		auth:        auth,
		events:      events,
		clock:       time.Now,
		idGenerator: id.NewID,
		tracer:      otel.Tracer(tracerName),
	}
}

// CountContacts returns the number of stored contacts.
func (s *Service) CountContacts(ctx context.Context) (count int, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.CountContacts")
	defer func() { finishSpan(span, err) }()

	count, err = s.store.CountContacts(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "count contacts", err)
	}
	return count, nil
}

// ListContacts returns every contact matching filter in insertion order.
func (s *Service) ListContacts(ctx context.Context, filter storage.PhoneFilter) (contacts []storage.Contact, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.ListContacts")
	defer func() { finishSpan(span, err) }()

	contacts, err = s.store.ListContacts(ctx, storage.ContactFilter{Phone: filter})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list contacts", err)
	}
	return contacts, nil
}

// FindContact returns the first contact named name, or nil when none match.
func (s *Service) FindContact(ctx context.Context, name string) (found *storage.Contact, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.FindContact")
	defer func() { finishSpan(span, err) }()

	return s.findByName(ctx, name)
}

// CurrentIdentity returns the viewer, or nil for anonymous callers.
func (s *Service) CurrentIdentity(viewer *storage.Identity) *storage.Identity {
	return viewer
}

// CreateContact stores a new contact, appends it to the viewer's friends,
// and announces it on TopicContactAdded. The contact stays stored when the
// friend list update fails; nothing is published in that case.
func (s *Service) CreateContact(ctx context.Context, viewer *storage.Identity, input contact.CreateInput) (created *storage.Contact, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.CreateContact")
	defer func() { finishSpan(span, err) }()

	if viewer == nil {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "not authenticated")
	}
	span.SetAttributes(attribute.String("phonebook.identity_id", viewer.ID))
	args := createContactArgs(input)

	normalized, err := contact.NormalizeCreateInput(input)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, "saving contact failed", args, err)
	}
	record, err := contact.Create(normalized, s.clock, s.idGenerator)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "create contact", err)
	}
	if err := s.store.PutContact(ctx, record); err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, "saving contact failed", args, err)
	}

	identity, err := s.store.GetIdentity(ctx, viewer.ID)
	if err != nil {
		log.Printf("phonebook: contact %s stored without friend link: load identity %s: %v", record.ID, viewer.ID, err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load identity", err)
	}
	identity.Friends = append(identity.Friends, record)
	identity.UpdatedAt = s.clock().UTC()
	if err := s.store.PutIdentity(ctx, identity); err != nil {
		log.Printf("phonebook: contact %s stored without friend link: save identity %s: %v", record.ID, viewer.ID, err)
		return nil, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, "saving contact failed", args, err)
	}

	s.events.Publish(TopicContactAdded, record)
	return &record, nil
}

// UpdatePhone replaces the phone of the first contact named name. It
// returns nil when no contact matches.
func (s *Service) UpdatePhone(ctx context.Context, name, phone string) (updated *storage.Contact, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.UpdatePhone")
	defer func() { finishSpan(span, err) }()

	args := map[string]string{"name": name, "phone": phone}
	existing, err := s.findByName(ctx, name)
	if err != nil || existing == nil {
		return nil, err
	}

	normalizedPhone, err := contact.NormalizePhone(phone)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, "saving number failed", args, err)
	}
	existing.Phone = &normalizedPhone
	existing.UpdatedAt = s.clock().UTC()
	if err := s.store.PutContact(ctx, *existing); err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, "saving number failed", args, err)
	}
	return existing, nil
}

// CreateIdentity registers a new identity with an empty friend list.
func (s *Service) CreateIdentity(ctx context.Context, name string) (created *storage.Identity, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.CreateIdentity")
	defer func() { finishSpan(span, err) }()

	args := map[string]string{"username": name}
	canonical, err := username.Canonicalize(name)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, "creating the user failed", args, err)
	}
	identityID, err := s.idGenerator()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "generate identity id", err)
	}
	now := s.clock().UTC()
	identity := storage.Identity{
		ID:        identityID,
		Username:  canonical,
		Friends:   []storage.Contact{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutIdentity(ctx, identity); err != nil {
		message := "creating the user failed"
		if errors.Is(err, storage.ErrAlreadyExists) {
			message = "username is already taken"
		}
		return nil, apperrors.WrapWithMetadata(apperrors.CodeValidationFailed, message, args, err)
	}
	return &identity, nil
}

// Login exchanges a username and password for a signed token.
func (s *Service) Login(ctx context.Context, name, password string) (token Token, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.Login")
	defer func() { finishSpan(span, err) }()

	canonical, err := username.Canonicalize(name)
	if err != nil {
		return Token{}, apperrors.New(apperrors.CodeInvalidCredentials, "wrong credentials")
	}
	identity, err := s.store.GetIdentityByUsername(ctx, canonical)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Token{}, apperrors.New(apperrors.CodeInvalidCredentials, "wrong credentials")
		}
		return Token{}, apperrors.Wrap(apperrors.CodeInternal, "load identity", err)
	}
	if !s.auth.CheckCredential(password) {
		return Token{}, apperrors.New(apperrors.CodeInvalidCredentials, "wrong credentials")
	}
	value, err := s.auth.IssueToken(identity)
	if err != nil {
		return Token{}, apperrors.Wrap(apperrors.CodeInternal, "issue token", err)
	}
	return Token{Value: value}, nil
}

// AddContactAsFriend appends the first contact named name to the viewer's
// friends. An unknown name leaves the viewer unchanged without an error,
// and a contact already in the list is not added twice.
func (s *Service) AddContactAsFriend(ctx context.Context, viewer *storage.Identity, name string) (updated *storage.Identity, err error) {
	ctx, span := s.tracer.Start(ctx, "directory.AddContactAsFriend")
	defer func() { finishSpan(span, err) }()

	if viewer == nil {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "not authenticated")
	}
	span.SetAttributes(attribute.String("phonebook.identity_id", viewer.ID))

	friend, err := s.findByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if friend == nil {
		return viewer, nil
	}

	identity, err := s.store.GetIdentity(ctx, viewer.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load identity", err)
	}
	if identity.HasFriend(friend.ID) {
		return &identity, nil
	}
	identity.Friends = append(identity.Friends, *friend)
	identity.UpdatedAt = s.clock().UTC()
	if err := s.store.PutIdentity(ctx, identity); err != nil {
		return nil, apperrors.WrapWithMetadata(
			apperrors.CodeValidationFailed,
			"saving friend failed",
			map[string]string{"name": name},
			err,
		)
	}
	return &identity, nil
}

// OnContactAdded subscribes to newly created contacts. Callers must close
// the subscription when done.
func (s *Service) OnContactAdded() (*eventbus.Subscription[storage.Contact], error) {
	sub, err := s.events.Subscribe(TopicContactAdded)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "subscribe to contact events", err)
	}
	return sub, nil
}

func (s *Service) findByName(ctx context.Context, name string) (*storage.Contact, error) {
	normalized, err := contact.NormalizeName(name)
	if err != nil {
		return nil, nil
	}
	found, err := s.store.FindContactByName(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, fmt.Sprintf("find contact %q", normalized), err)
	}
	return &found, nil
}

func createContactArgs(input contact.CreateInput) map[string]string {
	args := map[string]string{
		"name":   input.Name,
		"street": input.Street,
		"city":   input.City,
	}
	if input.Phone != nil {
		args["phone"] = *input.Phone
	}
	return args
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
