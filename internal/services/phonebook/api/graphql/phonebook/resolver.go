package phonebook

import (
	"context"
	"fmt"

	"github.com/graph-gophers/graphql-go"

	apperrors "github.com/louisbranch/phonebook/internal/platform/errors"
	"github.com/louisbranch/phonebook/internal/services/phonebook/contact"
	"github.com/louisbranch/phonebook/internal/services/phonebook/directory"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
)

// Resolver is the root resolver for queries, mutations, and subscriptions.
type Resolver struct {
	directory *directory.Service
}

// NewResolver creates a root resolver over svc.
func NewResolver(svc *directory.Service) *Resolver {
	return &Resolver{directory: svc}
}

// ContactCount resolves Query.contactCount.
func (r *Resolver) ContactCount(ctx context.Context) (int32, error) {
	count, err := r.directory.CountContacts(ctx)
	if err != nil {
		return 0, err
	}
	return int32(count), nil
}

// AllContacts resolves Query.allContacts.
func (r *Resolver) AllContacts(ctx context.Context, args struct{ Phone *string }) ([]*contactResolver, error) {
	filter, err := parsePhoneFilter(args.Phone)
	if err != nil {
		return nil, err
	}
	contacts, err := r.directory.ListContacts(ctx, filter)
	if err != nil {
		return nil, err
	}
	resolved := make([]*contactResolver, 0, len(contacts))
	for _, record := range contacts {
		resolved = append(resolved, &contactResolver{contact: record})
	}
	return resolved, nil
}

// FindContact resolves Query.findContact.
func (r *Resolver) FindContact(ctx context.Context, args struct{ Name string }) (*contactResolver, error) {
	found, err := r.directory.FindContact(ctx, args.Name)
	if err != nil || found == nil {
		return nil, err
	}
	return &contactResolver{contact: *found}, nil
}

// Me resolves Query.me.
func (r *Resolver) Me(ctx context.Context) *identityResolver {
	viewer := r.directory.CurrentIdentity(ViewerFromContext(ctx))
	if viewer == nil {
		return nil
	}
	return &identityResolver{identity: *viewer}
}

type createContactArgs struct {
	Name   string
	Phone  *string
	Street string
	City   string
}

// CreateContact resolves Mutation.createContact.
func (r *Resolver) CreateContact(ctx context.Context, args createContactArgs) (*contactResolver, error) {
	created, err := r.directory.CreateContact(ctx, ViewerFromContext(ctx), contact.CreateInput{
		Name:   args.Name,
		Phone:  args.Phone,
		Street: args.Street,
		City:   args.City,
	})
	if err != nil {
		return nil, err
	}
	return &contactResolver{contact: *created}, nil
}

// UpdatePhone resolves Mutation.updatePhone.
func (r *Resolver) UpdatePhone(ctx context.Context, args struct{ Name, Phone string }) (*contactResolver, error) {
	updated, err := r.directory.UpdatePhone(ctx, args.Name, args.Phone)
	if err != nil || updated == nil {
		return nil, err
	}
	return &contactResolver{contact: *updated}, nil
}

// CreateIdentity resolves Mutation.createIdentity.
func (r *Resolver) CreateIdentity(ctx context.Context, args struct{ Username string }) (*identityResolver, error) {
	created, err := r.directory.CreateIdentity(ctx, args.Username)
	if err != nil {
		return nil, err
	}
	return &identityResolver{identity: *created}, nil
}

// Login resolves Mutation.login.
func (r *Resolver) Login(ctx context.Context, args struct{ Username, Password string }) (*tokenResolver, error) {
	token, err := r.directory.Login(ctx, args.Username, args.Password)
	if err != nil {
		return nil, err
	}
	return &tokenResolver{token: token}, nil
}

// AddContactAsFriend resolves Mutation.addContactAsFriend.
func (r *Resolver) AddContactAsFriend(ctx context.Context, args struct{ Name string }) (*identityResolver, error) {
	updated, err := r.directory.AddContactAsFriend(ctx, ViewerFromContext(ctx), args.Name)
	if err != nil {
		return nil, err
	}
	return &identityResolver{identity: *updated}, nil
}

// ContactAdded resolves Subscription.contactAdded. The bus subscription is
// released when ctx ends.
func (r *Resolver) ContactAdded(ctx context.Context) (<-chan *contactResolver, error) {
	sub, err := r.directory.OnContactAdded()
	if err != nil {
		return nil, err
	}
	out := make(chan *contactResolver)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case record, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case out <- &contactResolver{contact: record}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func parsePhoneFilter(value *string) (storage.PhoneFilter, error) {
	if value == nil {
		return storage.PhoneAny, nil
	}
	switch *value {
	case "ANY":
		return storage.PhoneAny, nil
	case "HAS":
		return storage.PhoneHas, nil
	case "NONE":
		return storage.PhoneNone, nil
	default:
		return storage.PhoneAny, apperrors.WithMetadata(
			apperrors.CodeValidationFailed,
			fmt.Sprintf("unknown phone filter %q", *value),
			map[string]string{"phone": *value},
		)
	}
}

type contactResolver struct {
	contact storage.Contact
}

func (r *contactResolver) ID() graphql.ID {
	return graphql.ID(r.contact.ID)
}

func (r *contactResolver) Name() string {
	return r.contact.Name
}

func (r *contactResolver) Phone() *string {
	return r.contact.Phone
}

func (r *contactResolver) Location() *locationResolver {
	return &locationResolver{location: r.contact.Location}
}

type locationResolver struct {
	location storage.Location
}

func (r *locationResolver) Street() string {
	return r.location.Street
}

func (r *locationResolver) City() string {
	return r.location.City
}

type identityResolver struct {
	identity storage.Identity
}

func (r *identityResolver) ID() graphql.ID {
	return graphql.ID(r.identity.ID)
}

func (r *identityResolver) Username() string {
	return r.identity.Username
}

func (r *identityResolver) Friends() []*contactResolver {
	friends := make([]*contactResolver, 0, len(r.identity.Friends))
	for _, friend := range r.identity.Friends {
		friends = append(friends, &contactResolver{contact: friend})
	}
	return friends
}

type tokenResolver struct {
	token directory.Token
}

func (r *tokenResolver) Value() string {
	return r.token.Value
}
