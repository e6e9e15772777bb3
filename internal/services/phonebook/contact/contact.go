// Package contact validates and builds phonebook contact records.
package contact

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/phonebook/internal/platform/id"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
	"golang.org/x/text/unicode/norm"
)

const (
	maxNameLength    = 64
	maxPhoneLength   = 32
	maxAddressLength = 128
)

// CreateInput describes a contact as submitted by a caller.
type CreateInput struct {
	Name   string
	Phone  *string
	Street string
	City   string
}

// Create builds a new contact record from validated input.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (storage.Contact, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return storage.Contact{}, err
	}

	contactID, err := idGenerator()
	if err != nil {
		return storage.Contact{}, fmt.Errorf("generate contact id: %w", err)
	}

	createdAt := now().UTC()
	return storage.Contact{
		ID:    contactID,
		Name:  normalized.Name,
		Phone: normalized.Phone,
		Location: storage.Location{
			Street: normalized.Street,
			City:   normalized.City,
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// NormalizeCreateInput trims input and enforces field limits. A blank phone
// becomes absent.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	name, err := NormalizeName(input.Name)
	if err != nil {
		return CreateInput{}, err
	}
	input.Name = name

	if input.Phone != nil {
		phone := strings.TrimSpace(*input.Phone)
		if phone == "" {
			input.Phone = nil
		} else {
			if err := validatePhone(phone); err != nil {
				return CreateInput{}, err
			}
			input.Phone = &phone
		}
	}

	input.Street, err = normalizeAddressPart("street", input.Street)
	if err != nil {
		return CreateInput{}, err
	}
	input.City, err = normalizeAddressPart("city", input.City)
	if err != nil {
		return CreateInput{}, err
	}
	return input, nil
}

// NormalizeName returns the NFC form of a trimmed contact name.
func NormalizeName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("name must be at most %d characters", maxNameLength)
	}
	return name, nil
}

// NormalizePhone trims a replacement phone number. Unlike creation, an
// update must carry a value.
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("phone is required")
	}
	if err := validatePhone(phone); err != nil {
		return "", err
	}
	return phone, nil
}

func validatePhone(phone string) error {
	if utf8.RuneCountInString(phone) > maxPhoneLength {
		return fmt.Errorf("phone must be at most %d characters", maxPhoneLength)
	}
	return nil
}

func normalizeAddressPart(field, value string) (string, error) {
	value = norm.NFC.String(strings.TrimSpace(value))
	if value == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(value) > maxAddressLength {
		return "", fmt.Errorf("%s must be at most %d characters", field, maxAddressLength)
	}
	return value, nil
}
