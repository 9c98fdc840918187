// Package content serves the extended contact card that a capability ticket
// unlocks. Contacts are owned by the profile content layer; this package only
// reads them.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var ErrContactNotFound = errors.New("contact not found")

type Contact struct {
	ProfileID    string
	FullName     string
	Email        string
	Phone        string
	Organization string
	JobTitle     string
	Website      string
	Address      string
	Note         string
}

type Source interface {
	Contact(ctx context.Context, profileID string) (Contact, error)
}

type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Contact(ctx context.Context, profileID string) (Contact, error) {
	c := Contact{ProfileID: profileID}
	err := s.db.QueryRowContext(ctx, `
		SELECT full_name, email, phone, organization, job_title, website, address, note
		FROM profile_contacts
		WHERE profile_id = $1
	`, profileID).Scan(&c.FullName, &c.Email, &c.Phone, &c.Organization, &c.JobTitle, &c.Website, &c.Address, &c.Note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, fmt.Errorf("query profile contact: %w", err)
	}

	return c, nil
}

type MemorySource struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewMemorySource() *MemorySource {
	return &MemorySource{contacts: make(map[string]Contact)}
}

func (s *MemorySource) Put(c Contact) {
	s.mu.Lock()
	s.contacts[c.ProfileID] = c
	s.mu.Unlock()
}

func (s *MemorySource) Contact(_ context.Context, profileID string) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[profileID]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	return c, nil
}
