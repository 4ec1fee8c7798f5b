package crm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// InMemoryClient is a CRM backend backed by process memory. It mirrors the
// find-or-create semantics of the hosted provider and serves the offline
// demo and tests that need a working backend without a network.
type InMemoryClient struct {
	mu           sync.Mutex
	nextID       int
	contacts     map[string]string // lowercased email -> contact ID
	deals        map[string]DealFields
	associations map[string][]string // deal ID -> associated contact IDs
}

// NewInMemoryClient returns an empty in-memory CRM backend.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		contacts:     make(map[string]string),
		deals:        make(map[string]DealFields),
		associations: make(map[string][]string),
	}
}

// FindOrCreateContact returns the contact already registered under the
// email, creating one when absent. Lookup is case-insensitive.
func (c *InMemoryClient) FindOrCreateContact(ctx context.Context, fields ContactFields) (ContactRef, error) {
	if err := ctx.Err(); err != nil {
		return ContactRef{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(fields.Email))
	if id, ok := c.contacts[key]; ok {
		return ContactRef{ID: id, Existed: true}, nil
	}

	id := c.allocID("contact")
	c.contacts[key] = id
	return ContactRef{ID: id}, nil
}

// CreateDeal registers a new deal and returns its reference.
func (c *InMemoryClient) CreateDeal(ctx context.Context, fields DealFields) (DealRef, error) {
	if err := ctx.Err(); err != nil {
		return DealRef{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.allocID("deal")
	c.deals[id] = fields
	return DealRef{ID: id}, nil
}

// AssociateDealToContact links a deal to a contact. Both records must
// already exist in this backend.
func (c *InMemoryClient) AssociateDealToContact(ctx context.Context, dealID, contactID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.deals[dealID]; !ok {
		return &ProviderError{
			Status:   http.StatusNotFound,
			Category: "OBJECT_NOT_FOUND",
			Message:  fmt.Sprintf("deal %s does not exist", dealID),
		}
	}
	if !c.hasContactID(contactID) {
		return &ProviderError{
			Status:   http.StatusNotFound,
			Category: "OBJECT_NOT_FOUND",
			Message:  fmt.Sprintf("contact %s does not exist", contactID),
		}
	}

	c.associations[dealID] = append(c.associations[dealID], contactID)
	return nil
}

// ContactID returns the ID registered for an email, if any.
func (c *InMemoryClient) ContactID(email string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.contacts[strings.ToLower(strings.TrimSpace(email))]
	return id, ok
}

// Deal returns the stored fields for a deal ID, if any.
func (c *InMemoryClient) Deal(id string) (DealFields, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ok := c.deals[id]
	return fields, ok
}

// Associations returns the contact IDs linked to a deal.
func (c *InMemoryClient) Associations(dealID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.associations[dealID]))
	copy(out, c.associations[dealID])
	return out
}

func (c *InMemoryClient) hasContactID(id string) bool {
	for _, existing := range c.contacts {
		if existing == id {
			return true
		}
	}
	return false
}

func (c *InMemoryClient) allocID(kind string) string {
	c.nextID++
	return fmt.Sprintf("%s-%d", kind, c.nextID)
}
