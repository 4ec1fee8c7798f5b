// Package crm defines the provider-neutral types exchanged with CRM
// backends: contact and deal payloads, references to created records, and
// the structured error surface providers report failures through.
package crm

import "fmt"

// ContactFields carries the contact properties a backend accepts on
// creation. Email is the identity key; the rest is optional.
type ContactFields struct {
	Name    string
	Email   string
	Phone   string
	Company string
}

// DealFields carries the deal properties a backend accepts on creation.
// CloseDate, when set, is an ISO 8601 date string.
type DealFields struct {
	Name      string
	Amount    float64
	Stage     string
	CloseDate string
}

// ContactRef identifies a contact record in the backend. Existed reports
// whether the record predated the call that returned it.
type ContactRef struct {
	ID      string
	Existed bool
}

// DealRef identifies a deal record in the backend.
type DealRef struct {
	ID string
}

// ProviderError is a non-2xx answer from a CRM provider. Status carries
// the HTTP status code, Category the provider's machine-readable error
// class, and Message the human-readable detail from the response body.
type ProviderError struct {
	Status   int
	Category string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("crm provider returned %d (%s): %s", e.Status, e.Category, e.Message)
	}
	return fmt.Sprintf("crm provider returned %d: %s", e.Status, e.Message)
}
