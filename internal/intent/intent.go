// Package intent turns free-form CRM requests into a structured intent and
// field set using a hosted language model provider.
package intent

import (
	"fmt"
	"strconv"
	"strings"
)

// Intent classifies what a request asks the CRM to do.
type Intent string

const (
	CreateContact        Intent = "create_contact"
	CreateDeal           Intent = "create_deal"
	CreateContactAndDeal Intent = "create_contact_and_deal"
	Unknown              Intent = "unknown"
)

// Valid reports whether the value is one of the recognized intents.
func (i Intent) Valid() bool {
	switch i {
	case CreateContact, CreateDeal, CreateContactAndDeal, Unknown:
		return true
	}
	return false
}

// Label returns a human-readable form for messages ("create contact").
func (i Intent) Label() string {
	return strings.ReplaceAll(string(i), "_", " ")
}

// Canonical field keys produced by resolution. The model provider is
// prompted to emit exactly these names.
const (
	FieldName      = "name"
	FieldEmail     = "email"
	FieldCompany   = "company"
	FieldPhone     = "phone"
	FieldAmount    = "amount"
	FieldCloseDate = "close_date"
)

// Fields holds the entities extracted from a request, keyed by the
// canonical field names.
type Fields map[string]string

// Get returns the trimmed value for a key, or "" when absent.
func (f Fields) Get(key string) string {
	return strings.TrimSpace(f[key])
}

// Has reports whether the key holds a non-blank value.
func (f Fields) Has(key string) bool {
	return f.Get(key) != ""
}

// amountCleaner strips the punctuation people type into monetary values.
var amountCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// Amount parses the amount field into a number. Values arrive the way the
// request wrote them ("$15,000", "1 200.50") and are normalized first.
func (f Fields) Amount() (float64, error) {
	raw := f.Get(FieldAmount)
	if raw == "" {
		return 0, fmt.Errorf("amount field is empty")
	}

	value, err := strconv.ParseFloat(amountCleaner.Replace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not numeric", raw)
	}
	return value, nil
}

// Resolution is the structured reading of one request.
type Resolution struct {
	Intent Intent
	Fields Fields
}
