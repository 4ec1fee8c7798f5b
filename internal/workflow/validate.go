package workflow

import (
	"fmt"
	"strings"

	"github.com/tjkivinen/crmflow/internal/intent"
)

// requiredFields lists what each executable intent must carry before a
// plan can be derived.
var requiredFields = map[intent.Intent][]string{
	intent.CreateContact:        {intent.FieldName, intent.FieldEmail},
	intent.CreateDeal:           {intent.FieldAmount},
	intent.CreateContactAndDeal: {intent.FieldName, intent.FieldEmail, intent.FieldAmount},
}

// plans maps each executable intent onto its ordered action list.
var plans = map[intent.Intent]Plan{
	intent.CreateContact:        {ActionCreateContact},
	intent.CreateDeal:           {ActionCreateDeal},
	intent.CreateContactAndDeal: {ActionCreateContact, ActionCreateDeal, ActionAssociateDealContact},
}

// Validate checks a resolution against the per-intent requirements and
// derives the action plan. It is pure: same inputs, same outputs, no I/O,
// no mutation of fields.
func Validate(in intent.Intent, fields intent.Fields) (Plan, *ValidationError) {
	required, ok := requiredFields[in]
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("intent %q cannot be executed", in)}
	}

	var missing []string
	for _, key := range required {
		if !fields.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{MissingFields: missing}
	}

	var problems []string
	for _, key := range required {
		switch key {
		case intent.FieldEmail:
			if !validEmail(fields.Get(intent.FieldEmail)) {
				problems = append(problems, fmt.Sprintf("email %q is malformed", fields.Get(intent.FieldEmail)))
			}
		case intent.FieldAmount:
			amount, err := fields.Amount()
			if err != nil {
				problems = append(problems, err.Error())
			} else if amount <= 0 {
				problems = append(problems, fmt.Sprintf("amount must be positive, got %v", amount))
			}
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Reason: strings.Join(problems, "; ")}
	}

	plan := make(Plan, len(plans[in]))
	copy(plan, plans[in])
	return plan, nil
}

// validEmail accepts the basic local@domain shape without attempting full
// address grammar.
func validEmail(email string) bool {
	if strings.ContainsAny(email, " \t\n") {
		return false
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return false
	}
	return !strings.Contains(domain, "@")
}
