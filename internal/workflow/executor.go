package workflow

import (
	"context"
	"fmt"

	"github.com/tjkivinen/crmflow/internal/crm"
	"github.com/tjkivinen/crmflow/internal/intent"
)

// executeAction runs one plan step, retrying transient failures per the
// engine policy. Failures come back inside the result, never as an error,
// so the plan can continue past them.
func (e *Engine) executeAction(ctx context.Context, run *Run, action Action) ActionResult {
	result := ActionResult{Action: action}

	var call func(context.Context) (string, error)
	switch action {
	case ActionCreateContact:
		fields := contactFieldsFrom(run.Fields)
		call = func(ctx context.Context) (string, error) {
			ref, err := e.crm.FindOrCreateContact(ctx, fields)
			return ref.ID, err
		}
	case ActionCreateDeal:
		fields := dealFieldsFrom(run.Fields)
		call = func(ctx context.Context) (string, error) {
			ref, err := e.crm.CreateDeal(ctx, fields)
			return ref.ID, err
		}
	case ActionAssociateDealContact:
		// Association needs both prior creates. When either is missing the
		// dependency failure is recorded without touching the CRM.
		contactID, dealID, ok := priorCreateIDs(run.Results)
		if !ok {
			result.Err = NewError(KindDependency, string(action),
				fmt.Errorf("contact and deal must both exist before association"))
			return result
		}
		call = func(ctx context.Context) (string, error) {
			return "", e.crm.AssociateDealToContact(ctx, dealID, contactID)
		}
	default:
		result.Err = NewError(KindValidationRejected, string(action),
			fmt.Errorf("unsupported action %q", action))
		return result
	}

	var externalID string
	attempts, err := e.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		id, callErr := call(callCtx)
		if callErr != nil {
			return classifyCRMError(string(action), callErr)
		}
		externalID = id
		return nil
	})

	result.Attempts = attempts
	if err != nil {
		result.Err = classifyCRMError(string(action), err)
		return result
	}

	result.Success = true
	result.ExternalID = externalID
	return result
}

// priorCreateIDs pulls the contact and deal IDs from earlier successful
// results in this run.
func priorCreateIDs(results []ActionResult) (contactID, dealID string, ok bool) {
	for _, res := range results {
		if !res.Success {
			continue
		}
		switch res.Action {
		case ActionCreateContact:
			contactID = res.ExternalID
		case ActionCreateDeal:
			dealID = res.ExternalID
		}
	}
	return contactID, dealID, contactID != "" && dealID != ""
}

// contactFieldsFrom maps resolved fields onto a contact payload.
func contactFieldsFrom(fields intent.Fields) crm.ContactFields {
	return crm.ContactFields{
		Name:    fields.Get(intent.FieldName),
		Email:   fields.Get(intent.FieldEmail),
		Phone:   fields.Get(intent.FieldPhone),
		Company: fields.Get(intent.FieldCompany),
	}
}

// dealFieldsFrom maps resolved fields onto a deal payload. Validation has
// already proven the amount parses.
func dealFieldsFrom(fields intent.Fields) crm.DealFields {
	amount, _ := fields.Amount()
	return crm.DealFields{
		Name:      deriveDealName(fields),
		Amount:    amount,
		CloseDate: fields.Get(intent.FieldCloseDate),
	}
}

// deriveDealName labels the deal from whoever the request mentioned.
func deriveDealName(fields intent.Fields) string {
	name := fields.Get(intent.FieldName)
	company := fields.Get(intent.FieldCompany)
	switch {
	case name != "" && company != "":
		return fmt.Sprintf("Deal with %s from %s", name, company)
	case name != "":
		return fmt.Sprintf("Deal with %s", name)
	case company != "":
		return fmt.Sprintf("Deal with %s", company)
	default:
		return "New Deal"
	}
}
