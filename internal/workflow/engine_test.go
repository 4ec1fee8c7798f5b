package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tjkivinen/crmflow/internal/crm"
	"github.com/tjkivinen/crmflow/internal/intent"
)

// mockResolver implements Resolver for testing.
type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, text string) (intent.Resolution, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(intent.Resolution), args.Error(1)
}

// mockCRM implements CRMClient for testing.
type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) FindOrCreateContact(ctx context.Context, fields crm.ContactFields) (crm.ContactRef, error) {
	args := m.Called(ctx, fields)
	return args.Get(0).(crm.ContactRef), args.Error(1)
}

func (m *mockCRM) CreateDeal(ctx context.Context, fields crm.DealFields) (crm.DealRef, error) {
	args := m.Called(ctx, fields)
	return args.Get(0).(crm.DealRef), args.Error(1)
}

func (m *mockCRM) AssociateDealToContact(ctx context.Context, dealID, contactID string) error {
	args := m.Called(ctx, dealID, contactID)
	return args.Error(0)
}

// mockNotifier implements Notifier for testing.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, run *Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func newTestEngine(t *testing.T, resolver Resolver, crmClient CRMClient, notifier Notifier) *Engine {
	t.Helper()

	engine, err := NewEngine(resolver, crmClient, notifier, Options{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
		CallTimeout: time.Second,
	})
	require.NoError(t, err)
	return engine
}

func TestEngine_Run_CreateContact(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "Add John Doe (john@example.com) as a contact").Return(intent.Resolution{
		Intent: intent.CreateContact,
		Fields: intent.Fields{intent.FieldName: "John Doe", intent.FieldEmail: "john@example.com"},
	}, nil)

	crmClient := &mockCRM{}
	crmClient.On("FindOrCreateContact", mock.Anything, crm.ContactFields{Name: "John Doe", Email: "john@example.com"}).
		Return(crm.ContactRef{ID: "contact-1"}, nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		// The run already carries its terminal state when notified.
		notified := args.Get(1).(*Run)
		assert.Equal(t, StateNotifying, notified.State)
		assert.Equal(t, TerminalSucceeded, notified.Terminal)
	}).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "Add John Doe (john@example.com) as a contact")

	require.NoError(t, err)
	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, TerminalSucceeded, run.Terminal)
	assert.True(t, run.NotificationDelivered)
	assert.False(t, run.CompletedAt.IsZero())

	require.Len(t, run.Results, 1)
	assert.Equal(t, ActionCreateContact, run.Results[0].Action)
	assert.True(t, run.Results[0].Success)
	assert.Equal(t, "contact-1", run.Results[0].ExternalID)
	assert.Equal(t, 1, run.Results[0].Attempts)

	resolver.AssertExpectations(t)
	crmClient.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngine_Run_StandaloneDeal(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateDeal,
		Fields: intent.Fields{intent.FieldAmount: "$5,000"},
	}, nil)

	crmClient := &mockCRM{}
	crmClient.On("CreateDeal", mock.Anything, mock.MatchedBy(func(fields crm.DealFields) bool {
		return fields.Amount == 5000 && fields.Name == "New Deal"
	})).Return(crm.DealRef{ID: "deal-1"}, nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "Log a $5000 deal in the pipeline")

	require.NoError(t, err)
	assert.Equal(t, TerminalSucceeded, run.Terminal)
	assert.Equal(t, Plan{ActionCreateDeal}, run.Plan)
	require.Len(t, run.Results, 1)
	assert.Equal(t, "deal-1", run.Results[0].ExternalID)

	// A standalone deal never touches contacts.
	crmClient.AssertNotCalled(t, "FindOrCreateContact", mock.Anything, mock.Anything)
	crmClient.AssertNotCalled(t, "AssociateDealToContact", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Run_ContactAndDeal_RetriesAssociation(t *testing.T) {
	fields := intent.Fields{
		intent.FieldName:    "Jane Smith",
		intent.FieldEmail:   "jane@acme.io",
		intent.FieldCompany: "Acme",
		intent.FieldAmount:  "$15,000",
	}

	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateContactAndDeal,
		Fields: fields,
	}, nil)

	crmClient := &mockCRM{}
	crmClient.On("FindOrCreateContact", mock.Anything, mock.Anything).
		Return(crm.ContactRef{ID: "contact-7", Existed: true}, nil)
	crmClient.On("CreateDeal", mock.Anything, mock.MatchedBy(func(f crm.DealFields) bool {
		return f.Amount == 15000 && f.Name == "Deal with Jane Smith from Acme"
	})).Return(crm.DealRef{ID: "deal-9"}, nil)
	// Rate limited twice, then accepted.
	crmClient.On("AssociateDealToContact", mock.Anything, "deal-9", "contact-7").
		Return(&crm.ProviderError{Status: 429, Message: "rate limited"}).Twice()
	crmClient.On("AssociateDealToContact", mock.Anything, "deal-9", "contact-7").
		Return(nil).Once()

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "New deal with Jane Smith jane@acme.io at Acme worth $15,000")

	require.NoError(t, err)
	assert.Equal(t, TerminalSucceeded, run.Terminal)
	require.Len(t, run.Results, 3)

	assert.Equal(t, 1, run.Results[0].Attempts)
	assert.Equal(t, 1, run.Results[1].Attempts)
	assert.Equal(t, 3, run.Results[2].Attempts)
	assert.True(t, run.Results[2].Success)

	crmClient.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngine_Run_UnknownIntent(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, "blah blah blah").Return(intent.Resolution{
		Intent: intent.Unknown,
		Fields: intent.Fields{},
	}, nil)

	crmClient := &mockCRM{}
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "blah blah blah")

	require.NoError(t, err)
	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, TerminalFailed, run.Terminal)
	assert.Empty(t, run.Plan)
	assert.Empty(t, run.Results)
	require.NotNil(t, run.ValidationErr)
	assert.Contains(t, run.ValidationErr.Reason, "cannot be executed")

	// Validation aborts before any CRM traffic, but one notification still
	// goes out.
	crmClient.AssertNotCalled(t, "FindOrCreateContact", mock.Anything, mock.Anything)
	crmClient.AssertNotCalled(t, "CreateDeal", mock.Anything, mock.Anything)
	crmClient.AssertNotCalled(t, "AssociateDealToContact", mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngine_Run_ResolverFailure_NoRetryForTerminalErrors(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).
		Return(intent.Resolution{}, errors.New("invalid api key"))

	crmClient := &mockCRM{}
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "Add John to the CRM")

	require.NoError(t, err)
	assert.Equal(t, TerminalFailed, run.Terminal)
	require.NotNil(t, run.ResolveErr)
	assert.Equal(t, KindResolution, run.ResolveErr.Kind)
	assert.Equal(t, intent.Unknown, run.Intent)
	assert.True(t, run.NotificationDelivered)

	resolver.AssertNumberOfCalls(t, "Resolve", 1)
}

func TestEngine_Run_ResolverTimeout_Retries(t *testing.T) {
	resolution := intent.Resolution{
		Intent: intent.CreateContact,
		Fields: intent.Fields{intent.FieldName: "John Doe", intent.FieldEmail: "john@example.com"},
	}

	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).
		Return(intent.Resolution{}, context.DeadlineExceeded).Twice()
	resolver.On("Resolve", mock.Anything, mock.Anything).
		Return(resolution, nil).Once()

	crmClient := &mockCRM{}
	crmClient.On("FindOrCreateContact", mock.Anything, mock.Anything).
		Return(crm.ContactRef{ID: "contact-1"}, nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "Add John Doe john@example.com")

	require.NoError(t, err)
	assert.Nil(t, run.ResolveErr)
	assert.Equal(t, intent.CreateContact, run.Intent)
	assert.Equal(t, TerminalSucceeded, run.Terminal)

	resolver.AssertNumberOfCalls(t, "Resolve", 3)
}

func TestEngine_Run_ContactFailure_SkipsAssociationOnly(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateContactAndDeal,
		Fields: intent.Fields{
			intent.FieldName:   "Jane Smith",
			intent.FieldEmail:  "jane@acme.io",
			intent.FieldAmount: "15000",
		},
	}, nil)

	crmClient := &mockCRM{}
	crmClient.On("FindOrCreateContact", mock.Anything, mock.Anything).
		Return(crm.ContactRef{}, &crm.ProviderError{Status: 401, Message: "invalid token"})
	crmClient.On("CreateDeal", mock.Anything, mock.Anything).
		Return(crm.DealRef{ID: "deal-1"}, nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "New deal with Jane Smith jane@acme.io worth 15000")

	require.NoError(t, err)
	assert.Equal(t, TerminalPartiallySucceeded, run.Terminal)
	require.Len(t, run.Results, 3)

	// Auth failures are not retried.
	assert.False(t, run.Results[0].Success)
	assert.Equal(t, 1, run.Results[0].Attempts)
	assert.Equal(t, KindAuth, run.Results[0].Err.Kind)

	// The deal is independent and still runs.
	assert.True(t, run.Results[1].Success)

	// Association depends on both creates and is recorded as a dependency
	// failure without a CRM call.
	assert.False(t, run.Results[2].Success)
	assert.Equal(t, 0, run.Results[2].Attempts)
	assert.Equal(t, KindDependency, run.Results[2].Err.Kind)
	crmClient.AssertNotCalled(t, "AssociateDealToContact", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Run_NotificationFailure_DegradesDelivery(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateContact,
		Fields: intent.Fields{intent.FieldName: "John Doe", intent.FieldEmail: "john@example.com"},
	}, nil)

	crmClient := &mockCRM{}
	crmClient.On("FindOrCreateContact", mock.Anything, mock.Anything).
		Return(crm.ContactRef{ID: "contact-1"}, nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("smtp unreachable"))

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "Add John Doe john@example.com")

	require.NoError(t, err)
	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, TerminalSucceeded, run.Terminal)
	assert.False(t, run.NotificationDelivered)

	// Delivery failure never triggers a second send.
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngine_Run_CancellationKeepsPartialResultsAndNotifies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateContactAndDeal,
		Fields: intent.Fields{
			intent.FieldName:   "Jane Smith",
			intent.FieldEmail:  "jane@acme.io",
			intent.FieldAmount: "15000",
		},
	}, nil)

	crmClient := &mockCRM{}
	crmClient.On("FindOrCreateContact", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(crm.ContactRef{ID: "contact-1"}, nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		// Notification runs on a context detached from the canceled one.
		notifyCtx := args.Get(0).(context.Context)
		assert.NoError(t, notifyCtx.Err())
	}).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(ctx, "New deal with Jane Smith jane@acme.io worth 15000")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TerminalPartiallySucceeded, run.Terminal)
	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].Success)
	assert.True(t, run.NotificationDelivered)

	crmClient.AssertNotCalled(t, "CreateDeal", mock.Anything, mock.Anything)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngine_Run_ResultsFollowPlanOrder(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateContactAndDeal,
		Fields: intent.Fields{
			intent.FieldName:   "Jane Smith",
			intent.FieldEmail:  "jane@acme.io",
			intent.FieldAmount: "15000",
		},
	}, nil)

	crmClient := &mockCRM{}
	crmClient.On("FindOrCreateContact", mock.Anything, mock.Anything).
		Return(crm.ContactRef{ID: "contact-1"}, nil)
	crmClient.On("CreateDeal", mock.Anything, mock.Anything).
		Return(crm.DealRef{ID: "deal-1"}, nil)
	crmClient.On("AssociateDealToContact", mock.Anything, "deal-1", "contact-1").
		Return(nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crmClient, notifier)

	run, err := engine.Run(context.Background(), "New deal with Jane Smith jane@acme.io worth 15000")

	require.NoError(t, err)
	require.Len(t, run.Results, len(run.Plan))
	for i, result := range run.Results {
		assert.Equal(t, run.Plan[i], result.Action)
	}
}

func TestEngine_Preview_DoesNotExecute(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateDeal,
		Fields: intent.Fields{intent.FieldAmount: "$5,000"},
	}, nil)

	crmClient := &mockCRM{}
	notifier := &mockNotifier{}

	engine := newTestEngine(t, resolver, crmClient, notifier)

	preview, err := engine.Preview(context.Background(), "Log a $5000 deal")

	require.NoError(t, err)
	assert.Equal(t, intent.CreateDeal, preview.Intent)
	assert.Equal(t, Plan{ActionCreateDeal}, preview.Plan)
	assert.Nil(t, preview.ValidationErr)

	crmClient.AssertNotCalled(t, "CreateDeal", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestEngine_Preview_ReportsValidationFailure(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateDeal,
		Fields: intent.Fields{},
	}, nil)

	engine := newTestEngine(t, resolver, &mockCRM{}, &mockNotifier{})

	preview, err := engine.Preview(context.Background(), "Log a deal")

	require.NoError(t, err)
	assert.Empty(t, preview.Plan)
	require.NotNil(t, preview.ValidationErr)
	assert.Equal(t, []string{intent.FieldAmount}, preview.ValidationErr.MissingFields)
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(intent.Resolution{
		Intent: intent.CreateContact,
		Fields: intent.Fields{intent.FieldName: "John Doe", intent.FieldEmail: "john@example.com"},
	}, nil)

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(t, resolver, crm.NewInMemoryClient(), notifier)

	var wg sync.WaitGroup
	runs := make([]*Run, 8)
	for i := range runs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := engine.Run(context.Background(), "Add John Doe john@example.com")
			assert.NoError(t, err)
			runs[i] = run
		}(i)
	}
	wg.Wait()

	for _, run := range runs {
		require.NotNil(t, run)
		assert.Equal(t, TerminalSucceeded, run.Terminal)
		require.Len(t, run.Results, 1)
		assert.NotEmpty(t, run.Results[0].ExternalID)
	}
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	resolver := &mockResolver{}
	crmClient := &mockCRM{}
	notifier := &mockNotifier{}

	_, err := NewEngine(nil, crmClient, notifier, Options{})
	assert.ErrorContains(t, err, "resolver")

	_, err = NewEngine(resolver, nil, notifier, Options{})
	assert.ErrorContains(t, err, "crm client")

	_, err = NewEngine(resolver, crmClient, nil, Options{})
	assert.ErrorContains(t, err, "notifier")

	engine, err := NewEngine(resolver, crmClient, notifier, Options{})
	require.NoError(t, err)
	assert.NotNil(t, engine)
}
