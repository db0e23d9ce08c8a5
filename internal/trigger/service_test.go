package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/models"
	"memotag-notifier/internal/realtime/broadcast"
	"memotag-notifier/internal/store/items"
)

// ==========================
// Mock Services
// ==========================

type MockBroadcaster struct {
	mu       sync.Mutex
	events   []string
	messages []models.Message
	derived  []*models.ItemStatus
	report   broadcast.Report
	err      error
	ctxErrs  []error
}

func (m *MockBroadcaster) BroadcastNewMessage(ctx context.Context, msg models.Message) (broadcast.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.events = append(m.events, "new_message:"+msg.ItemID)
	m.messages = append(m.messages, msg)
	return m.report, m.err
}

func (m *MockBroadcaster) BroadcastStatusChange(ctx context.Context, itemID string, status models.ItemStatus) (broadcast.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.events = append(m.events, "status_update:"+itemID+":"+string(status))
	return m.report, m.err
}

func (m *MockBroadcaster) BroadcastProgressChange(ctx context.Context, itemID string, _ int, derived *models.ItemStatus) (broadcast.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.events = append(m.events, "progress_update:"+itemID)
	m.derived = append(m.derived, derived)
	return m.report, m.err
}

type MockDispatcher struct {
	DispatchFunc func(ctx context.Context, item *models.Item, msg models.Message) (*models.DispatchOutcome, error)
	calls        int
	lastItem     *models.Item
	ctxErr       error
	deadline     time.Time
	hasDeadline  bool
}

func (m *MockDispatcher) Dispatch(ctx context.Context, item *models.Item, msg models.Message) (*models.DispatchOutcome, error) {
	m.calls++
	m.lastItem = item
	m.ctxErr = ctx.Err()
	m.deadline, m.hasDeadline = ctx.Deadline()
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, item, msg)
	}
	return &models.DispatchOutcome{ItemID: msg.ItemID, Configured: true}, nil
}

type MockStore struct {
	GetItemFunc func(ctx context.Context, itemID string) (*models.Item, error)
}

func (m *MockStore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	return m.GetItemFunc(ctx, itemID)
}

type MockInvalidator struct {
	ids []string
	err error
}

func (m *MockInvalidator) Invalidate(_ context.Context, itemID string) error {
	m.ids = append(m.ids, itemID)
	return m.err
}

// ==========================
// Test Helper Functions
// ==========================

func createTestItem() *models.Item {
	return &models.Item{ItemID: "drill_c", Name: "Drill C", UserEmail: "a@x.com, b@x.com"}
}

func createTestMessage() models.Message {
	return models.Message{ID: "m-1", ItemID: "drill_c", Body: "bit is dull", Author: "Administrator"}
}

func createTestService(t *testing.T, b *MockBroadcaster, d *MockDispatcher, opts ...Option) *Service {
	return NewService(b, d, logger.NewTestLogger(t), opts...)
}

// ==========================
// OnMessageCreated
// ==========================

func TestOnMessageCreated_BroadcastAlwaysDispatchOnlyWhenRequested(t *testing.T) {
	tests := []struct {
		name         string
		notify       bool
		wantDispatch int
		wantNotified bool
		wantOutcome  bool
	}{
		{"notify requested", true, 1, true, true},
		{"notify not requested", false, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &MockBroadcaster{report: broadcast.Report{Delivered: 2}}
			d := &MockDispatcher{}
			svc := createTestService(t, b, d)

			result, err := svc.OnMessageCreated(context.Background(), createTestItem(), createTestMessage(), tt.notify)
			require.NoError(t, err)

			assert.Equal(t, []string{"new_message:drill_c"}, b.events)
			assert.Equal(t, tt.wantDispatch, d.calls)
			assert.Equal(t, tt.wantNotified, result.Notified)
			assert.Equal(t, tt.wantOutcome, result.Dispatch != nil)
			assert.Equal(t, 2, result.Broadcast.Delivered)
		})
	}
}

func TestOnMessageCreated_NormalizesBeforeBroadcast(t *testing.T) {
	b := &MockBroadcaster{}
	svc := createTestService(t, b, &MockDispatcher{})

	msg := createTestMessage()
	msg.Author = "   "
	msg.ItemID = ""
	_, err := svc.OnMessageCreated(context.Background(), createTestItem(), msg, false)
	require.NoError(t, err)

	require.Len(t, b.messages, 1)
	assert.Equal(t, models.AnonymousAuthor, b.messages[0].Author)
	assert.Equal(t, models.CategoryGeneral, b.messages[0].Category)
	assert.Equal(t, "drill_c", b.messages[0].ItemID)
}

func TestOnMessageCreated_InvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		item *models.Item
		msg  func() models.Message
	}{
		{"empty body", createTestItem(), func() models.Message { m := createTestMessage(); m.Body = "  "; return m }},
		{"unknown category", createTestItem(), func() models.Message { m := createTestMessage(); m.Category = "rant"; return m }},
		{"no item id", nil, func() models.Message { m := createTestMessage(); m.ItemID = ""; return m }},
		{"item mismatch", &models.Item{ItemID: "lathe_1"}, createTestMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &MockBroadcaster{}
			d := &MockDispatcher{}
			svc := createTestService(t, b, d)

			_, err := svc.OnMessageCreated(context.Background(), tt.item, tt.msg(), true)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidEventPayload)
			assert.Empty(t, b.events)
			assert.Equal(t, 0, d.calls)
		})
	}
}

func TestOnMessageCreated_DispatchFailureDoesNotFailTrigger(t *testing.T) {
	d := &MockDispatcher{
		DispatchFunc: func(_ context.Context, _ *models.Item, msg models.Message) (*models.DispatchOutcome, error) {
			return &models.DispatchOutcome{ItemID: msg.ItemID, Attempted: 2, Configured: true}, nil
		},
	}
	svc := createTestService(t, &MockBroadcaster{}, d)

	result, err := svc.OnMessageCreated(context.Background(), createTestItem(), createTestMessage(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Dispatch.Failed())
	assert.Empty(t, result.DispatchError)
}

func TestOnMessageCreated_DispatchOutlivesCallerContext(t *testing.T) {
	d := &MockDispatcher{}
	svc := createTestService(t, &MockBroadcaster{}, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.OnMessageCreated(ctx, createTestItem(), createTestMessage(), true)
	require.NoError(t, err)
	assert.NoError(t, d.ctxErr)
	assert.False(t, d.hasDeadline)
}

func TestOnMessageCreated_DispatchKeepsCallerDeadline(t *testing.T) {
	d := &MockDispatcher{}
	svc := createTestService(t, &MockBroadcaster{}, d)

	deadline := time.Now().Add(time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	_, err := svc.OnMessageCreated(ctx, createTestItem(), createTestMessage(), true)
	require.NoError(t, err)
	require.True(t, d.hasDeadline)
	assert.Equal(t, deadline, d.deadline)
}

func TestTriggers_BroadcastIgnoresCallerCancellation(t *testing.T) {
	b := &MockBroadcaster{}
	svc := createTestService(t, b, &MockDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.OnMessageCreated(ctx, createTestItem(), createTestMessage(), false)
	require.NoError(t, err)
	_, err = svc.OnStatusChanged(ctx, "drill_c", models.StatusDelayed)
	require.NoError(t, err)
	_, err = svc.OnProgressChanged(ctx, "drill_c", 100)
	require.NoError(t, err)

	require.Len(t, b.ctxErrs, 4)
	for _, ctxErr := range b.ctxErrs {
		assert.NoError(t, ctxErr)
	}
}

func TestOnMessageCreated_LooksUpMissingSnapshot(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		d := &MockDispatcher{}
		store := &MockStore{GetItemFunc: func(_ context.Context, id string) (*models.Item, error) {
			assert.Equal(t, "drill_c", id)
			return createTestItem(), nil
		}}
		svc := createTestService(t, &MockBroadcaster{}, d, WithItemStore(store))

		result, err := svc.OnMessageCreated(context.Background(), nil, createTestMessage(), true)
		require.NoError(t, err)
		require.NotNil(t, d.lastItem)
		assert.Equal(t, "a@x.com, b@x.com", d.lastItem.UserEmail)
		assert.Empty(t, result.DispatchError)
	})

	t.Run("not found reaches dispatcher as missing item", func(t *testing.T) {
		d := &MockDispatcher{
			DispatchFunc: func(_ context.Context, item *models.Item, msg models.Message) (*models.DispatchOutcome, error) {
				assert.Nil(t, item)
				return &models.DispatchOutcome{ItemID: msg.ItemID}, apperrors.NewMissingItemError(msg.ItemID)
			},
		}
		store := &MockStore{GetItemFunc: func(context.Context, string) (*models.Item, error) {
			return nil, items.ErrNotFound
		}}
		b := &MockBroadcaster{}
		svc := createTestService(t, b, d, WithItemStore(store))

		result, err := svc.OnMessageCreated(context.Background(), nil, createTestMessage(), true)
		require.NoError(t, err)
		assert.Equal(t, 1, d.calls)
		assert.Equal(t, string(apperrors.ErrCodeMissingItem), result.DispatchError)
		assert.Len(t, b.events, 1)
	})

	t.Run("lookup failure skips dispatch", func(t *testing.T) {
		d := &MockDispatcher{}
		store := &MockStore{GetItemFunc: func(context.Context, string) (*models.Item, error) {
			return nil, errors.New("connection refused")
		}}
		svc := createTestService(t, &MockBroadcaster{}, d, WithItemStore(store))

		result, err := svc.OnMessageCreated(context.Background(), nil, createTestMessage(), true)
		require.NoError(t, err)
		assert.Equal(t, 0, d.calls)
		assert.Equal(t, string(apperrors.ErrCodeItemLookupFailed), result.DispatchError)
	})
}

func TestOnMessageCreated_BroadcastSerializationFailure(t *testing.T) {
	b := &MockBroadcaster{err: apperrors.NewSerializationFailedError("new_message", errors.New("bad"))}
	d := &MockDispatcher{}
	svc := createTestService(t, b, d)

	_, err := svc.OnMessageCreated(context.Background(), createTestItem(), createTestMessage(), true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSerializationFailed, apperrors.CodeOf(err))
	assert.Equal(t, 0, d.calls)
}

// ==========================
// OnStatusChanged
// ==========================

func TestOnStatusChanged(t *testing.T) {
	b := &MockBroadcaster{report: broadcast.Report{Delivered: 3}}
	inv := &MockInvalidator{}
	d := &MockDispatcher{}
	svc := createTestService(t, b, d, WithInvalidator(inv))

	result, err := svc.OnStatusChanged(context.Background(), "drill_c", models.StatusCompleted)
	require.NoError(t, err)

	assert.Equal(t, []string{"status_update:drill_c:Completed"}, b.events)
	assert.Equal(t, []string{"drill_c"}, inv.ids)
	assert.Equal(t, 3, result.Broadcast.Delivered)
	assert.Equal(t, 0, d.calls)
}

func TestOnStatusChanged_Validation(t *testing.T) {
	svc := createTestService(t, &MockBroadcaster{}, &MockDispatcher{})

	_, err := svc.OnStatusChanged(context.Background(), "drill_c", "Exploded")
	assert.ErrorIs(t, err, apperrors.ErrInvalidStatus)

	_, err = svc.OnStatusChanged(context.Background(), "", models.StatusWorking)
	assert.ErrorIs(t, err, apperrors.ErrInvalidEventPayload)
}

func TestOnStatusChanged_InvalidationFailureIsTolerated(t *testing.T) {
	b := &MockBroadcaster{}
	svc := createTestService(t, b, &MockDispatcher{}, WithInvalidator(&MockInvalidator{err: errors.New("redis down")}))

	_, err := svc.OnStatusChanged(context.Background(), "drill_c", models.StatusWorking)
	require.NoError(t, err)
	assert.Len(t, b.events, 1)
}

// ==========================
// OnProgressChanged
// ==========================

func TestOnProgressChanged(t *testing.T) {
	tests := []struct {
		progress    int
		wantEvents  []string
		wantDerived models.ItemStatus
	}{
		{100, []string{"progress_update:drill_c", "status_update:drill_c:Completed"}, models.StatusCompleted},
		{80, []string{"progress_update:drill_c", "status_update:drill_c:Working"}, models.StatusWorking},
		{50, []string{"progress_update:drill_c"}, ""},
		{10, []string{"progress_update:drill_c", "status_update:drill_c:Delayed"}, models.StatusDelayed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("progress %d", tt.progress), func(t *testing.T) {
			b := &MockBroadcaster{report: broadcast.Report{Delivered: 1}}
			inv := &MockInvalidator{}
			svc := createTestService(t, b, &MockDispatcher{}, WithInvalidator(inv))

			result, err := svc.OnProgressChanged(context.Background(), "drill_c", tt.progress)
			require.NoError(t, err)

			assert.Equal(t, tt.wantEvents, b.events)
			assert.Equal(t, tt.wantDerived, result.DerivedStatus)
			assert.Equal(t, len(tt.wantEvents), result.Broadcast.Delivered)
			assert.Equal(t, []string{"drill_c"}, inv.ids)
			if tt.wantDerived == "" {
				assert.Nil(t, b.derived[0])
			} else {
				require.NotNil(t, b.derived[0])
				assert.Equal(t, tt.wantDerived, *b.derived[0])
			}
		})
	}
}

func TestOnProgressChanged_OutOfRange(t *testing.T) {
	b := &MockBroadcaster{}
	svc := createTestService(t, b, &MockDispatcher{})

	for _, p := range []int{-1, 101} {
		_, err := svc.OnProgressChanged(context.Background(), "drill_c", p)
		assert.ErrorIs(t, err, apperrors.ErrInvalidProgress)
	}
	assert.Empty(t, b.events)
}
