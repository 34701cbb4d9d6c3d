package roomsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtualroom-backend/internal/model"
)

// pump delivers every pending bus message to the admission controllers.
func pump(ctx context.Context, ch <-chan BusMessage, targets ...*Admission) {
	for {
		select {
		case msg := <-ch:
			for _, a := range targets {
				if msg.From != a.self {
					a.HandleBus(ctx, msg)
				}
			}
		default:
			return
		}
	}
}

func TestAdmission_ApproveConnectsGuest(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	bus := NewBus()

	host := NewAdmission(api, bus, "host", true)
	guest := NewAdmission(api, bus, "guest", false)

	admitted := 0
	guest.OnAdmitted(func(context.Context) { admitted++ })

	require.NoError(t, guest.RequestEntry(ctx, " Lee "))
	assert.Equal(t, StateWaitingApproval, guest.State())

	require.NoError(t, host.RefreshQueue(ctx))
	queue := host.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "Lee", queue[0].Name)

	require.NoError(t, guest.PollStatus(ctx))
	assert.Equal(t, StateWaitingApproval, guest.State())

	require.NoError(t, host.Approve(ctx, queue[0]))
	assert.Empty(t, host.Queue())

	require.NoError(t, guest.PollStatus(ctx))
	assert.Equal(t, StateConnected, guest.State())
	assert.Equal(t, 1, admitted)
	assert.Equal(t, []string{"Lee"}, api.joined)

	t.Run("deciding again is rejected", func(t *testing.T) {
		assert.ErrorIs(t, host.Approve(ctx, queue[0]), ErrAlreadyResolved)
		assert.ErrorIs(t, host.Deny(ctx, queue[0]), ErrAlreadyResolved)
		assert.Equal(t, "approved", api.decisions[queue[0].ID])
	})

	t.Run("further polls do not join twice", func(t *testing.T) {
		require.NoError(t, guest.PollStatus(ctx))
		assert.Len(t, api.joined, 1)
	})
}

func TestAdmission_DenyReturnsGuestToIdle(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	bus := NewBus()

	host := NewAdmission(api, bus, "host", true)
	guest := NewAdmission(api, bus, "guest", false)

	var alerts []string
	guest.OnAlert(func(msg string) { alerts = append(alerts, msg) })

	require.NoError(t, guest.RequestEntry(ctx, "Park"))
	require.NoError(t, host.RefreshQueue(ctx))
	require.NoError(t, host.Deny(ctx, host.Queue()[0]))

	require.NoError(t, guest.PollStatus(ctx))
	assert.Equal(t, StateIdle, guest.State())
	require.Len(t, alerts, 1)
	assert.NotEmpty(t, guest.Alert())
	assert.Empty(t, api.joined)
}

func TestAdmission_ServerSideResolutionIsRespected(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	host := NewAdmission(api, NewBus(), "host", true)

	_, err := api.RegisterWaiting(ctx, "Choi")
	require.NoError(t, err)
	require.NoError(t, host.RefreshQueue(ctx))
	entry := host.Queue()[0]

	// another host tab decided first
	require.NoError(t, api.Decide(ctx, entry.ID, false))

	assert.ErrorIs(t, host.Approve(ctx, entry), ErrAlreadyResolved)
	assert.Empty(t, host.Queue())
}

func TestAdmission_RegistrationFailure(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.registerErr = errOffline
	guest := NewAdmission(api, NewBus(), "guest", false)

	err := guest.RequestEntry(ctx, "Lee")
	assert.ErrorIs(t, err, ErrAdmissionFailed)
	assert.Equal(t, StateIdle, guest.State())
	assert.NotEmpty(t, guest.Alert())

	t.Run("name is required", func(t *testing.T) {
		assert.ErrorIs(t, guest.RequestEntry(ctx, "   "), ErrNameRequired)
	})

	t.Run("host cannot request entry", func(t *testing.T) {
		host := NewAdmission(api, NewBus(), "host", true)
		assert.ErrorIs(t, host.RequestEntry(ctx, "Dr"), ErrGuestOnly)
	})

	t.Run("guest cannot decide", func(t *testing.T) {
		assert.ErrorIs(t, guest.Approve(ctx, WaitingEntry{ID: 1}), ErrHostOnly)
	})
}

func TestAdmission_BusOnly(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	host := NewAdmission(nil, bus, "host", true)
	guest := NewAdmission(nil, bus, "guest", false)
	other := NewAdmission(nil, bus, "other", false)

	require.NoError(t, guest.RequestEntry(ctx, "Lee"))
	require.NoError(t, other.RequestEntry(ctx, "Kang"))
	pump(ctx, ch, host, guest, other)

	queue := host.Queue()
	require.Len(t, queue, 2)
	assert.Zero(t, queue[0].ID)

	require.NoError(t, host.Approve(ctx, queue[0]))
	require.NoError(t, host.Deny(ctx, queue[1]))
	pump(ctx, ch, host, guest, other)

	assert.Equal(t, StateConnected, guest.State())
	assert.Equal(t, StateIdle, other.State())
	assert.ErrorIs(t, host.Approve(ctx, queue[0]), ErrAlreadyResolved)

	t.Run("a repeated announcement is not queued again", func(t *testing.T) {
		msg, err := NewBusMessage(MsgRequestEntry, "guest", entryAnnouncement{Name: "Lee"})
		require.NoError(t, err)
		host.HandleBus(ctx, msg)
		assert.Empty(t, host.Queue())
	})
}

func TestAdmission_DirectMode(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	host := NewAdmission(api, bus, "host", true)
	host.SetDirect(true)
	guest := NewAdmission(api, bus, "guest", false)

	require.NoError(t, guest.RequestEntry(ctx, "Lee"))
	pump(ctx, ch, host)
	require.NoError(t, host.RefreshQueue(ctx))
	assert.Empty(t, host.Queue())
	assert.Equal(t, "approved", api.decisions[1])

	// ADMIT_GUEST goes to the announcing client and short-circuits the poll
	pump(ctx, ch, guest)
	assert.Equal(t, StateConnected, guest.State())
}

func TestAdmission_DecisionsOnlyFromHost(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	guest := NewAdmission(nil, bus, "guest", false)
	require.NoError(t, guest.RequestEntry(ctx, "Lee"))

	deny, err := NewBusMessage(MsgDenyGuest, "other-guest", map[string]any{"entry_id": 0})
	require.NoError(t, err)
	deny.To = "guest"
	deny.Role = model.RoleGuest
	guest.HandleBus(ctx, deny)
	assert.Equal(t, StateWaitingApproval, guest.State(), "forged deny does not bounce the guest")

	admit, err := NewBusMessage(MsgAdmitGuest, "other-guest", map[string]any{"entry_id": 0})
	require.NoError(t, err)
	admit.To = "guest"
	guest.HandleBus(ctx, admit)
	assert.Equal(t, StateWaitingApproval, guest.State(), "admit without a role is ignored")

	admit.Role = model.RoleHost
	guest.HandleBus(ctx, admit)
	assert.Equal(t, StateConnected, guest.State())
}

func TestAdmission_NoStatusPollBeforeRegistration(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.registerErr = errOffline
	guest := NewAdmission(api, NewBus(), "guest", false)

	require.NoError(t, guest.PollStatus(ctx))
	assert.Error(t, guest.RequestEntry(ctx, "Lee"))
	require.NoError(t, guest.PollStatus(ctx))
	assert.Zero(t, api.statusCalls)

	api.registerErr = nil
	require.NoError(t, guest.RequestEntry(ctx, "Lee"))
	require.NoError(t, guest.PollStatus(ctx))
	assert.Equal(t, 1, api.statusCalls)
}

func TestAdmission_ConcurrentDecisionsOnBusEntry(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	host := NewAdmission(nil, bus, "host", true)
	entry := WaitingEntry{Name: "Lee", ClientID: "guest"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, approve := range []bool{true, false} {
		wg.Add(1)
		go func(i int, approve bool) {
			defer wg.Done()
			errs[i] = host.decide(ctx, entry, approve)
		}(i, approve)
	}
	wg.Wait()

	var ok, resolved int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyResolved):
			resolved++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, resolved)
	assert.Len(t, ch, 1, "exactly one decision is published")
}

func TestAdmission_FailedDecisionCanBeRetried(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	host := NewAdmission(api, NewBus(), "host", true)

	reg, err := api.RegisterWaiting(ctx, "Lee")
	require.NoError(t, err)
	entry := WaitingEntry{ID: reg.EntryID, Name: "Lee"}

	api.decideErr = errOffline
	assert.ErrorIs(t, host.Approve(ctx, entry), errOffline)

	api.decideErr = nil
	require.NoError(t, host.Approve(ctx, entry))
	assert.Equal(t, "approved", api.decisions[entry.ID])
	assert.ErrorIs(t, host.Deny(ctx, entry), ErrAlreadyResolved)
}
