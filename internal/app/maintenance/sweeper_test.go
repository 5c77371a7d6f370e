package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maelcorre/fleetdesk/internal/database/testutil"
	"github.com/maelcorre/fleetdesk/internal/models"
	"github.com/maelcorre/fleetdesk/internal/realtime"
	"github.com/maelcorre/fleetdesk/internal/services"
)

func newSweeperFixture(t *testing.T, clock func() time.Time) (*Sweeper, *realtime.Registry, *services.NotificationService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	registry := realtime.NewRegistry(realtime.WithRegistryClock(clock))

	svc, err := services.NewNotificationService(db, registry, nil)
	require.NoError(t, err)

	sweeper := NewSweeper(registry, svc,
		WithNow(clock),
		WithInactivityTimeout(5*time.Minute),
	)
	return sweeper, registry, svc
}

// recordingCloser captures the connection ids handed to Disconnect.
type recordingCloser struct {
	closed []string
}

func (r *recordingCloser) Disconnect(connectionID string) {
	r.closed = append(r.closed, connectionID)
}

func TestRunOnceSweepsStalePresence(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	sweeper, registry, _ := newSweeperFixture(t, clock)

	registry.Add("stale", 1)
	registry.Add("fresh", 2)

	current = current.Add(10 * time.Minute)
	registry.Touch("fresh")

	require.NoError(t, sweeper.RunOnce(context.Background()))
	require.Equal(t, 1, registry.Len())
	require.Empty(t, registry.ConnectionsFor(1))
}

func TestPresenceSweepClosesSweptConnections(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	registry := realtime.NewRegistry(realtime.WithRegistryClock(clock))

	svc, err := services.NewNotificationService(db, registry, nil)
	require.NoError(t, err)

	closer := &recordingCloser{}
	sweeper := NewSweeper(registry, svc,
		WithNow(clock),
		WithInactivityTimeout(5*time.Minute),
		WithConnectionCloser(closer),
	)

	registry.Add("stale-a", 1)
	registry.Add("stale-b", 2)
	registry.Add("fresh", 3)

	current = current.Add(10 * time.Minute)
	registry.Touch("fresh")

	require.NoError(t, sweeper.RunOnce(context.Background()))

	// Every swept presence entry gets its socket closed; the live one is spared.
	require.ElementsMatch(t, []string{"stale-a", "stale-b"}, closer.closed)
	require.Equal(t, 1, registry.Len())
}

func TestRunOnceSweepsExpiredNotifications(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	sweeper, _, svc := newSweeperFixture(t, clock)
	ctx := context.Background()

	past := current.Add(-time.Hour)
	_, err := svc.CreateAndDispatch(ctx, services.CreateNotificationInput{
		UserID:     42,
		Title:      "Expired alert",
		Category:   models.CategoryAlert,
		ExpiryDate: &past,
	}, services.SingleUser(42))
	require.NoError(t, err)

	_, err = svc.CreateAndDispatch(ctx, services.CreateNotificationInput{
		UserID:   42,
		Title:    "Current alert",
		Category: models.CategoryAlert,
	}, services.SingleUser(42))
	require.NoError(t, err)

	require.NoError(t, sweeper.RunOnce(ctx))

	items, err := svc.ListForUser(ctx, services.ListNotificationsInput{UserID: 42})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Current alert", items[0].Title)
}

func TestRunOnceWithNilDependencies(t *testing.T) {
	sweeper := NewSweeper(nil, nil)
	require.NoError(t, sweeper.RunOnce(context.Background()))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	current := time.Now()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	registry := realtime.NewRegistry()

	svc, err := services.NewNotificationService(db, registry, nil)
	require.NoError(t, err)

	sweeper := NewSweeper(registry, svc,
		WithNow(func() time.Time { return current }),
		WithPresenceSchedule("not a cron spec"),
	)
	require.Error(t, sweeper.Start())
}

func TestStartAndStop(t *testing.T) {
	sweeper, registry, _ := newSweeperFixture(t, time.Now)
	registry.Add("conn", 1)

	require.NoError(t, sweeper.Start())
	<-sweeper.Stop().Done()

	// A fresh connection was never stale, so startup and shutdown leave it alone.
	require.Equal(t, 1, registry.Len())
}
