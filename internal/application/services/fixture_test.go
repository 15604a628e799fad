package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/adapters/events"
	"github.com/zatekoja/patientflow/internal/adapters/memory"
	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
)

// testClock is a settable time source shared by every service of a fixture
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx       context.Context
	store     *memory.Store
	clock     *testClock
	config    services.StaticConfig
	bus       providers.EventBus
	locks     *services.LockManager
	leases    providers.LeaseProvider
	queue     *services.QueueService
	routing   *services.RoutingService
	pins      *services.PinService
	workflow  *services.WorkflowService
	scheduler *services.SchedulerService
}

// 09:00 UTC on a Monday, inside the default working hours
var fixtureStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := services.StaticConfig(entities.DefaultSystemConfig(time.UTC, "999"))
	return newFixtureWithConfig(t, cfg)
}

func newFixtureWithConfig(t *testing.T, cfg services.StaticConfig) *fixture {
	t.Helper()

	f := &fixture{
		ctx:    context.Background(),
		store:  memory.NewStore(),
		clock:  &testClock{now: fixtureStart},
		config: cfg,
		bus:    events.NewMemoryEventBus(),
		leases: memory.NewLeaseTable(),
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	notifier := services.NewNotifier(f.bus, cfg)
	f.locks = services.NewLockManager(f.leases, 0)
	f.locks.SetClock(f.clock.Now)
	f.queue = services.NewQueueService(f.store, cfg, f.locks, notifier)
	f.routing = services.NewRoutingService(f.store, cfg, notifier)
	f.pins = services.NewPinService(f.store, cfg)
	f.workflow = services.NewWorkflowService(f.store, cfg, f.queue, f.routing, f.pins, notifier)
	f.workflow.SetClock(f.clock.Now)
	f.scheduler = services.NewSchedulerService(f.store, cfg, f.queue, nil)
	f.scheduler.SetClock(f.clock.Now)
	return f
}

func (f *fixture) seedClinics(t *testing.T, clinics ...*entities.Clinic) {
	t.Helper()
	err := f.store.RunInTx(f.ctx, func(ctx context.Context, repos repositories.Repositories) error {
		for _, c := range clinics {
			if c.Status == "" {
				c.Status = entities.ClinicStatusOpen
			}
			if err := repos.Clinics.Upsert(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// seedRoute stores a template; each element of steps lists the clinics of one step
func (f *fixture) seedRoute(t *testing.T, examType string, gender entities.Gender, steps ...[]string) {
	t.Helper()
	var entries []*entities.RouteTemplateEntry
	for i, clinics := range steps {
		for _, id := range clinics {
			entries = append(entries, &entities.RouteTemplateEntry{
				ExamType:   examType,
				Gender:     gender,
				StepOrder:  i + 1,
				ClinicID:   id,
				IsRequired: true,
			})
		}
	}
	err := f.store.RunInTx(f.ctx, func(ctx context.Context, repos repositories.Repositories) error {
		return repos.Templates.Replace(ctx, examType, gender, entries)
	})
	require.NoError(t, err)
}

func (f *fixture) load(t *testing.T, clinicID string) *entities.ClinicLoad {
	t.Helper()
	var load *entities.ClinicLoad
	err := f.store.RunInTx(f.ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		load, err = repos.Loads.Get(ctx, clinicID, f.config.Current().DateKey(f.clock.Now()))
		return err
	})
	require.NoError(t, err)
	return load
}

func (f *fixture) ticket(t *testing.T, id string) *entities.QueueTicket {
	t.Helper()
	var ticket *entities.QueueTicket
	err := f.store.RunInTx(f.ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		ticket, err = repos.Tickets.GetByID(ctx, id)
		return err
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) subscribe(t *testing.T, channel string) <-chan *entities.QueueEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(f.ctx)
	t.Cleanup(cancel)
	ch, err := f.bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	return ch
}

// drain returns the events already delivered to ch
func drain(ch <-chan *entities.QueueEvent) []*entities.QueueEvent {
	var out []*entities.QueueEvent
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventTypes(evts []*entities.QueueEvent) []entities.QueueEventType {
	out := make([]entities.QueueEventType, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}
