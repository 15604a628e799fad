package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/adapters/events"
	"github.com/zatekoja/patientflow/internal/adapters/memory"
	"github.com/zatekoja/patientflow/internal/api/handlers"
	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
)

type testEnv struct {
	store    *memory.Store
	bus      providers.EventBus
	queue    *handlers.QueueHandler
	pins     *handlers.PinHandler
	workflow *handlers.WorkflowHandler
	admin    *handlers.AdminHandler
	sse      *handlers.SSEHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	bus := events.NewMemoryEventBus()
	t.Cleanup(func() { _ = bus.Close() })

	settings := services.NewSettingsService(store, entities.DefaultSystemConfig(time.UTC, "999"))
	// keep the scheduler inside working hours regardless of when the test runs
	_, err := settings.Update(context.Background(), entities.SettingWorkStart, "00:00")
	require.NoError(t, err)
	_, err = settings.Update(context.Background(), entities.SettingWorkEnd, "23:59")
	require.NoError(t, err)

	notifier := services.NewNotifier(bus, settings)
	locks := services.NewLockManager(memory.NewLeaseTable(), 0)
	queue := services.NewQueueService(store, settings, locks, notifier)
	routing := services.NewRoutingService(store, settings, notifier)
	pins := services.NewPinService(store, settings)
	workflow := services.NewWorkflowService(store, settings, queue, routing, pins, notifier)
	scheduler := services.NewSchedulerService(store, settings, queue, settings)

	env := &testEnv{
		store:    store,
		bus:      bus,
		queue:    handlers.NewQueueHandler(queue),
		pins:     handlers.NewPinHandler(pins),
		workflow: handlers.NewWorkflowHandler(workflow, routing),
		admin:    handlers.NewAdminHandler(settings, scheduler),
		sse:      handlers.NewSSEHandler(bus),
	}

	err = store.RunInTx(context.Background(), func(ctx context.Context, repos repositories.Repositories) error {
		for _, c := range []*entities.Clinic{
			{ID: "a", Name: "Vitals", Capacity: 2, Status: entities.ClinicStatusOpen, RequiresPin: true},
			{ID: "b", Name: "Lab", Capacity: 2, Status: entities.ClinicStatusOpen},
		} {
			if err := repos.Clinics.Upsert(ctx, c); err != nil {
				return err
			}
		}
		return repos.Templates.Replace(ctx, "general", entities.GenderMale, []*entities.RouteTemplateEntry{
			{ExamType: "general", Gender: entities.GenderMale, StepOrder: 1, ClinicID: "a"},
			{ExamType: "general", Gender: entities.GenderMale, StepOrder: 2, ClinicID: "b"},
		})
	})
	require.NoError(t, err)
	return env
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Reason  string          `json:"reason"`
}

func do(t *testing.T, h http.HandlerFunc, method, target string, body interface{}, pathValues ...string) (int, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	w := httptest.NewRecorder()
	h(w, req)

	var resp response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, resp
}

func TestQueueHandler_EnqueueAndCall(t *testing.T) {
	env := newTestEnv(t)

	code, resp := do(t, env.queue.Enqueue, "POST", "/api/clinics/b/queue",
		map[string]interface{}{"patient_id": "1001"}, "id", "b")
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.Success)

	var enq services.EnqueueResult
	require.NoError(t, json.Unmarshal(resp.Data, &enq))
	assert.Equal(t, 1, enq.Ticket.Number)
	assert.Equal(t, 1, enq.Position)

	code, _ = do(t, env.queue.Enqueue, "POST", "/api/clinics/b/queue",
		map[string]interface{}{"patient_id": "1001"}, "id", "b")
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, env.queue.CallNext, "POST", "/api/clinics/b/call-next", nil, "id", "b")
	require.Equal(t, http.StatusOK, code)
	var called services.CallResult
	require.NoError(t, json.Unmarshal(resp.Data, &called))
	assert.Equal(t, entities.TicketStatusCalled, called.Ticket.Status)

	code, resp = do(t, env.queue.CallNext, "POST", "/api/clinics/b/call-next", nil, "id", "b")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "no_waiting", resp.Reason)

	code, _ = do(t, env.queue.CheckIn, "POST", "/api/clinics/b/check-in",
		map[string]string{"patient_id": "1001"}, "id", "b")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, env.queue.Complete, "POST", "/api/clinics/b/complete",
		map[string]string{"patient_id": "1001"}, "id", "b")
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, env.queue.GetQueue, "GET", "/api/clinics/b/queue", nil, "id", "b")
	require.Equal(t, http.StatusOK, code)
	var snap services.QueueSnapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, 1, snap.Counts[entities.TicketStatusDone])
}

func TestQueueHandler_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	code, resp := do(t, env.queue.Enqueue, "POST", "/api/clinics/b/queue",
		map[string]interface{}{"patient_id": "x"}, "id", "b")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", resp.Reason)

	code, resp = do(t, env.queue.Enqueue, "POST", "/api/clinics/zz/queue",
		map[string]interface{}{"patient_id": "1001"}, "id", "zz")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", resp.Reason)

	req := httptest.NewRequest("POST", "/api/clinics/b/check-in", bytes.NewBufferString("{"))
	req.SetPathValue("id", "b")
	w := httptest.NewRecorder()
	env.queue.CheckIn(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueHandler_ListClinics(t *testing.T) {
	env := newTestEnv(t)

	code, resp := do(t, env.queue.ListClinics, "GET", "/api/clinics", nil)
	require.Equal(t, http.StatusOK, code)
	var clinics []entities.Clinic
	require.NoError(t, json.Unmarshal(resp.Data, &clinics))
	require.Len(t, clinics, 2)
	assert.Equal(t, "a", clinics[0].ID)
}

func TestPinHandler_IssueAndVerify(t *testing.T) {
	env := newTestEnv(t)

	code, resp := do(t, env.pins.IssuePin, "POST", "/api/clinics/a/pin", nil, "id", "a")
	require.Equal(t, http.StatusCreated, code)
	var pin entities.DailyPin
	require.NoError(t, json.Unmarshal(resp.Data, &pin))

	code, _ = do(t, env.pins.VerifyPin, "POST", "/api/clinics/a/pin/verify",
		map[string]string{"pin": pin.Pin}, "id", "a")
	assert.Equal(t, http.StatusOK, code)

	wrong := "0000"
	if pin.Pin == wrong {
		wrong = "1111"
	}
	code, resp = do(t, env.pins.VerifyPin, "POST", "/api/clinics/a/pin/verify",
		map[string]string{"pin": wrong}, "id", "a")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_pin", resp.Reason)

	code, resp = do(t, env.pins.GetPin, "GET", "/api/clinics/b/pin", nil, "id", "b")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "pin_not_issued", resp.Reason)
}
