package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
)

func TestWorkflowHandler_PatientJourney(t *testing.T) {
	env := newTestEnv(t)

	enqueue := map[string]interface{}{"patient_id": "1001", "exam_type": "general", "gender": "Male"}
	code, resp := do(t, env.workflow.EnqueuePatient, "POST", "/api/patients/enqueue", enqueue)
	require.Equal(t, http.StatusCreated, code)
	var enq services.EnqueuePatientResult
	require.NoError(t, json.Unmarshal(resp.Data, &enq))
	assert.Equal(t, "a", enq.ClinicID)

	code, resp = do(t, env.workflow.EnqueuePatient, "POST", "/api/patients/enqueue", enqueue)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_exists", resp.Reason)

	code, _ = do(t, env.queue.CallNext, "POST", "/api/clinics/a/call-next", nil, "id", "a")
	require.Equal(t, http.StatusOK, code)

	code, resp = do(t, env.pins.IssuePin, "POST", "/api/clinics/a/pin", nil, "id", "a")
	require.Equal(t, http.StatusCreated, code)
	var pin entities.DailyPin
	require.NoError(t, json.Unmarshal(resp.Data, &pin))

	arrive := map[string]string{"patient_id": "1001", "pin": pin.Pin}
	code, _ = do(t, env.workflow.Arrive, "POST", "/api/tickets/x/arrive", arrive, "id", enq.Ticket.ID)
	require.Equal(t, http.StatusOK, code)

	code, resp = do(t, env.workflow.Depart, "POST", "/api/tickets/x/depart",
		map[string]string{"patient_id": "2002", "pin": pin.Pin}, "id", enq.Ticket.ID)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = do(t, env.workflow.Depart, "POST", "/api/tickets/x/depart", arrive, "id", enq.Ticket.ID)
	require.Equal(t, http.StatusOK, code)
	var routed services.RouteResult
	require.NoError(t, json.Unmarshal(resp.Data, &routed))
	assert.Equal(t, "b", routed.NextClinic)

	code, _ = do(t, env.queue.CallNext, "POST", "/api/clinics/b/call-next", nil, "id", "b")
	require.Equal(t, http.StatusOK, code)

	code, resp = do(t, env.workflow.ScanCode, "POST", "/api/patients/1001/scan",
		map[string]string{"code": "b"}, "id", "1001")
	require.Equal(t, http.StatusOK, code)
	var scanned services.CodeResult
	require.NoError(t, json.Unmarshal(resp.Data, &scanned))
	assert.Equal(t, services.CodeActionCheckedIn, scanned.Action)

	code, resp = do(t, env.workflow.RouteToNext, "POST", "/api/patients/1001/route-next",
		map[string]string{"clinic_id": "b"}, "id", "1001")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &routed))
	assert.True(t, routed.Completed)

	code, resp = do(t, env.workflow.PatientStatus, "GET", "/api/patients/1001/status", nil, "id", "1001")
	require.Equal(t, http.StatusOK, code)
	var status services.PatientStatus
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.True(t, status.Route.IsComplete)
	assert.Equal(t, 100, status.Route.Progress)
}

func TestWorkflowHandler_Validation(t *testing.T) {
	env := newTestEnv(t)

	code, resp := do(t, env.workflow.EnqueuePatient, "POST", "/api/patients/enqueue",
		map[string]interface{}{"patient_id": "1001", "exam_type": "general", "gender": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", resp.Reason)

	code, resp = do(t, env.workflow.EnqueuePatient, "POST", "/api/patients/enqueue",
		map[string]interface{}{"patient_id": "1001", "exam_type": "dental", "gender": "male"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no_route_template", resp.Reason)

	code, resp = do(t, env.workflow.Emergency, "POST", "/api/patients/1001/emergency",
		map[string]string{"code": "123"}, "id", "1001")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_emergency_code", resp.Reason)

	code, resp = do(t, env.workflow.PickClinic, "GET", "/api/routes/general/steps/zero/clinic?gender=male", nil,
		"exam", "general", "step", "zero")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWorkflowHandler_Routes(t *testing.T) {
	env := newTestEnv(t)

	code, resp := do(t, env.workflow.GetExamRoute, "GET", "/api/routes/general?gender=male", nil, "exam", "general")
	require.Equal(t, http.StatusOK, code)
	var entries []entities.RouteTemplateEntry
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	assert.Len(t, entries, 2)

	code, resp = do(t, env.workflow.PickClinic, "GET", "/api/routes/general/steps/2/clinic?gender=male", nil,
		"exam", "general", "step", "2")
	require.Equal(t, http.StatusOK, code)
	var picked map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &picked))
	assert.Equal(t, "b", picked["clinic_id"])
}

func TestAdminHandler_SettingsAndTick(t *testing.T) {
	env := newTestEnv(t)

	code, resp := do(t, env.admin.UpdateSetting, "PUT", "/api/admin/settings/grace_minutes",
		map[string]string{"value": "8"}, "key", "grace_minutes")
	require.Equal(t, http.StatusOK, code)

	code, resp = do(t, env.admin.UpdateSetting, "PUT", "/api/admin/settings/grace_minutes",
		map[string]string{"value": "-1"}, "key", "grace_minutes")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, env.admin.GetSettings, "GET", "/api/admin/settings", nil)
	require.Equal(t, http.StatusOK, code)
	var raw map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &raw))
	assert.Equal(t, "8", raw["grace_minutes"])

	code, _ = do(t, env.queue.Enqueue, "POST", "/api/clinics/b/queue",
		map[string]interface{}{"patient_id": "1001"}, "id", "b")
	require.Equal(t, http.StatusCreated, code)

	code, resp = do(t, env.admin.Tick, "POST", "/api/admin/tick", nil)
	require.Equal(t, http.StatusOK, code)
	var report services.TickReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	if !report.Skipped {
		assert.Equal(t, 1, report.Called)
	}
}
