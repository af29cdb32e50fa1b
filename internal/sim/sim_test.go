package sim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func newTestSim() (*Sim, []byte, []byte) {
	coils := make([]byte, 32)
	inputs := make([]byte, 32)
	cfg := &config.EdgeConfig{
		Lamps: []config.LampConfig{{Name: "hall", RelayPin: 0}},
		Shutters: []config.ShutterConfig{
			{Name: "living", RelayUpPin: 1, RelayDownPin: 2, ButtonUpPin: intp(4), ButtonDownPin: intp(5)},
		},
	}
	return New(NewBank(coils, inputs), cfg), coils, inputs
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRelaysReportsFault(t *testing.T) {
	s, coils, _ := newTestSim()
	coils[0] = 1
	coils[1] = 1
	coils[2] = 1

	rec := do(t, s.Handler(), http.MethodGet, "/relays")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []RelayState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.True(t, got[0].Coils["relay"])
	assert.Equal(t, "both directions energized", got[1].Fault)
}

func TestShutterButtonPressRelease(t *testing.T) {
	s, _, inputs := newTestSim()
	h := s.Handler()

	rec := do(t, h, http.MethodPut, "/shutter/living/button/down/press")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, byte(1), inputs[5])

	rec = do(t, h, http.MethodPut, "/shutter/living/button/down/release")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, byte(0), inputs[5])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/shutter/attic/button/up/press").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/shutter/living/button/left/press").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/shutter/living/button/up/hold").Code)
}

func TestInputEndpoints(t *testing.T) {
	s, coils, inputs := newTestSim()
	h := s.Handler()
	coils[3] = 1

	rec := do(t, h, http.MethodGet, "/coil/3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"value":true}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/input/7/press").Code)
	assert.Equal(t, byte(1), inputs[7])
	rec = do(t, h, http.MethodGet, "/input/7")
	assert.JSONEq(t, `{"value":true}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/coil/99").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/coil/x").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/input/1/press/long").Code)
}

func TestBankPressReleasesAfterHold(t *testing.T) {
	s, _, _ := newTestSim()
	require.NoError(t, s.Bank.Press(6, 20*time.Millisecond))

	on, err := s.Bank.Input(6)
	require.NoError(t, err)
	assert.True(t, on)

	assert.Eventually(t, func() bool {
		on, _ := s.Bank.Input(6)
		return !on
	}, time.Second, 5*time.Millisecond)
}
