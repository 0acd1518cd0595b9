package metrics

import (
	stderrors "errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-startup/pkg/startup"
)

func TestObserver_Actions(t *testing.T) {
	o := NewObserver()

	o.ActionIssued("a", startup.ActionEnable, nil)
	o.ActionIssued("b", startup.ActionEnable, stderrors.New("boom"))
	o.ActionIssued("c", startup.ActionDisableAndPersist, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(o.actions.WithLabelValues(string(startup.ActionEnable))))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.actionErrors.WithLabelValues(string(startup.ActionEnable))))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.actions.WithLabelValues(string(startup.ActionDisableAndPersist))))
}

func TestObserver_Timers(t *testing.T) {
	o := NewObserver()

	o.TimerArmed("a", startup.ClassShortDelay, 5*time.Second)
	o.TimerArmed("b", startup.ClassLongDelay, 15*time.Second)
	o.TimersPending(2)
	o.TimerFired("a", true)
	o.TimerFired("b", false)
	o.TimersPending(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.timersArmed.WithLabelValues("short_delay")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.timersFired.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.timersFired.WithLabelValues("false")))
	assert.Equal(t, 0.0, testutil.ToFloat64(o.timersPending))
}

func TestObserver_LoadOrder(t *testing.T) {
	o := NewObserver()

	o.LoadOrderComputed(4, false)
	o.LoadOrderComputed(3, true)

	assert.Equal(t, 3.0, testutil.ToFloat64(o.loadOrderUnits))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.loadOrderTruncate))
}

func TestObserver_Handler(t *testing.T) {
	o := NewObserver()
	o.TimersPending(7)

	recorder := httptest.NewRecorder()
	o.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, recorder.Code)
	body, err := io.ReadAll(recorder.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hsu_startup_timers_pending 7")
}

func TestObserver_Separate(t *testing.T) {
	first := NewObserver()
	second := NewObserver()

	first.TimersPending(1)

	assert.Equal(t, 0.0, testutil.ToFloat64(second.timersPending))
}
