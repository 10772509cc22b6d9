package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Send(nil)
	m.Send(errors.New("boom"))
	m.Blocked()
	m.CacheLookup("sentiment", true)
	m.CacheLookup("sentiment", false)
	m.InFlight(2)

	want := `
# HELP chat_sends_total Messages sent by result.
# TYPE chat_sends_total counter
chat_sends_total{result="blocked"} 1
chat_sends_total{result="error"} 1
chat_sends_total{result="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "chat_sends_total"); err != nil {
		t.Error(err)
	}
	if got := testutil.ToFloat64(m.composing); got != 2 {
		t.Errorf("Got in flight %v, want 2", got)
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.Send(nil)
	m.Analysis("entities", nil)
	m.Reply(errors.New("boom"))
	m.StoreEvent("added")
	m.InFlight(1)
}
