package saemetrics_test

import (
	"fmt"
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/saemetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_counts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	c, err := saemetrics.NewCollector(reg)
	require.NoError(t, err)

	c.RoundFinalized()
	c.IterationStarted()
	c.IterationStarted()
	c.StepTimedOut(saconsensus.StepFirstReduction)
	c.MessageRejected(fmt.Errorf("wrapped: %w", saconsensus.ErrPastEvent))
	c.MessageRejected(saconsensus.ErrInvalidSignature)
	c.AgreementMinted()
	c.AggrAgreement(true)
	c.HigherRoundObserved()

	n, err := testutil.GatherAndCount(reg, "gsa_iterations_started_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "/" + lp.GetValue()
			}
			got[name] = m.GetCounter().GetValue()
		}
	}

	require.Equal(t, 1.0, got["gsa_rounds_finalized_total"])
	require.Equal(t, 2.0, got["gsa_iterations_started_total"])
	require.Equal(t, 1.0, got["gsa_step_timeouts_total/reduction1"])
	require.Equal(t, 1.0, got["gsa_messages_rejected_total/past_event"])
	require.Equal(t, 1.0, got["gsa_messages_rejected_total/invalid_signature"])
	require.Equal(t, 1.0, got["gsa_agreements_minted_total"])
	require.Equal(t, 1.0, got["gsa_aggr_agreements_total/local"])
	require.Equal(t, 1.0, got["gsa_higher_round_observed_total"])
}

func TestCollector_nilIsNoop(t *testing.T) {
	t.Parallel()

	var c *saemetrics.Collector
	require.NotPanics(t, func() {
		c.RoundFinalized()
		c.MessageRejected(saconsensus.ErrPastEvent)
		c.StepTimedOut(saconsensus.StepSelection)
		c.AggrAgreement(false)
		c.HigherRoundObserved()
	})
}

func TestCollector_doubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := saemetrics.NewCollector(reg)
	require.NoError(t, err)

	_, err = saemetrics.NewCollector(reg)
	require.Error(t, err)
}
