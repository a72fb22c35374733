package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

func findMetric(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()

	families, err := m.registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestAuctionCountersCarryChainAndKindLabels(t *testing.T) {
	m := New()

	m.AuctionReceived(types.ChainID(4))
	m.AuctionReceived(types.ChainID(4))
	m.AuctionFailed(types.ChainID(4), errors.KindNotEnoughLiquidity)

	received := findMetric(t, m, "router_auction_received_total")
	require.NotNil(t, received)
	require.Len(t, received.Metric, 1)
	assert.Equal(t, float64(2), received.Metric[0].GetCounter().GetValue())
	require.Len(t, received.Metric[0].Label, 1)
	assert.Equal(t, "sendingChainId", received.Metric[0].Label[0].GetName())
	assert.Equal(t, "4", received.Metric[0].Label[0].GetValue())

	failed := findMetric(t, m, "router_auction_failed_total")
	require.NotNil(t, failed)
	require.Len(t, failed.Metric, 1)

	labels := map[string]string{}
	for _, label := range failed.Metric[0].Label {
		labels[label.GetName()] = label.GetValue()
	}
	assert.Equal(t, "4", labels["sendingChainId"])
	assert.Equal(t, "NotEnoughLiquidity", labels["kind"])
}

func TestActiveTransactionGaugeTracksOpenAndClose(t *testing.T) {
	m := New()

	m.TransactionOpened(types.ChainID(1))
	m.TransactionOpened(types.ChainID(1))
	m.TransactionClosed(types.ChainID(1))

	family := findMetric(t, m, "router_active_transactions")
	require.NotNil(t, family)
	require.Len(t, family.Metric, 1)
	assert.Equal(t, float64(1), family.Metric[0].GetGauge().GetValue())
}

func TestRecordSyncPublishesBothGauges(t *testing.T) {
	m := New()

	m.RecordSync(types.ChainID(137), types.SyncRecord{Synced: false, Lag: 80})
	m.RecordSync(types.ChainID(137), types.SyncRecord{Synced: true, Lag: 3})

	synced := findMetric(t, m, "router_subgraph_synced")
	require.NotNil(t, synced)
	assert.Equal(t, float64(1), synced.Metric[0].GetGauge().GetValue())

	lag := findMetric(t, m, "router_subgraph_lag_blocks")
	require.NotNil(t, lag)
	assert.Equal(t, float64(3), lag.Metric[0].GetGauge().GetValue())
}

func TestHandlerServesDispatchHistogram(t *testing.T) {
	m := New()
	m.ObserveDispatch(types.ChainID(1), types.ActionFulfill, 1500*time.Millisecond)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "router_dispatch_duration_seconds")
	assert.Contains(t, recorder.Body.String(), `kind="Fulfill"`)
}
