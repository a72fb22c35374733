package subgraph

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	types.ChainService
	id   types.ChainID
	head uint64
}

func (f *fakeChain) ChainID() types.ChainID { return f.id }

func (f *fakeChain) GetBlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

type fakeChains map[types.ChainID]types.ChainService

func (f fakeChains) Get(chainID types.ChainID) (types.ChainService, error) {
	chain, ok := f[chainID]
	if !ok {
		return nil, errors.New(errors.KindChainNotSupported, "chain not configured")
	}
	return chain, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// graphServer answers every GraphQL POST with the given data payload.
func graphServer(t *testing.T, data string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":` + data + `}`))
	}))
}

func newTestSubgraph(t *testing.T, chainID types.ChainID, endpoints []string, head uint64, buffer uint64) *Subgraph {
	t.Helper()
	configs := map[types.ChainID]*types.ChainConfig{
		chainID: {ChainID: chainID, Subgraph: endpoints, SubgraphSyncBuffer: buffer},
	}
	chains := fakeChains{chainID: &fakeChain{id: chainID, head: head}}
	s, err := New(configs, chains, "0xAbCd00000000000000000000000000000000Ef12", testLogger())
	require.NoError(t, err)
	return s
}

func TestNewRequiresEndpoints(t *testing.T) {
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337},
	}
	_, err := New(configs, fakeChains{}, "0xrouter", testLogger())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfigurationError))
}

func TestQueryFallsBackAcrossEndpoints(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer dead.Close()

	alive := graphServer(t, `{"assetBalance":{"id":"x","amount":"42"}}`)
	defer alive.Close()

	s := newTestSubgraph(t, 1337, []string{dead.URL, alive.URL}, 100, 10)

	balance, err := s.GetAssetBalance(context.Background(), "0x00000000000000000000000000000000000000aa", 1337)
	require.NoError(t, err)
	assert.Equal(t, "42", balance.String())
}

func TestQuerySurfacesGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"store is unavailable"}]}`))
	}))
	defer server.Close()

	s := newTestSubgraph(t, 1337, []string{server.URL}, 100, 10)

	_, err := s.GetAssetBalance(context.Background(), "0xaa", 1337)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is unavailable")
}

func TestGetAssetBalanceUnknownAssetIsZero(t *testing.T) {
	server := graphServer(t, `{"assetBalance":null}`)
	defer server.Close()

	s := newTestSubgraph(t, 1337, []string{server.URL}, 100, 10)

	balance, err := s.GetAssetBalance(context.Background(), "0xaa", 1337)
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())
}

func TestGetSyncRecordsComputesLag(t *testing.T) {
	server := graphServer(t, `{"_meta":{"block":{"number":95}}}`)
	defer server.Close()

	tests := []struct {
		name   string
		buffer uint64
		synced bool
	}{
		{name: "within buffer", buffer: 10, synced: true},
		{name: "beyond buffer", buffer: 3, synced: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSubgraph(t, 1337, []string{server.URL}, 100, tt.buffer)

			records, err := s.GetSyncRecords(context.Background(), 1337)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, uint64(100), records[0].LatestBlock)
			assert.Equal(t, uint64(95), records[0].SyncedBlock)
			assert.Equal(t, uint64(5), records[0].Lag)
			assert.Equal(t, tt.synced, records[0].Synced)
		})
	}
}

func TestGetSyncRecordsReportsDeadEndpointUnsynced(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	alive := graphServer(t, `{"_meta":{"block":{"number":100}}}`)
	defer alive.Close()

	s := newTestSubgraph(t, 1337, []string{dead.URL, alive.URL}, 100, 10)

	synced, records, err := s.IsSynced(context.Background(), 1337)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, records[0].Synced)
	assert.True(t, records[1].Synced)
	assert.True(t, synced)
}

const sampleEntity = `{
  "id": "0x0100-0xuser-0xrouter",
  "status": "Prepared",
  "chainId": "1337",
  "preparedTimestamp": "1700000000",
  "user": {"id": "0x00000000000000000000000000000000000000u1"},
  "router": {"id": "0x00000000000000000000000000000000000000r1"},
  "initiator": "0x00000000000000000000000000000000000000u1",
  "receivingChainTxManagerAddress": "0x00000000000000000000000000000000000000tm",
  "sendingAssetId": "0x00000000000000000000000000000000000000aa",
  "receivingAssetId": "0x00000000000000000000000000000000000000bb",
  "sendingChainFallback": "0x00000000000000000000000000000000000000u1",
  "receivingAddress": "0x00000000000000000000000000000000000000u1",
  "callTo": "0x0000000000000000000000000000000000000000",
  "callDataHash": "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
  "transactionId": "0x0100000000000000000000000000000000000000000000000000000000000000",
  "sendingChainId": "1337",
  "receivingChainId": "1338",
  "amount": "1000000000000000000",
  "expiry": "1700100000",
  "preparedBlockNumber": "77",
  "encryptedCallData": "0x",
  "encodedBid": "0x",
  "bidSignature": "0x",
  "relayerFee": "",
  "signature": "",
  "callData": "",
  "cancelledNoFunds": false
}`

func TestGetTransactionForChainDecodesRecord(t *testing.T) {
	server := graphServer(t, `{"transaction":`+sampleEntity+`}`)
	defer server.Close()

	s := newTestSubgraph(t, 1337, []string{server.URL}, 100, 10)

	record, err := s.GetTransactionForChain(context.Background(), "0x0100", "0xUser", 1337)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, types.StatusPrepared, record.Status)
	assert.Equal(t, types.ChainID(1337), record.Invariant.SendingChainID)
	assert.Equal(t, types.ChainID(1338), record.Invariant.ReceivingChainID)
	assert.Equal(t, types.ChainID(1337), record.ChainID)
	assert.Equal(t, "1000000000000000000", record.Variant.Amount.String())
	assert.Equal(t, uint64(77), record.Variant.PreparedBlockNumber)
	assert.Equal(t, uint64(1700000000), record.PreparedTimestamp)
	assert.Equal(t, "0x00000000000000000000000000000000000000u1", record.Invariant.User)
}

func TestGetTransactionForChainAbsentIsNil(t *testing.T) {
	server := graphServer(t, `{"transaction":null}`)
	defer server.Close()

	s := newTestSubgraph(t, 1337, []string{server.URL}, 100, 10)

	record, err := s.GetTransactionForChain(context.Background(), "0x0100", "0xUser", 1337)
	require.NoError(t, err)
	assert.Nil(t, record)
}

type fakeSource struct {
	records      map[types.TransactionStatus][]*types.TransactionRecord
	counterparts map[string]*types.TransactionRecord
}

func (f *fakeSource) getRouterTransactions(ctx context.Context, chainID types.ChainID, status types.TransactionStatus, since uint64) ([]*types.TransactionRecord, error) {
	return f.records[status], nil
}

func (f *fakeSource) GetTransactionForChain(ctx context.Context, transactionID, user string, chainID types.ChainID) (*types.TransactionRecord, error) {
	return f.counterparts[transactionID], nil
}

func (f *fakeSource) ChainIDs() []types.ChainID {
	return []types.ChainID{1337}
}

func makeRecord(txID string, status types.TransactionStatus, block uint64) *types.TransactionRecord {
	return &types.TransactionRecord{
		Invariant: types.InvariantTransactionData{
			TransactionID:    txID,
			User:             "0xuser",
			Router:           "0xrouter",
			SendingChainID:   1337,
			ReceivingChainID: 1338,
		},
		Variant: types.VariantTransactionData{
			Amount:              big.NewInt(1000),
			Expiry:              1700100000,
			PreparedBlockNumber: block,
		},
		ChainID: 1337,
		Status:  status,
	}
}

func newTestTracker(source recordSource) (*Tracker, *[]types.TransactionEvent) {
	tracker := &Tracker{
		logger: testLogger(),
		source: source,
		seen:   make(map[seenKey]types.TransactionStatus),
	}
	events := new([]types.TransactionEvent)
	tracker.Subscribe(func(event types.TransactionEvent) {
		*events = append(*events, event)
	})
	return tracker, events
}

func TestTrackerEmitsOncePerTransition(t *testing.T) {
	source := &fakeSource{
		records: map[types.TransactionStatus][]*types.TransactionRecord{
			types.StatusPrepared: {makeRecord("0x01", types.StatusPrepared, 10)},
		},
		counterparts: map[string]*types.TransactionRecord{},
	}
	tracker, events := newTestTracker(source)

	require.NoError(t, tracker.pollChain(context.Background(), 1337))
	require.Len(t, *events, 1)
	assert.Equal(t, types.EventSenderPrepared, (*events)[0].Kind)
	assert.Nil(t, (*events)[0].Counterpart)

	// Same snapshot again: no new events.
	require.NoError(t, tracker.pollChain(context.Background(), 1337))
	assert.Len(t, *events, 1)

	// The record moves to Fulfilled: exactly one more event.
	source.records = map[types.TransactionStatus][]*types.TransactionRecord{
		types.StatusFulfilled: {makeRecord("0x01", types.StatusFulfilled, 10)},
	}
	require.NoError(t, tracker.pollChain(context.Background(), 1337))
	require.Len(t, *events, 2)
	assert.Equal(t, types.EventSenderFulfilled, (*events)[1].Kind)
}

func TestTrackerOrdersEventsByBlock(t *testing.T) {
	source := &fakeSource{
		records: map[types.TransactionStatus][]*types.TransactionRecord{
			types.StatusPrepared: {
				makeRecord("0x03", types.StatusPrepared, 30),
				makeRecord("0x01", types.StatusPrepared, 10),
				makeRecord("0x02", types.StatusPrepared, 20),
			},
		},
	}
	tracker, events := newTestTracker(source)

	require.NoError(t, tracker.pollChain(context.Background(), 1337))
	require.Len(t, *events, 3)
	assert.Equal(t, "0x01", (*events)[0].TransactionID())
	assert.Equal(t, "0x02", (*events)[1].TransactionID())
	assert.Equal(t, "0x03", (*events)[2].TransactionID())
}

func TestTrackerAttachesCounterpart(t *testing.T) {
	counterpart := makeRecord("0x01", types.StatusPrepared, 12)
	counterpart.ChainID = 1338

	source := &fakeSource{
		records: map[types.TransactionStatus][]*types.TransactionRecord{
			types.StatusPrepared: {makeRecord("0x01", types.StatusPrepared, 10)},
		},
		counterparts: map[string]*types.TransactionRecord{"0x01": counterpart},
	}
	tracker, events := newTestTracker(source)

	require.NoError(t, tracker.pollChain(context.Background(), 1337))
	require.Len(t, *events, 1)
	require.NotNil(t, (*events)[0].Counterpart)
	assert.Equal(t, types.ChainID(1338), (*events)[0].Counterpart.ChainID)
}

func TestTrackerForgetsVanishedRecords(t *testing.T) {
	source := &fakeSource{
		records: map[types.TransactionStatus][]*types.TransactionRecord{
			types.StatusPrepared: {makeRecord("0x01", types.StatusPrepared, 10)},
		},
	}
	tracker, events := newTestTracker(source)

	require.NoError(t, tracker.pollChain(context.Background(), 1337))
	require.Len(t, *events, 1)

	// Record leaves the indexer window, then reappears: emitted again.
	source.records = map[types.TransactionStatus][]*types.TransactionRecord{}
	require.NoError(t, tracker.pollChain(context.Background(), 1337))

	source.records = map[types.TransactionStatus][]*types.TransactionRecord{
		types.StatusPrepared: {makeRecord("0x01", types.StatusPrepared, 10)},
	}
	require.NoError(t, tracker.pollChain(context.Background(), 1337))
	assert.Len(t, *events, 2)
}

func TestEventKindMapping(t *testing.T) {
	tests := []struct {
		sender bool
		status types.TransactionStatus
		want   types.TransactionEventKind
	}{
		{sender: true, status: types.StatusPrepared, want: types.EventSenderPrepared},
		{sender: true, status: types.StatusFulfilled, want: types.EventSenderFulfilled},
		{sender: true, status: types.StatusCancelled, want: types.EventSenderCancelled},
		{sender: false, status: types.StatusPrepared, want: types.EventReceiverPrepared},
		{sender: false, status: types.StatusFulfilled, want: types.EventReceiverFulfilled},
		{sender: false, status: types.StatusCancelled, want: types.EventReceiverCancelled},
	}

	for _, tt := range tests {
		kind, ok := eventKind(tt.sender, tt.status)
		require.True(t, ok)
		assert.Equal(t, tt.want, kind)
	}

	_, ok := eventKind(true, types.TransactionStatus("Unknown"))
	assert.False(t, ok)
}
