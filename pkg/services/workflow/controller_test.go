package workflow

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/de-tools/aaflow/pkg/bus"
	"github.com/de-tools/aaflow/pkg/lock"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/scheduler"
	"github.com/de-tools/aaflow/pkg/services/consent"
	"github.com/de-tools/aaflow/pkg/services/dataflow"
	"github.com/de-tools/aaflow/pkg/services/fi"
	"github.com/de-tools/aaflow/pkg/services/readiness"
	"github.com/de-tools/aaflow/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const decryptedEquities = `{"account":{"type":"equities","linkedAccRef":"L1","transactions":{"transactions":[
{"isin":"INE001A01036","companyName":"Acme Ltd","strikePrice":"1500"},
{"isin":"INE002A01018","companyName":"Beta Corp","strikePrice":"??"}]}}}`

// fakeAA stands in for the data provider and the key custody service.
type fakeAA struct {
	mu         sync.Mutex
	fiRequests []api.FIRequest
	fetches    int
}

func (f *fakeAA) GetSignedConsent(_ context.Context, consentID string) (string, error) {
	return "eyJhbGciOiJSUzI1NiJ9..sig-" + consentID, nil
}

func (f *fakeAA) RequestFIData(_ context.Context, req api.FIRequest) (*api.FIRequestResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fiRequests = append(f.fiRequests, req)
	return &api.FIRequestResponse{TxnID: req.TxnID, ConsentID: req.Consent.ID, SessionID: "S1"}, nil
}

func (f *fakeAA) GenerateKey(context.Context) (*api.GenerateKeyResponse, error) {
	return &api.GenerateKeyResponse{
		PrivateKey:  "our-private",
		KeyMaterial: domain.KeyMaterial{CryptoAlg: "ECDH", Curve: "Curve25519", Nonce: "our-nonce"},
	}, nil
}

func (f *fakeAA) FetchFIData(_ context.Context, sessionID string) (*api.FIFetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return &api.FIFetchResponse{TxnID: "T-" + sessionID, FI: []api.EncryptedFIItem{{
		FipID:       "FIP-1",
		KeyMaterial: domain.KeyMaterial{Nonce: "fip-nonce"},
		Data:        []api.EncryptedBlock{{LinkRefNumber: "ref-1", EncryptedFI: "cipher"}},
	}}}, nil
}

func (f *fakeAA) Decrypt(context.Context, api.DecryptRequest) (*api.DecryptResponse, error) {
	return &api.DecryptResponse{Base64Data: base64.StdEncoding.EncodeToString([]byte(decryptedEquities))}, nil
}

type harness struct {
	store      *memory.Store
	bus        *bus.MemoryBus
	queue      *scheduler.MemoryQueue
	aa         *fakeAA
	consent    *consent.Stage
	dispatcher *readiness.Dispatcher
	ctrl       *DefaultController
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: memory.NewStore(),
		bus:   bus.NewMemoryBus(),
		queue: scheduler.NewMemoryQueue(),
		aa:    &fakeAA{},
	}
	require.NoError(t, h.store.CreateWorkflow(context.Background(), &domain.WorkflowRecord{
		WorkflowID:  "W1",
		UserRef:     "U1",
		ConsentFlow: domain.ConsentFlow{ConsentHandle: "H1"},
		ConsentItem: domain.ConsentItem{ConsentDetail: domain.ConsentDetail{
			FIDataRange: domain.DateRange{From: "2021-01-01", To: "2021-06-01"},
		}},
	}))

	flow := dataflow.NewStage(h.store, h.aa, h.aa, nil)
	h.consent = consent.NewStage(h.store, flow, h.queue, consent.Config{})
	h.dispatcher = readiness.NewDispatcher(h.store, h.bus, nil)
	pipeline := fi.NewPipeline(h.store, h.aa, h.aa, nil, lock.NewMemoryLocker(), nil, fi.Config{})
	h.ctrl = NewController(h.bus, pipeline, nil)
	return h
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	t.Cleanup(func() { _ = h.ctrl.Stop(ctx) })

	res, err := h.consent.HandleNotification(ctx, api.ConsentStatusNotification{
		ConsentStatus: "ACTIVE", ConsentID: "C1", ConsentHandle: "H1",
	})
	require.NoError(t, err)
	assert.Equal(t, "W1", res.WorkflowID)

	rec, err := h.store.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "S1", rec.DataFlow.SessionID)
	assert.Equal(t, domain.WorkflowStatusPending, rec.Status)

	require.Len(t, h.aa.fiRequests, 1)
	req := h.aa.fiRequests[0]
	assert.Equal(t, domain.DateRange{From: "2021-01-01", To: "2021-06-01"}, req.FIDataRange)
	assert.Equal(t, api.FIRequestConsent{ID: "C1", DigitalSignature: "sig-C1"}, req.Consent)

	_, err = h.dispatcher.OnProviderNotification(ctx, api.FIStatusNotification{SessionID: "S1", SessionStatus: "COMPLETED"})
	require.NoError(t, err)

	rec, err = h.store.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusSuccess, rec.Status)

	holdings, err := h.store.ListHoldings(ctx, "W1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.LinkedHolding{
		{WorkflowID: "W1", UserRef: "U1", ISIN: "INE001A01036", Name: "Acme Ltd", AveragePrice: 1500},
		{WorkflowID: "W1", UserRef: "U1", ISIN: "INE002A01018", Name: "Beta Corp", AveragePrice: 200},
	}, holdings)
}

func TestConvergence(t *testing.T) {
	orders := map[string][]string{
		"provider first": {readiness.SourceProvider, readiness.SourceFallback},
		"fallback first": {readiness.SourceFallback, readiness.SourceProvider},
		"provider only":  {readiness.SourceProvider},
		"fallback only":  {readiness.SourceFallback},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			require.NoError(t, h.ctrl.Start(ctx))
			t.Cleanup(func() { _ = h.ctrl.Stop(ctx) })

			_, err := h.consent.HandleNotification(ctx, api.ConsentStatusNotification{
				ConsentStatus: "ACTIVE", ConsentID: "C1", ConsentHandle: "H1",
			})
			require.NoError(t, err)

			for _, source := range order {
				switch source {
				case readiness.SourceProvider:
					_, err = h.dispatcher.OnProviderNotification(ctx, api.FIStatusNotification{SessionID: "S1"})
				case readiness.SourceFallback:
					err = h.dispatcher.OnFallbackTimer(ctx, "W1")
				}
				require.NoError(t, err)
			}

			rec, err := h.store.GetWorkflow(ctx, "W1")
			require.NoError(t, err)
			assert.Equal(t, domain.WorkflowStatusSuccess, rec.Status)

			holdings, err := h.store.ListHoldings(ctx, "W1")
			require.NoError(t, err)
			assert.Len(t, holdings, 2)
			assert.Equal(t, 1, h.aa.fetches)
		})
	}
}

func TestFallbackLoopFiresDispatcher(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.consent.HandleNotification(ctx, api.ConsentStatusNotification{
		ConsentStatus: "ACTIVE", ConsentID: "C1", ConsentHandle: "H1",
	})
	require.NoError(t, err)

	// Re-arm with an immediate due time so the loop picks it up.
	_, err = h.queue.ClaimDue(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.NoError(t, h.queue.Schedule(ctx, scheduler.Task{Name: "W1", WorkflowID: "W1", ScheduleTime: time.Now()}))

	runner := scheduler.NewRunner(h.queue, h.dispatcher.OnFallbackTimer, scheduler.RunnerConfig{PollInterval: 5 * time.Millisecond})
	ctrl := NewController(h.bus, fi.NewPipeline(h.store, h.aa, h.aa, nil, lock.NewMemoryLocker(), nil, fi.Config{}),
		map[string]Loop{LoopFallback: runner})
	require.NoError(t, ctrl.Start(ctx))

	assert.Eventually(t, func() bool {
		rec, err := h.store.GetWorkflow(ctx, "W1")
		return err == nil && rec.Status == domain.WorkflowStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.Stop(ctx))
}

func TestControllerStartTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	assert.Error(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Stop(ctx))
}
