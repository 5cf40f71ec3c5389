package fi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/de-tools/aaflow/pkg/lock"
	"github.com/de-tools/aaflow/pkg/metrics"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	response *api.FIFetchResponse
	err      error
	sessions []string
}

func (f *fakeProvider) FetchFIData(_ context.Context, sessionID string) (*api.FIFetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	return f.response, f.err
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeDecrypter maps ciphertext to plaintext; unknown ciphertext fails.
type fakeDecrypter struct {
	mu       sync.Mutex
	plain    map[string]string
	requests []api.DecryptRequest
}

func (f *fakeDecrypter) Decrypt(_ context.Context, req api.DecryptRequest) (*api.DecryptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	plain, ok := f.plain[req.Base64Data]
	if !ok {
		return nil, &domain.ProviderError{Service: "rahasya", Op: "decrypt", StatusCode: 500, Err: errors.New("bad block")}
	}
	return &api.DecryptResponse{Base64Data: base64.StdEncoding.EncodeToString([]byte(plain))}, nil
}

var (
	ourKey    = domain.KeyMaterial{CryptoAlg: "ECDH", Curve: "Curve25519", Nonce: "our-nonce"}
	remoteKey = domain.KeyMaterial{CryptoAlg: "ECDH", Curve: "Curve25519", Nonce: "fip-nonce"}
)

func seedReady(t *testing.T, store *memory.Store) {
	t.Helper()
	key := ourKey
	require.NoError(t, store.CreateWorkflow(context.Background(), &domain.WorkflowRecord{
		WorkflowID: "W1",
		UserRef:    "U1",
		DataFlow:   domain.DataFlow{SessionID: "S1", KeyMaterial: &key, PrivateKey: "our-private"},
	}))
}

func fetchOf(items ...api.EncryptedFIItem) *api.FIFetchResponse {
	return &api.FIFetchResponse{Ver: "1.0", TxnID: "T1", FI: items}
}

func item(fipID string, blocks ...string) api.EncryptedFIItem {
	it := api.EncryptedFIItem{FipID: fipID, KeyMaterial: remoteKey}
	for _, b := range blocks {
		it.Data = append(it.Data, api.EncryptedBlock{LinkRefNumber: "ref-" + b, EncryptedFI: b})
	}
	return it
}

func newTestPipeline(store *memory.Store, provider FIProvider, decrypter Decrypter, locker lock.Locker) *Pipeline {
	p := NewPipeline(store, provider, decrypter, nil, locker, nil, Config{
		LockWait:          50 * time.Millisecond,
		LockRetryInterval: 5 * time.Millisecond,
	})
	n := 0
	p.newID = func() string {
		n++
		return fmt.Sprintf("raw-%d", n)
	}
	p.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return p
}

func TestProcess_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	provider := &fakeProvider{response: fetchOf(
		item("FIP-1", "enc-1"),
		item("FIP-2", "enc-broken"),
		item("FIP-3", "enc-3"),
	)}
	decrypter := &fakeDecrypter{plain: map[string]string{
		"enc-1": equitiesObject,
		"enc-3": mutualFundsObject,
	}}

	res, err := newTestPipeline(store, provider, decrypter, lock.NewMemoryLocker()).Process(ctx, "W1")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, "T1", res.TxnID)
	assert.Equal(t, 3, res.Blocks)
	assert.Len(t, res.Holdings, 4)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "FIP-2", res.Failures[0].FipID)
	assert.Equal(t, StageDecrypt, res.Failures[0].Stage)
	assert.Equal(t, "ref-enc-broken", res.Failures[0].LinkRefNumber)
	assert.True(t, domain.IsProviderError(res.Failures[0].Err))

	rec, err := store.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusSuccess, rec.Status)

	holdings, err := store.ListHoldings(ctx, "W1")
	require.NoError(t, err)
	assert.Len(t, holdings, 4)
	for _, h := range holdings {
		assert.Equal(t, "U1", h.UserRef)
	}
	assert.Len(t, store.RawExtracts(), 2)

	require.NotEmpty(t, decrypter.requests)
	assert.Equal(t, api.DecryptRequest{
		Base64Data:        "enc-1",
		Base64RemoteNonce: "fip-nonce",
		Base64YourNonce:   "our-nonce",
		OurPrivateKey:     "our-private",
		RemoteKeyMaterial: remoteKey,
	}, decrypter.requests[0])
}

func TestProcess_IdempotentAfterSuccess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	provider := &fakeProvider{response: fetchOf(item("FIP-1", "enc-1"))}
	decrypter := &fakeDecrypter{plain: map[string]string{"enc-1": equitiesObject}}
	p := newTestPipeline(store, provider, decrypter, lock.NewMemoryLocker())

	_, err := p.Process(ctx, "W1")
	require.NoError(t, err)

	res, err := p.Process(ctx, "W1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, provider.calls())

	holdings, err := store.ListHoldings(ctx, "W1")
	require.NoError(t, err)
	assert.Len(t, holdings, 2)
}

func TestProcess_SkipsWhileLockedPastWait(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	locker := lock.NewMemoryLocker()
	_, err := locker.Acquire(ctx, "fi:W1", time.Minute)
	require.NoError(t, err)

	provider := &fakeProvider{response: fetchOf()}
	res, err := newTestPipeline(store, provider, &fakeDecrypter{}, locker).Process(ctx, "W1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "in progress", res.Reason)
	assert.Zero(t, provider.calls())
}

// gatedProvider holds the first fetch until released and fails it.
type gatedProvider struct {
	fakeProvider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedProvider) FetchFIData(ctx context.Context, sessionID string) (*api.FIFetchResponse, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
		g.fakeProvider.mu.Lock()
		g.fakeProvider.sessions = append(g.fakeProvider.sessions, sessionID)
		g.fakeProvider.mu.Unlock()
		return nil, &domain.ProviderError{Service: "setu", Op: "fetch FI data", StatusCode: 503, Err: errors.New("transient")}
	}
	return g.fakeProvider.FetchFIData(ctx, sessionID)
}

// contendedLocker reports every refused acquisition.
type contendedLocker struct {
	lock.Locker
	refused chan struct{}
}

func (c *contendedLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	lease, err := c.Locker.Acquire(ctx, key, ttl)
	if errors.Is(err, lock.ErrNotAcquired) {
		select {
		case c.refused <- struct{}{}:
		default:
		}
	}
	return lease, err
}

func TestProcess_WaitingTriggerRetriesAfterHolderFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	provider := &gatedProvider{
		fakeProvider: fakeProvider{response: fetchOf()},
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	locker := &contendedLocker{Locker: lock.NewMemoryLocker(), refused: make(chan struct{}, 1)}
	p := newTestPipeline(store, provider, &fakeDecrypter{}, locker)
	p.config.LockWait = 5 * time.Second

	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Process(ctx, "W1")
		firstErr <- err
	}()
	<-provider.entered

	type outcome struct {
		res *BatchResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := p.Process(ctx, "W1")
		second <- outcome{res, err}
	}()
	<-locker.refused
	close(provider.release)

	assert.True(t, domain.IsProviderError(<-firstErr))
	got := <-second
	require.NoError(t, got.err)
	assert.False(t, got.res.Skipped)
	assert.Equal(t, "T1", got.res.TxnID)
	assert.Equal(t, 2, provider.calls())

	rec, err := store.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusSuccess, rec.Status)
}

func TestProcess_WaitingTriggerSeesSuccess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	locker := lock.NewMemoryLocker()
	lease, err := locker.Acquire(ctx, "fi:W1", time.Minute)
	require.NoError(t, err)

	provider := &fakeProvider{response: fetchOf()}
	p := newTestPipeline(store, provider, &fakeDecrypter{}, locker)
	p.config.LockWait = 5 * time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = store.UpdateStatus(ctx, "W1", domain.WorkflowStatusSuccess)
		_ = lease.Release(ctx)
	}()

	res, err := p.Process(ctx, "W1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "already processed", res.Reason)
	assert.Zero(t, provider.calls())
}

type failingSink struct{}

func (failingSink) AppendRawExtract(context.Context, domain.RawExtract) error {
	return errors.New("sink down")
}

func TestProcess_BlockWithSeveralFailuresCountsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	provider := &fakeProvider{response: fetchOf(item("FIP-1", "no-account", "mf"))}
	decrypter := &fakeDecrypter{plain: map[string]string{
		"no-account": `{"profile": {}}`,
		"mf":         `{"account": {"type": "mutual_funds", "summary": {"investment": {"holdings": {"holding": [{"isin": "INE1", "amc": "A", "nav": "10"}]}}}}}`,
	}}

	reg := prometheus.NewRegistry()
	p := newTestPipeline(store, provider, decrypter, lock.NewMemoryLocker())
	p.rawSink = failingSink{}
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)
	p.metrics = m

	res, err := p.Process(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Blocks)
	assert.Len(t, res.Failures, 3)
	assert.Equal(t, 2, res.FailedBlocks)
	assert.Equal(t, StagePersist, res.Failures[0].Stage)
	assert.Equal(t, StageExtract, res.Failures[1].Stage)
	assert.Len(t, res.Holdings, 1)

	expected := `
# HELP aaflow_pipeline_items_total Encrypted blocks processed
# TYPE aaflow_pipeline_items_total counter
aaflow_pipeline_items_total{outcome="error"} 2
aaflow_pipeline_items_total{outcome="ok"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "aaflow_pipeline_items_total"))
}

func TestProcess_FetchFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	provider := &fakeProvider{err: &domain.ProviderError{Service: "setu", Op: "fetch FI data", StatusCode: 502}}
	_, err := newTestPipeline(store, provider, &fakeDecrypter{}, lock.NewMemoryLocker()).Process(ctx, "W1")
	assert.True(t, domain.IsProviderError(err))

	rec, err := store.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusPending, rec.Status)
}

func TestProcess_UnsupportedTypeAndBadPayloads(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReady(t, store)

	provider := &fakeProvider{response: fetchOf(item("FIP-1", "loans", "garbage", "no-account"))}
	decrypter := &fakeDecrypter{plain: map[string]string{
		"loans":      `{"account": {"type": "loans"}}`,
		"garbage":    `not json`,
		"no-account": `{"profile": {}}`,
	}}

	res, err := newTestPipeline(store, provider, decrypter, lock.NewMemoryLocker()).Process(ctx, "W1")
	require.NoError(t, err)
	assert.Empty(t, res.Holdings)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, StageDecode, res.Failures[0].Stage)
	assert.Equal(t, 1, res.Failures[0].BlockIndex)
	assert.Equal(t, StageExtract, res.Failures[1].Stage)
	assert.ErrorIs(t, res.Failures[1].Err, domain.ErrExtraction)

	rec, err := store.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusSuccess, rec.Status)
	assert.Len(t, store.RawExtracts(), 2)
}

func TestProcess_MissingSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateWorkflow(ctx, &domain.WorkflowRecord{WorkflowID: "W1"}))

	_, err := newTestPipeline(store, &fakeProvider{}, &fakeDecrypter{}, lock.NewMemoryLocker()).Process(ctx, "W1")
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestProcess_UnknownWorkflow(t *testing.T) {
	_, err := newTestPipeline(memory.NewStore(), &fakeProvider{}, &fakeDecrypter{}, lock.NewMemoryLocker()).
		Process(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
