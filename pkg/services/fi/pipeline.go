// Package fi fetches the encrypted FI dataset of a ready workflow, decrypts
// it block by block and extracts linked holdings.
package fi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/aaflow/pkg/lock"
	"github.com/de-tools/aaflow/pkg/metrics"
	"github.com/de-tools/aaflow/pkg/models/api"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/store/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StageDecrypt = "decrypt"
	StageDecode  = "decode"
	StagePersist = "persist"
	StageExtract = "extract"
	StageAppend  = "append"

	DefaultLockTTL           = 5 * time.Minute
	DefaultLockRetryInterval = 250 * time.Millisecond
)

type FIProvider interface {
	FetchFIData(ctx context.Context, sessionID string) (*api.FIFetchResponse, error)
}

type Decrypter interface {
	Decrypt(ctx context.Context, req api.DecryptRequest) (*api.DecryptResponse, error)
}

type Config struct {
	LockTTL time.Duration
	// LockWait bounds how long a trigger waits for another holder of the
	// workflow lock. It defaults to LockTTL, after which a stuck lease expires.
	LockWait          time.Duration
	LockRetryInterval time.Duration
}

// ItemFailure is one encrypted block that did not make it to holdings.
type ItemFailure struct {
	FipID         string
	BlockIndex    int
	LinkRefNumber string
	Stage         string
	Err           error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("fip %s block %d (%s): %v", f.FipID, f.BlockIndex, f.Stage, f.Err)
}

type BatchResult struct {
	WorkflowID string
	TxnID      string
	Blocks     int
	Holdings   []domain.LinkedHolding
	// FailedBlocks counts blocks with at least one entry in Failures.
	FailedBlocks int
	Failures     []ItemFailure
	// Skipped is set when nothing was done; Reason says why.
	Skipped bool
	Reason  string
}

type Pipeline struct {
	store     workflow.Store
	provider  FIProvider
	decrypter Decrypter
	rawSink   workflow.RawExtractSink
	locker    lock.Locker
	metrics   *metrics.Metrics
	config    Config

	newID func() string
	now   func() time.Time
}

// NewPipeline builds a pipeline. A nil rawSink writes raw extracts to the store.
func NewPipeline(
	store workflow.Store,
	provider FIProvider,
	decrypter Decrypter,
	rawSink workflow.RawExtractSink,
	locker lock.Locker,
	m *metrics.Metrics,
	config Config,
) *Pipeline {
	if rawSink == nil {
		rawSink = store
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.LockWait <= 0 {
		config.LockWait = config.LockTTL
	}
	if config.LockRetryInterval <= 0 {
		config.LockRetryInterval = DefaultLockRetryInterval
	}
	return &Pipeline{
		store:     store,
		provider:  provider,
		decrypter: decrypter,
		rawSink:   rawSink,
		locker:    locker,
		metrics:   m,
		config:    config,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Process runs one readiness trigger for the workflow. A workflow already in
// SUCCESS is skipped without error. While another trigger holds the workflow
// lock, Process waits for it and re-checks, so a trigger is not lost when the
// holder fails.
// Per-block failures are collected in the result; the workflow still ends in
// SUCCESS. Only a failed FI fetch leaves it PENDING.
func (p *Pipeline) Process(ctx context.Context, workflowID string) (*BatchResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("workflow_id", workflowID).Logger()
	ctx = logger.WithContext(ctx)
	result := &BatchResult{WorkflowID: workflowID}

	rec, err := p.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		logger.Info().Msg("workflow already processed")
		return skipped(result, "already processed"), nil
	}

	lease, err := p.acquire(ctx, "fi:"+workflowID)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Warn().Dur("waited", p.config.LockWait).Msg("workflow is still being processed elsewhere")
		return skipped(result, "in progress"), nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to release processing lock")
		}
	}()

	// The first read happened outside the lock.
	rec, err = p.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		logger.Info().Msg("workflow already processed")
		return skipped(result, "already processed"), nil
	}
	if rec.DataFlow.SessionID == "" || !rec.DataFlow.HasKeys() {
		return nil, fmt.Errorf("%w: workflow %s has no data session", domain.ErrMalformedPayload, workflowID)
	}

	started := p.now()
	fetched, err := p.provider.FetchFIData(ctx, rec.DataFlow.SessionID)
	if err != nil {
		logger.Error().Err(err).Str("session_id", rec.DataFlow.SessionID).Msg("failed to fetch FI data")
		return nil, err
	}
	result.TxnID = fetched.TxnID

	for _, item := range fetched.FI {
		for i, block := range item.Data {
			result.Blocks++
			before := len(result.Failures)
			p.processBlock(ctx, rec, item, i, block, result)
			if len(result.Failures) > before {
				result.FailedBlocks++
			}
		}
	}

	matched, err := p.store.UpdateStatus(ctx, workflowID, domain.WorkflowStatusSuccess)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		logger.Warn().Msg("status update matched no workflow")
	}

	p.metrics.Batch(p.now().Sub(started).Seconds(), result.Blocks-result.FailedBlocks, result.FailedBlocks, len(result.Holdings))
	logger.Info().
		Str("txnid", result.TxnID).
		Int("blocks", result.Blocks).
		Int("holdings", len(result.Holdings)).
		Int("failed_blocks", result.FailedBlocks).
		Msg("FI data processed")
	return result, nil
}

// acquire retries the workflow lock until it is free, LockWait elapses or ctx ends.
func (p *Pipeline) acquire(ctx context.Context, key string) (lock.Lease, error) {
	deadline := time.NewTimer(p.config.LockWait)
	defer deadline.Stop()
	retry := time.NewTicker(p.config.LockRetryInterval)
	defer retry.Stop()

	for {
		lease, err := p.locker.Acquire(ctx, key, p.config.LockTTL)
		if !errors.Is(err, lock.ErrNotAcquired) {
			return lease, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, err
		case <-retry.C:
		}
	}
}

func (p *Pipeline) processBlock(
	ctx context.Context,
	rec *domain.WorkflowRecord,
	item api.EncryptedFIItem,
	index int,
	block api.EncryptedBlock,
	result *BatchResult,
) {
	logger := zerolog.Ctx(ctx).With().Str("fip_id", item.FipID).Int("block", index).Logger()
	fail := func(stage string, err error) {
		logger.Error().Err(err).Str("stage", stage).Msg("FI block failed")
		result.Failures = append(result.Failures, ItemFailure{
			FipID:         item.FipID,
			BlockIndex:    index,
			LinkRefNumber: block.LinkRefNumber,
			Stage:         stage,
			Err:           err,
		})
	}

	decrypted, err := p.decrypter.Decrypt(ctx, api.DecryptRequest{
		Base64Data:        block.EncryptedFI,
		Base64RemoteNonce: item.KeyMaterial.Nonce,
		Base64YourNonce:   rec.DataFlow.KeyMaterial.Nonce,
		OurPrivateKey:     rec.DataFlow.PrivateKey,
		RemoteKeyMaterial: item.KeyMaterial,
	})
	if err != nil {
		fail(StageDecrypt, err)
		return
	}

	decoded, err := decode(decrypted.Base64Data)
	if err != nil {
		fail(StageDecode, err)
		return
	}

	// The raw object is kept even when extraction fails, so it can be replayed.
	err = p.rawSink.AppendRawExtract(ctx, domain.RawExtract{
		ID:         p.newID(),
		WorkflowID: rec.WorkflowID,
		FipID:      item.FipID,
		Payload:    decoded,
		CreatedAt:  p.now().UTC(),
	})
	if err != nil {
		fail(StagePersist, err)
	}

	extraction, err := Extract(decoded)
	if err != nil {
		fail(StageExtract, err)
		return
	}
	if !extraction.Supported {
		logger.Warn().Str("account_type", extraction.AccountType).Msg("unsupported account type, skipped")
		return
	}
	logger.Info().Str("linked_acc_ref", extraction.LinkedAccRef).Msg("extracting holdings")

	holdings := extraction.Holdings
	for i := range holdings {
		holdings[i].WorkflowID = rec.WorkflowID
		holdings[i].UserRef = rec.UserRef
	}
	if len(holdings) == 0 {
		return
	}
	if err := p.store.AppendHoldings(ctx, holdings); err != nil {
		fail(StageAppend, err)
		return
	}
	result.Holdings = append(result.Holdings, holdings...)
}

func decode(base64Data string) (json.RawMessage, error) {
	plain, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", domain.ErrMalformedPayload, err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(plain, &obj); err != nil {
		return nil, fmt.Errorf("%w: FI object: %v", domain.ErrMalformedPayload, err)
	}
	return plain, nil
}

func skipped(result *BatchResult, reason string) *BatchResult {
	result.Skipped = true
	result.Reason = reason
	return result
}
