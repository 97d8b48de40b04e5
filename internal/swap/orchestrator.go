package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Azurepeal/neighbor-swap/internal/metrics"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/otel"
	"github.com/Azurepeal/neighbor-swap/internal/validation"
	"github.com/Azurepeal/neighbor-swap/internal/wallet"
)

// DefaultReceiptTimeout bounds how long an execution waits for inclusion
const DefaultReceiptTimeout = 2 * time.Minute

// Wallet is the connected wallet an execution drives
type Wallet interface {
	wallet.Capability
	wallet.ChainReader
}

// Orchestrator runs swap executions one at a time
type Orchestrator struct {
	busy  atomic.Bool
	phase atomic.Int32

	receiptTimeout time.Duration
	onPhase        func(Phase)
	onIncluded     func(*Settlement)
	metrics        *metrics.Metrics

	log *logrus.Entry
}

// NewOrchestrator creates an idle orchestrator
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		receiptTimeout: DefaultReceiptTimeout,
		log:            logrus.WithField("component", "swap-orchestrator"),
	}
}

// WithReceiptTimeout sets the inclusion deadline
func (o *Orchestrator) WithReceiptTimeout(timeout time.Duration) *Orchestrator {
	if timeout > 0 {
		o.receiptTimeout = timeout
	}
	return o
}

// WithPhaseObserver registers fn to receive every phase transition
func (o *Orchestrator) WithPhaseObserver(fn func(Phase)) *Orchestrator {
	o.onPhase = fn
	return o
}

// WithInclusionHandler registers fn to run once a transaction is included,
// whatever its receipt status. Balance caches hang off this.
func (o *Orchestrator) WithInclusionHandler(fn func(*Settlement)) *Orchestrator {
	o.onIncluded = fn
	return o
}

// WithMetrics sets the metrics sink
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Busy reports whether an execution is in flight
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Phase returns the current phase
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phase.Store(int32(p))
	if o.onPhase != nil {
		o.onPhase(p)
	}
}

// Execute runs req against w. A second call while one is in flight returns
// ErrBusy immediately. Once a transaction is broadcast, cancelling ctx no
// longer stops the wait for its receipt.
func (o *Orchestrator) Execute(ctx context.Context, w Wallet, req Request) (settlement *Settlement, err error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.setPhase(PhaseIdle)
	defer o.busy.Store(false)

	intent := req.Intent()
	id := uuid.NewString()
	log := o.log.WithFields(logrus.Fields{
		"id":     id,
		"intent": intent.String(),
		"chain":  req.Chain.Name,
	})

	ctx, span := otel.Tracer().Start(ctx, "swap.execute", trace.WithAttributes(
		attribute.String("swap.id", id),
		attribute.String("swap.intent", intent.String()),
		attribute.String("swap.token_in", req.TokenIn.Address),
		attribute.String("swap.token_out", req.TokenOut.Address),
	))
	defer span.End()

	defer func() {
		if err != nil {
			otel.RecordError(ctx, err)
			o.metrics.SwapExecuted(intent.String(), "error")
			log.WithError(err).Warn("Swap execution failed")
		}
	}()

	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrSubmission)
	}
	if intent == model.IntentGenericSwap && !req.Quote.HasPayload() {
		return nil, ErrNoQuotePayload
	}

	if !w.SwitchChain(ctx, req.Chain) {
		return nil, fmt.Errorf("%w: %s", ErrWrongChain, req.Chain.Name)
	}

	var approvalTx *common.Hash
	if intent == model.IntentGenericSwap && !req.TokenIn.IsNative() {
		approvalTx, err = o.ensureAllowance(ctx, w, req, log)
		if err != nil {
			return nil, err
		}
	}

	o.setPhase(PhaseSubmitting)
	tx, err := buildTransaction(intent, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	hash, err := w.SendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if hash == (common.Hash{}) {
		return nil, ErrMissingTxHash
	}
	log = log.WithField("hash", hash.Hex())
	log.Info("Swap transaction sent")

	o.setPhase(PhaseAwaitingConfirmation)
	receipt, err := o.waitReceipt(ctx, w, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmation, err)
	}

	settlement = &Settlement{
		ID:          id,
		Intent:      intent,
		TxHash:      hash,
		ExplorerURL: req.Chain.BlockExplorerURL(hash.Hex()),
		Outcome:     OutcomeSuccess,
		ApprovalTx:  approvalTx,
		BlockNumber: receipt.BlockNumber,
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		settlement.Outcome = OutcomeReverted
	}

	if o.onIncluded != nil {
		o.onIncluded(settlement)
	}

	o.setPhase(PhaseSettled)
	o.metrics.SwapExecuted(intent.String(), settlement.Outcome.String())
	span.SetAttributes(attribute.String("swap.outcome", settlement.Outcome.String()))

	if settlement.Outcome == OutcomeReverted {
		log.Warn("Swap transaction reverted")
	} else {
		log.WithField("explorer", settlement.ExplorerURL).Info("Swap settled")
	}
	return settlement, nil
}

// ensureAllowance approves the approve proxy for an unlimited amount when
// the current allowance is exactly zero. A non-zero allowance is left as is.
func (o *Orchestrator) ensureAllowance(ctx context.Context, w Wallet, req Request, log *logrus.Entry) (*common.Hash, error) {
	o.setPhase(PhaseApprovalCheck)

	token := common.HexToAddress(req.TokenIn.Address)
	spender := common.HexToAddress(req.Chain.ApproveProxyAddress)

	allowance, err := w.Allowance(ctx, token, req.Trader, spender)
	if err != nil {
		return nil, fmt.Errorf("%w: reading allowance: %w", ErrApprovalFailed, err)
	}
	if allowance.Sign() != 0 {
		log.WithField("allowance", allowance.String()).Debug("Allowance present, skipping approval")
		return nil, nil
	}

	o.setPhase(PhaseApproving)
	data, err := wallet.PackApprove(spender, wallet.MaxUint256)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}

	hash, err := w.SendTransaction(ctx, wallet.TxParams{
		From:  req.Trader,
		To:    token,
		Data:  data,
		Value: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	if hash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: %w", ErrApprovalFailed, ErrMissingTxHash)
	}
	o.metrics.ApprovalSent()
	log.WithField("approval", hash.Hex()).Info("Approval sent")

	receipt, err := o.waitReceipt(ctx, w, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: approval %s reverted", ErrApprovalFailed, hash.Hex())
	}
	return &hash, nil
}

// waitReceipt waits on a context detached from the caller's cancellation
// and bounded by the receipt timeout
func (o *Orchestrator) waitReceipt(ctx context.Context, w Wallet, hash common.Hash) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.receiptTimeout)
	defer cancel()

	receipt, err := w.WaitReceipt(waitCtx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("no receipt for %s", hash.Hex())
	}
	return receipt, nil
}

// buildTransaction picks the transaction for intent. Wrap and unwrap talk
// to the wrapped-native contract directly; a generic swap sends the quote
// payload with its value normalised. The payload's gas limit is not
// forwarded so the wallet estimates.
func buildTransaction(intent model.SwapIntent, req Request) (wallet.TxParams, error) {
	weth := common.HexToAddress(req.Chain.WrappedNativeToken)

	switch intent {
	case model.IntentWrap:
		data, err := wallet.PackDeposit()
		if err != nil {
			return wallet.TxParams{}, err
		}
		return wallet.TxParams{From: req.Trader, To: weth, Data: data, Value: new(big.Int).Set(req.Amount)}, nil

	case model.IntentUnwrap:
		data, err := wallet.PackWithdraw(req.Amount)
		if err != nil {
			return wallet.TxParams{}, err
		}
		return wallet.TxParams{From: req.Trader, To: weth, Data: data, Value: new(big.Int)}, nil

	default:
		payload := req.Quote.MetamaskSwapTransaction
		if err := validation.ValidateTxPayload(payload); err != nil {
			return wallet.TxParams{}, err
		}
		value, err := validation.ParseValue(payload.Value)
		if err != nil {
			return wallet.TxParams{}, err
		}
		data, err := hexutil.Decode(payload.Data)
		if err != nil {
			return wallet.TxParams{}, fmt.Errorf("payload data: %w", err)
		}
		return wallet.TxParams{
			From:  req.Trader,
			To:    common.HexToAddress(payload.To),
			Data:  data,
			Value: value,
		}, nil
	}
}
