// Package guard runs the decide → pay → run pipeline in front of paid providers.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/spendguard/pkg/audit"
	"github.com/pario-ai/spendguard/pkg/budget"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
	"github.com/pario-ai/spendguard/pkg/policy"
	"github.com/pario-ai/spendguard/pkg/provider"
	"github.com/pario-ai/spendguard/pkg/store"
)

const tracerName = "github.com/pario-ai/spendguard/pkg/guard"

// ErrInvalidRequest is returned for requests missing required fields. No
// decision is made or audited for them.
var ErrInvalidRequest = errors.New("invalid request")

// Deps are the guard's collaborators.
type Deps struct {
	Policy    *policy.Engine
	Budget    *budget.Ledger
	Verifier  *payment.Verifier
	Nonces    store.NonceStore
	Pending   store.PendingStore
	Providers *provider.Registry
	Audit     *audit.Recorder
}

// Options tune guard behavior.
type Options struct {
	// PendingTTL is how long an issued quote can be paid. Default 1h.
	PendingTTL time.Duration
	// EnforceBudgetOnQuote denies unpaid requests when the budget cannot cover
	// the price. By default only paid retries are held to the budget.
	EnforceBudgetOnQuote bool
	Logger               *slog.Logger
	TracerProvider       trace.TracerProvider
}

// Guard is the orchestrator. It is safe for concurrent use.
type Guard struct {
	Deps
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a Guard.
func New(d Deps, opts Options) *Guard {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Guard{
		Deps:   d,
		opts:   opts,
		logger: logger.With("component", "guard"),
		tracer: tp.Tracer(tracerName),
	}
}

// run carries the per-request state through the pipeline.
type run struct {
	g     *Guard
	req   models.Request
	cost  models.Amount
	span  trace.Span
	state State
	proof *models.PaymentProof
	// verified is set once the nonce has been claimed.
	verified bool
}

// Execute decides a request. proofHeader is the raw X-PAYMENT-PROOF value or "".
// Every returned Result has been audited. A non-nil error means a collaborator
// fault; in that case no Result is returned.
func (g *Guard) Execute(ctx context.Context, req models.Request, proofHeader string) (*models.Result, error) {
	if missing := req.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	ctx, span := g.tracer.Start(ctx, "guard.execute",
		trace.WithAttributes(
			attribute.String("spendguard.provider", req.Provider),
			attribute.String("spendguard.action", req.Action),
			attribute.String("spendguard.task", req.Task),
			attribute.String("spendguard.run_id", req.RunID),
			attribute.Bool("spendguard.paid", proofHeader != ""),
		))
	defer span.End()

	r := &run{g: g, req: req, span: span, state: StateReceived}
	res, err := r.execute(ctx, proofHeader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "guard fault")
		g.logger.ErrorContext(ctx, "guard fault", "state", string(r.state), "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("spendguard.decision", string(res.Decision)),
		attribute.String("spendguard.code", string(res.Code)),
		attribute.String("spendguard.log_id", res.LogID),
	)
	if res.Decision == models.DecisionDenied {
		span.SetStatus(codes.Error, string(res.Code))
	}
	return res, nil
}

func (r *run) execute(ctx context.Context, proofHeader string) (*models.Result, error) {
	g := r.g
	route, configured := g.Providers.Resolve(r.req.Provider)
	if configured {
		r.cost = route.Price
	}

	var (
		pol policy.Result
		bud budget.CheckResult
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		pol, err = g.Policy.Check(egctx, policy.Request{
			Provider: r.req.Provider,
			Action:   r.req.Action,
			Task:     r.req.Task,
			Cost:     r.cost,
		})
		return err
	})
	eg.Go(func() error {
		var err error
		bud, err = g.Budget.Check(egctx, r.cost)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("pre-checks: %w", err)
	}

	r.advance(StatePolicyChecked)
	if !pol.Allowed {
		return r.deny(ctx, pol.Code, pol.Reason, nil)
	}

	r.advance(StateBudgetChecked)
	if !bud.Allowed && (proofHeader != "" || g.opts.EnforceBudgetOnQuote) {
		return r.deny(ctx, bud.Code, bud.Reason, nil)
	}
	if !configured {
		return r.deny(ctx, models.ReasonProviderNotConfigured,
			models.Reason(models.ReasonProviderNotConfigured, fmt.Sprintf("no gateway for %q", r.req.Provider)), nil)
	}

	if proofHeader == "" {
		return r.quote(ctx, route.Gateway)
	}
	return r.pay(ctx, route.Gateway, proofHeader)
}

// quote issues a payment requirement. Nothing but the pending store is written.
func (r *run) quote(ctx context.Context, gw provider.Gateway) (*models.Result, error) {
	g := r.g
	r.advance(StateQuoting)

	q, err := gw.Quote(ctx)
	if err != nil {
		var se *provider.StatusError
		if errors.As(err, &se) {
			return r.deny(ctx, models.ReasonUnexpectedProviderResp,
				models.Reason(models.ReasonUnexpectedProviderResp, fmt.Sprintf("status %d", se.StatusCode)), nil)
		}
		return nil, fmt.Errorf("quote: %w", err)
	}
	if err := g.Pending.Put(ctx, q.Nonce, q, g.opts.PendingTTL); err != nil {
		return nil, fmt.Errorf("store pending payment: %w", err)
	}

	r.advance(StatePaymentRequired)
	entry := r.entry(models.DecisionPaymentRequired, models.ReasonPaymentRequired, string(models.ReasonPaymentRequired))
	entry.PaymentNonce = q.Nonce
	res, err := r.finish(ctx, entry)
	if err != nil {
		return nil, err
	}
	res.PaymentRequirement = &q
	return res, nil
}

// pay verifies the proof, runs the action and settles the budget.
func (r *run) pay(ctx context.Context, gw provider.Gateway, proofHeader string) (*models.Result, error) {
	g := r.g
	r.advance(StateVerifying)

	proof, err := payment.DecodeProofHeader(proofHeader)
	if err != nil {
		return r.deny(ctx, models.ReasonInvalidPaymentProof,
			models.Reason(models.ReasonInvalidPaymentProof, "Could not parse payment proof"), nil)
	}
	r.proof = &proof
	r.span.SetAttributes(attribute.String("spendguard.nonce", proof.Nonce))

	pending, err := g.Pending.Get(ctx, proof.Nonce)
	if errors.Is(err, store.ErrNotFound) {
		// A consumed nonce stays a replay even after its quote is gone.
		used, err := g.Nonces.IsClaimed(ctx, proof.Nonce)
		if err != nil {
			return nil, fmt.Errorf("check nonce: %w", err)
		}
		if used {
			return r.deny(ctx, models.ReasonReplayAttack,
				models.Reason(models.ReasonReplayAttack, "Nonce already used"), nil)
		}
		return r.deny(ctx, models.ReasonPaymentNotFound,
			models.Reason(models.ReasonPaymentNotFound, "No pending payment for this nonce"), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load pending payment: %w", err)
	}

	v, err := g.Verifier.Verify(ctx, proof, pending.Nonce, pending.Price)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return r.deny(ctx, v.Code, v.Reason, nil)
	}
	r.verified = true

	// The nonce is consumed from here on.
	r.advance(StateExecuting)
	result, err := gw.Execute(ctx, proofHeader, r.req.Payload)
	if err != nil {
		var se *provider.StatusError
		if errors.As(err, &se) {
			return r.deny(ctx, models.ReasonUnexpectedProviderResp,
				models.Reason(models.ReasonUnexpectedProviderResp, fmt.Sprintf("status %d", se.StatusCode)), nil)
		}
		return nil, fmt.Errorf("execute provider: %w", err)
	}
	if !result.Success {
		detail := result.Error
		if detail == "" {
			detail = "unknown"
		}
		return r.deny(ctx, models.ReasonProviderError, models.Reason(models.ReasonProviderError, detail), result)
	}

	if err := r.commit(context.WithoutCancel(ctx), proof.Nonce); err != nil {
		return nil, err
	}

	r.advance(StateApproved)
	entry := r.entry(models.DecisionApproved, models.ReasonPaymentVerified, string(models.ReasonPaymentVerified))
	entry.Response = marshalResult(result)
	res, err := r.finish(ctx, entry)
	if err != nil {
		return nil, err
	}
	res.ProviderResponse = result
	return res, nil
}

// commit settles an executed action: deduct the budget and drop the quote.
func (r *run) commit(ctx context.Context, nonce string) error {
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, err := r.g.Budget.Deduct(egctx, r.cost)
		return err
	})
	eg.Go(func() error {
		if err := r.g.Pending.Remove(egctx, nonce); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("remove pending payment: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *run) deny(ctx context.Context, code models.ReasonCode, reason string, result *models.ProviderResult) (*models.Result, error) {
	r.advance(StateDenied)
	entry := r.entry(models.DecisionDenied, code, reason)
	if result != nil {
		entry.Response = marshalResult(result)
	}
	return r.finish(ctx, entry)
}

func (r *run) entry(d models.Decision, code models.ReasonCode, reason string) models.AuditLogEntry {
	e := models.AuditLogEntry{
		Provider: r.req.Provider,
		Action:   r.req.Action,
		Task:     r.req.Task,
		Cost:     r.cost,
		Decision: d,
		Reason:   reason,
		Code:     code,
		RunID:    r.req.RunID,
		Payload:  r.req.Payload,
	}
	if r.proof != nil {
		verified := r.verified
		e.PaymentNonce = r.proof.Nonce
		e.PaymentPayer = r.proof.Payer
		e.PaymentVerified = &verified
	}
	return e
}

// finish audits the terminal decision exactly once.
func (r *run) finish(ctx context.Context, entry models.AuditLogEntry) (*models.Result, error) {
	stored, err := r.g.Audit.Record(context.WithoutCancel(ctx), entry)
	if err != nil {
		return nil, err
	}
	return &models.Result{
		Decision: entry.Decision,
		Reason:   entry.Reason,
		Code:     entry.Code,
		LogID:    stored.ID,
	}, nil
}

func (r *run) advance(to State) {
	if !CanTransition(r.state, to) {
		err := fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.state, to)
		r.span.RecordError(err)
		r.g.logger.Error("guard state machine", "error", err)
	}
	r.span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(r.state)),
		attribute.String("to", string(to)),
	))
	r.state = to
}

func marshalResult(res *models.ProviderResult) json.RawMessage {
	data, err := json.Marshal(res)
	if err != nil {
		return nil
	}
	return data
}
