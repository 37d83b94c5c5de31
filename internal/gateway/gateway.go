// Package gateway turns a desired trade into a confirmed, idempotent
// on-chain effect despite endpoint failures, rate limiting and partial
// execution. It owns outbound throttling, retry/backoff policy, adaptive
// slippage escalation and confirmation polling; endpoint failover lives in
// the swap router and ledger clients it drives.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"solana-strategy-engine/internal/domain"
	"solana-strategy-engine/internal/execerr"
	"solana-strategy-engine/internal/ledger"
	"solana-strategy-engine/internal/observability"
	"solana-strategy-engine/internal/signer"
	"solana-strategy-engine/internal/swaprouter"
)

// Config tunes the gateway's throttle, retry and confirmation behavior.
type Config struct {
	// MinCallInterval throttles every outbound call to the quote/swap
	// service, shared by all strategies in the process.
	MinCallInterval time.Duration

	// MaxAttempts bounds retries per execution.
	MaxAttempts int

	// BackoffBase/BackoffMax/BackoffMult shape the exponential backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	BackoffMult float64

	// CongestionMinDelay is the minimum retry delay after rate-limit and
	// transport-class failures; generic failures use the plain backoff.
	CongestionMinDelay time.Duration

	// SlippageIncrementBps is added to the requested slippage tolerance on
	// each retry, never exceeding the request's ceiling.
	SlippageIncrementBps int

	// ConfirmPollInterval/ConfirmTimeout bound confirmation polling.
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration

	// QuoteMint is the mint of the quote currency all commitments are
	// denominated in.
	QuoteMint string
}

// DefaultConfig returns production defaults.
func DefaultConfig(quoteMint string) Config {
	return Config{
		MinCallInterval:      1100 * time.Millisecond,
		MaxAttempts:          4,
		BackoffBase:          500 * time.Millisecond,
		BackoffMax:           8 * time.Second,
		BackoffMult:          2.0,
		CongestionMinDelay:   2 * time.Second,
		SlippageIncrementBps: 50,
		ConfirmPollInterval:  2 * time.Second,
		ConfirmTimeout:       45 * time.Second,
		QuoteMint:            quoteMint,
	}
}

// ErrConfirmationTimeout is returned when a submitted transaction stayed
// unconfirmed past the polling deadline. The execution aborts without
// resubmitting: a submitted-but-unconfirmed transaction cannot safely be
// sent again.
var ErrConfirmationTimeout = errors.New("confirmation timeout")

// ConfirmationTimeoutError is the concrete confirmation-timeout failure.
// It carries the signature so the caller can reconcile the transaction on a
// later evaluation, and the provisional result built from the quoted route,
// which becomes the recorded fill if the confirmation eventually lands.
type ConfirmationTimeoutError struct {
	Signature   string
	Provisional *Result
	Waited      time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation timeout: %s after %s", e.Signature, e.Waited)
}

func (e *ConfirmationTimeoutError) Unwrap() error { return ErrConfirmationTimeout }

// Request describes one desired trade.
type Request struct {
	Direction      string // domain.SideBuy or domain.SideSell
	Asset          domain.Asset
	Amount         float64 // buy: quote units to spend; sell: tokens to sell
	SlippageBps    int     // starting tolerance
	MaxSlippageBps int     // strategy-supplied ceiling
	OwnerID        string
}

// Result is a confirmed execution.
type Result struct {
	TxSignature     string
	FilledAmount    float64 // buy: tokens received; sell: quote units received
	ExecutedPrice   float64 // quote units per token
	PriceImpactPct  float64
	SlippageBpsUsed int
	Attempts        int
}

// Gateway executes trades against the swap router and ledger.
type Gateway struct {
	router  swaprouter.Router
	ledger  ledger.Client
	wallet  signer.Wallet
	limiter *rate.Limiter
	metrics *observability.Metrics
	cfg     Config

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New creates a gateway. The throttle gate and both clients' failover state
// are process-wide: every strategy's evaluation task shares this instance.
func New(router swaprouter.Router, lc ledger.Client, wallet signer.Wallet, metrics *observability.Metrics, cfg Config) *Gateway {
	return &Gateway{
		router:  router,
		ledger:  lc,
		wallet:  wallet,
		limiter: rate.NewLimiter(rate.Every(cfg.MinCallInterval), 1),
		metrics: metrics,
		cfg:     cfg,
		sleep:   sleepCtx,
		jitter:  rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// throttle blocks until the shared gate admits one more outbound call.
func (g *Gateway) throttle(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if g.metrics != nil {
		g.metrics.ThrottleWait.Observe(time.Since(start).Seconds())
	}
	return nil
}

// backoffDelay computes the pre-retry delay for the given attempt (0-based)
// and failure kind, with jitter in [0.75, 1.25).
func (g *Gateway) backoffDelay(attempt int, kind execerr.Kind) time.Duration {
	d := g.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * g.cfg.BackoffMult)
		if d > g.cfg.BackoffMax {
			d = g.cfg.BackoffMax
			break
		}
	}
	if kind == execerr.KindRateLimited || kind == execerr.KindTransport {
		if d < g.cfg.CongestionMinDelay {
			d = g.cfg.CongestionMinDelay
		}
	}
	return time.Duration(float64(d) * (0.75 + 0.5*g.jitter()))
}

// slippageFor returns the tolerance for the given attempt: the requested
// tolerance plus one increment per prior retry, capped at the ceiling.
// Monotonically non-decreasing across attempts.
func (g *Gateway) slippageFor(req Request, attempt int) int {
	bps := req.SlippageBps + attempt*g.cfg.SlippageIncrementBps
	if req.MaxSlippageBps > 0 && bps > req.MaxSlippageBps {
		bps = req.MaxSlippageBps
	}
	return bps
}

// Execute runs the full quote → build → sign/submit → confirm pipeline with
// retries. No side effects until submission succeeds; a submitted-but-
// unconfirmed transaction is never treated as success and never resubmitted.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("non-positive amount %f", req.Amount)
	}

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			kind := execerr.KindOf(lastErr)
			delay := g.backoffDelay(attempt-1, kind)
			log.Printf("[gateway] retry %d/%d for %s %s after %s (%s)",
				attempt, g.cfg.MaxAttempts-1, req.Direction, req.Asset.Symbol, delay, kind)
			if err := g.sleep(ctx, delay); err != nil {
				return nil, err
			}
			if g.metrics != nil && g.slippageFor(req, attempt) > g.slippageFor(req, attempt-1) {
				g.metrics.SlippageEscalations.Inc()
			}
		}

		res, err := g.attempt(ctx, req, g.slippageFor(req, attempt))
		if err == nil {
			res.Attempts = attempt + 1
			g.observeOutcome(req.Direction, "success", attempt+1)
			return res, nil
		}
		lastErr = err

		if errors.Is(err, ErrConfirmationTimeout) || !execerr.Retryable(err) {
			g.observeOutcome(req.Direction, "failure", attempt+1)
			return nil, err
		}
	}

	g.observeOutcome(req.Direction, "exhausted", g.cfg.MaxAttempts)
	return nil, fmt.Errorf("execute %s %s: attempts exhausted: %w", req.Direction, req.Asset.Symbol, lastErr)
}

func (g *Gateway) observeOutcome(direction, outcome string, attempts int) {
	if g.metrics == nil {
		return
	}
	g.metrics.ExecutionsTotal.WithLabelValues(direction, outcome).Inc()
	g.metrics.ExecutionAttempts.Observe(float64(attempts))
}

// attempt performs one full execution attempt at a fixed slippage tolerance.
func (g *Gateway) attempt(ctx context.Context, req Request, slippageBps int) (*Result, error) {
	inputMint, outputMint := g.cfg.QuoteMint, req.Asset.Mint
	if req.Direction == domain.SideSell {
		inputMint, outputMint = req.Asset.Mint, g.cfg.QuoteMint
	}

	if err := g.throttle(ctx); err != nil {
		return nil, err
	}
	route, err := g.router.Quote(ctx, inputMint, outputMint, req.Amount, slippageBps)
	if err != nil {
		return nil, err
	}

	if err := g.throttle(ctx); err != nil {
		return nil, err
	}
	rawTx, err := g.router.BuildTransaction(ctx, route, g.wallet.PublicAddress())
	if err != nil {
		return nil, err
	}

	sig, err := g.wallet.SignAndSubmit(ctx, rawTx)
	if err != nil {
		return nil, err
	}

	price := 0.0
	switch req.Direction {
	case domain.SideBuy:
		if route.OutAmount > 0 {
			price = route.InAmount / route.OutAmount
		}
	case domain.SideSell:
		if route.InAmount > 0 {
			price = route.OutAmount / route.InAmount
		}
	}
	res := &Result{
		TxSignature:     sig,
		FilledAmount:    route.OutAmount,
		ExecutedPrice:   price,
		PriceImpactPct:  route.PriceImpactPct,
		SlippageBpsUsed: slippageBps,
	}

	if err := g.awaitConfirmation(ctx, sig); err != nil {
		if errors.Is(err, ErrConfirmationTimeout) {
			return nil, &ConfirmationTimeoutError{
				Signature:   sig,
				Provisional: res,
				Waited:      g.cfg.ConfirmTimeout,
			}
		}
		return nil, err
	}
	return res, nil
}

// Confirm reads the current confirmation state of a signature once, under
// the shared throttle. Used by the engines to reconcile a trade whose
// confirmation outlived its evaluation.
func (g *Gateway) Confirm(ctx context.Context, signature string) (ledger.Confirmation, error) {
	if err := g.throttle(ctx); err != nil {
		return ledger.Confirmation{}, err
	}
	return g.ledger.GetConfirmation(ctx, signature)
}

// awaitConfirmation polls until the signature confirms, fails on chain, or
// the deadline passes. Transport errors during polling are absorbed: the
// transaction may still land, so polling continues until the deadline.
func (g *Gateway) awaitConfirmation(ctx context.Context, sig string) error {
	start := time.Now()
	deadline := start.Add(g.cfg.ConfirmTimeout)

	for {
		conf, err := g.ledger.GetConfirmation(ctx, sig)
		if err == nil && conf.Confirmed {
			if g.metrics != nil {
				g.metrics.ConfirmationWait.Observe(time.Since(start).Seconds())
			}
			if !conf.Succeeded {
				return execerr.New(execerr.KindOnChain, "confirm",
					fmt.Errorf("transaction %s failed on chain: %s", sig, conf.ErrText))
			}
			return nil
		}
		if err != nil && !execerr.Retryable(err) {
			return err
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, sig, g.cfg.ConfirmTimeout)
		}
		if err := g.sleep(ctx, g.cfg.ConfirmPollInterval); err != nil {
			return err
		}
	}
}

// SubmitTransfer submits a pre-built transfer template under the same
// throttle, retry and confirmation discipline as trades. Used by the fee
// ledger; fee traffic is not exempt from the rate gate.
func (g *Gateway) SubmitTransfer(ctx context.Context, rawTx []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoffDelay(attempt-1, execerr.KindOf(lastErr))); err != nil {
				return "", err
			}
		}

		if err := g.throttle(ctx); err != nil {
			return "", err
		}
		sig, err := g.wallet.SignAndSubmit(ctx, rawTx)
		if err == nil {
			err = g.awaitConfirmation(ctx, sig)
			if err == nil {
				return sig, nil
			}
		}
		lastErr = err

		if errors.Is(err, ErrConfirmationTimeout) || !execerr.Retryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("submit transfer: attempts exhausted: %w", lastErr)
}
