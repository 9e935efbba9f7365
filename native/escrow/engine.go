package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"rentescrow/core/events"
	"rentescrow/core/types"
	"rentescrow/crypto"
	"rentescrow/native/common"
	"rentescrow/native/ledger"
	"rentescrow/observability/metrics"
)

// ModuleName is the pause-guard key of the escrow module.
const ModuleName = "escrow"

const tracerName = "rentescrow/native/escrow"

const (
	opInit       = "init"
	opCreate     = "create"
	opPay        = "pay"
	opRelease    = "release"
	opRefund     = "refund"
	opWithdraw   = "withdraw"
	opSetFee     = "set_fee"
	opSetAddress = "set_address"
	opSetPaused  = "set_paused"
)

const vaultAddressLabel = "rentescrow/escrow-vault"

type engineState interface {
	PaymentAppend(*Payment) error
	PaymentPut(*Payment) error
	PaymentGet(id uint64) (*Payment, bool, error)
	PaymentCount() (uint64, error)
	EscrowFeesGet() (*FeePolicy, bool, error)
	EscrowFeesPut(*FeePolicy) error
	EscrowRolesGet() (*Roles, bool, error)
	EscrowRolesPut(*Roles) error
	EscrowPausedGet() (bool, error)
	EscrowPausedPut(bool) error
}

// DefaultVaultAddress is the ledger identity holding escrowed funds when no
// explicit vault is configured.
func DefaultVaultAddress() [20]byte {
	return crypto.DeriveAddress(vaultAddressLabel).Raw()
}

// Genesis is the construction-time configuration of the engine. The owner is
// fixed once applied; the other roles may be left unbound.
type Genesis struct {
	Owner            [20]byte
	Marketplace      [20]byte
	DisputeAuthority [20]byte
	ProtectionFee    *big.Int
	CommissionFee    *big.Int
	Paused           bool
}

// Engine drives the payment lifecycle. Every operation runs under a single
// engine-wide lock, checks its role and state preconditions before touching
// state, and commits the status change before calling the ledger.
//
// Ledger implementations must not call back into the engine while a transfer
// is executing; the lock is not reentrant.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	ledger  ledger.Ledger
	vault   [20]byte
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.EscrowMetrics
	nowFn   func() time.Time
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// vault address. Callers wire state and ledger through the setters.
func NewEngine() *Engine {
	return &Engine{
		vault:   DefaultVaultAddress(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   time.Now,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger capability.
func (e *Engine) SetLedger(l ledger.Ledger) { e.ledger = l }

// SetVault overrides the ledger identity that holds escrowed funds.
func (e *Engine) SetVault(addr [20]byte) {
	if addr == ([20]byte{}) {
		addr = DefaultVaultAddress()
	}
	e.vault = addr
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger replaces the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMetrics attaches a metrics sink. Nil disables metrics.
func (e *Engine) SetMetrics(m *metrics.EscrowMetrics) { e.metrics = m }

// Vault returns the ledger identity holding escrowed funds.
func (e *Engine) Vault() [20]byte { return e.vault }

func (e *Engine) emit(ctx context.Context, event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	events.EmitContext(ctx, e.emitter, escrowEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

var (
	instrumentsOnce   sync.Once
	sharedInstruments *engineInstruments
)

type engineInstruments struct {
	operations metric.Int64Counter
	latency    metric.Float64Histogram
}

// instruments resolves the OTel operation counter and latency histogram from
// the global meter provider, falling back to no-op instruments.
func instruments() *engineInstruments {
	instrumentsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(tracerName)
		operations, err := meter.Int64Counter("escrow.operations",
			metric.WithDescription("Escrow engine operations by outcome."))
		if err != nil {
			operations, _ = noop.NewMeterProvider().Meter(tracerName).Int64Counter("escrow.operations")
		}
		latency, err := meter.Float64Histogram("escrow.operation.duration",
			metric.WithDescription("Escrow engine operation latency."),
			metric.WithUnit("s"))
		if err != nil {
			latency, _ = noop.NewMeterProvider().Meter(tracerName).Float64Histogram("escrow.operation.duration")
		}
		sharedInstruments = &engineInstruments{operations: operations, latency: latency}
	})
	return sharedInstruments
}

func (m *engineInstruments) record(ctx context.Context, op, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "ok"
	}
	set := metric.WithAttributes(attribute.String("operation", op), attribute.String("reason", reason))
	m.operations.Add(ctx, 1, set)
	m.latency.Record(ctx, elapsed.Seconds(), set)
}

// begin opens a tracing span and returns the completion hook that records
// metrics, span status and a log line for the operation outcome.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	if e == nil {
		return ctx, func(*error) {}
	}
	start := e.nowFn()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "escrow."+op,
		trace.WithAttributes(append(attrs, attribute.String("escrow.operation", op))...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		reason := Reason(err)
		elapsed := e.nowFn().Sub(start)
		e.metrics.Observe(op, reason, elapsed)
		instruments().record(ctx, op, reason, elapsed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, reason)
			e.logger.DebugContext(ctx, "escrow operation rejected",
				slog.String("operation", op),
				slog.String("reason", reason),
				slog.String("error", err.Error()))
		}
		span.End()
	}
}

// lock serialises an operation and opens the event batch for it. The
// returned release commits the batch when the operation succeeded and
// discards it otherwise, so rejected calls leave no notifications behind.
func (e *Engine) lock(ctx context.Context) (context.Context, func(*error)) {
	e.mu.Lock()
	ctx, batch := events.WithBatch(ctx)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			batch.Discard()
		} else {
			batch.Commit()
		}
		e.mu.Unlock()
	}
}

// IsPaused implements common.PauseView over the persisted pause flag.
func (e *Engine) IsPaused(module string) bool {
	if module != ModuleName || e == nil || e.state == nil {
		return false
	}
	paused, err := e.state.EscrowPausedGet()
	if err != nil {
		// Fail closed: an unreadable flag blocks lifecycle operations.
		return true
	}
	return paused
}

func (e *Engine) loadRoles() (*Roles, error) {
	roles, ok, err := e.state.EscrowRolesGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}
	return roles, nil
}

func (e *Engine) loadFees() (*FeePolicy, error) {
	fees, ok, err := e.state.EscrowFeesGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}
	return fees, nil
}

func (e *Engine) loadPayment(id uint64) (*Payment, error) {
	count, err := e.state.PaymentCount()
	if err != nil {
		return nil, err
	}
	if id >= count {
		return nil, fmt.Errorf("%w: id %d (count %d)", ErrNotFound, id, count)
	}
	p, ok, err := e.state.PaymentGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return p, nil
}

// transition commits next as the payment status. The returned restore
// function puts the previous record back when a later step fails.
func (e *Engine) transition(p *Payment, next Status) (func() error, error) {
	if !p.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: payment %d is %s, cannot move to %s", ErrInvalidState, p.ID, p.Status, next)
	}
	prev := p.Clone()
	p.Status = next
	if err := e.state.PaymentPut(p); err != nil {
		p.Status = prev.Status
		return nil, err
	}
	return func() error { return e.state.PaymentPut(prev) }, nil
}

func (e *Engine) abort(ctx context.Context, restore func() error, cause error) error {
	if restore == nil {
		return cause
	}
	if err := restore(); err != nil {
		e.logger.ErrorContext(ctx, "escrow rollback failed",
			slog.String("error", err.Error()),
			slog.String("cause", cause.Error()))
		return errors.Join(cause, fmt.Errorf("escrow engine: rollback: %w", err))
	}
	return cause
}

func mapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	default:
		return fmt.Errorf("escrow: ledger: %w", err)
	}
}

// priorAllowance returns the payer's current approval of the vault so a failed
// payment can put it back. Ledgers without an allowance view restore zero.
func (e *Engine) priorAllowance(ctx context.Context, payer [20]byte) (*big.Int, error) {
	reader, ok := e.ledger.(ledger.AllowanceReader)
	if !ok {
		return big.NewInt(0), nil
	}
	allowance, err := reader.Allowance(ctx, payer, e.vault)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

func (e *Engine) observeHolding(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	bal, err := e.ledger.BalanceOf(ctx, e.vault)
	if err != nil {
		return
	}
	f, _ := new(big.Float).SetInt(bal).Float64()
	e.metrics.SetHoldingBalance(f)
}

func (e *Engine) logTransition(ctx context.Context, op string, p *Payment, caller [20]byte) {
	e.logger.InfoContext(ctx, "escrow payment transition",
		slog.String("operation", op),
		slog.Uint64("id", p.ID),
		slog.String("status", p.Status.String()),
		slog.String("amount", p.Amount.String()),
		slog.String("caller", crypto.AddressFromRaw(caller).String()))
}

// InitGenesis applies the construction-time configuration. Re-applying the
// same owner is a no-op so restarts do not clobber later administration; a
// different owner is rejected.
func (e *Engine) InitGenesis(ctx context.Context, g Genesis) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	ctx, done := e.begin(ctx, opInit)
	defer done(&err)
	ctx, release := e.lock(ctx)
	defer release(&err)

	existing, ok, err := e.state.EscrowRolesGet()
	if err != nil {
		return err
	}
	if ok {
		if existing.Owner != g.Owner {
			return fmt.Errorf("%w: engine already initialised with a different owner", ErrInvalidState)
		}
		return nil
	}
	if g.Owner == ([20]byte{}) {
		return fmt.Errorf("%w: owner required", ErrInvalidParameter)
	}
	fees := &FeePolicy{ProtectionFee: cloneBigInt(g.ProtectionFee), CommissionFee: cloneBigInt(g.CommissionFee)}
	if err := fees.Validate(); err != nil {
		return err
	}
	roles := &Roles{Owner: g.Owner, Marketplace: g.Marketplace, DisputeAuthority: g.DisputeAuthority}
	if err := e.state.EscrowFeesPut(fees); err != nil {
		return err
	}
	if err := e.state.EscrowPausedPut(g.Paused); err != nil {
		return err
	}
	// Roles last: their presence marks the engine as initialised.
	if err := e.state.EscrowRolesPut(roles); err != nil {
		return err
	}
	e.emit(ctx, NewInitialisedEvent(roles, fees))
	if g.Paused {
		e.emit(ctx, NewPauseSetEvent(true))
	}
	e.logger.InfoContext(ctx, "escrow genesis applied",
		slog.String("owner", crypto.AddressFromRaw(g.Owner).String()),
		slog.String("vault", crypto.AddressFromRaw(e.vault).String()))
	return nil
}

// Create appends a PENDING payment. Only the marketplace or the dispute
// authority may create payments, and the payer must currently hold at least
// amount. The balance check is advisory; Pay is authoritative.
func (e *Engine) Create(ctx context.Context, caller, payer, payee [20]byte, amount *big.Int) (id uint64, err error) {
	ctx, done := e.begin(ctx, opCreate)
	defer done(&err)
	if err := e.ready(); err != nil {
		return 0, err
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return 0, err
	}
	if err := roles.RequireMarketplaceOrDispute(caller); err != nil {
		return 0, err
	}
	if err := common.Guard(e, ModuleName); err != nil {
		return 0, err
	}
	candidate, err := SanitizePayment(&Payment{Payer: payer, Payee: payee, Amount: amount, Status: StatusPending})
	if err != nil {
		return 0, err
	}
	balance, err := e.ledger.BalanceOf(ctx, payer)
	if err != nil {
		return 0, mapLedgerError(err)
	}
	if balance.Cmp(candidate.Amount) < 0 {
		return 0, fmt.Errorf("%w: payer balance %s below amount %s", ErrInsufficientFunds, balance, candidate.Amount)
	}
	count, err := e.state.PaymentCount()
	if err != nil {
		return 0, err
	}
	candidate.ID = count
	if err := e.state.PaymentAppend(candidate); err != nil {
		return 0, err
	}
	e.emit(ctx, NewPaymentCreatedEvent(candidate))
	e.metrics.SetPaymentCount(count + 1)
	e.logTransition(ctx, opCreate, candidate, caller)
	return candidate.ID, nil
}

// Pay moves the payment amount from the payer into the escrow vault and marks
// the payment PAID. Marketplace only.
func (e *Engine) Pay(ctx context.Context, caller [20]byte, id uint64) (err error) {
	ctx, done := e.begin(ctx, opPay, attribute.Int64("escrow.payment_id", int64(id)))
	defer done(&err)
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return err
	}
	if err := roles.RequireMarketplace(caller); err != nil {
		return err
	}
	if err := common.Guard(e, ModuleName); err != nil {
		return err
	}
	p, err := e.loadPayment(id)
	if err != nil {
		return err
	}
	prior, err := e.priorAllowance(ctx, p.Payer)
	if err != nil {
		return mapLedgerError(err)
	}
	restore, err := e.transition(p, StatusPaid)
	if err != nil {
		return err
	}
	if err := e.ledger.Approve(ctx, p.Payer, e.vault, p.Amount); err != nil {
		return e.abort(ctx, restore, mapLedgerError(err))
	}
	if err := e.ledger.TransferFrom(ctx, e.vault, p.Payer, e.vault, p.Amount); err != nil {
		if resetErr := e.ledger.Approve(ctx, p.Payer, e.vault, prior); resetErr != nil {
			e.logger.WarnContext(ctx, "escrow allowance restore failed", slog.String("error", resetErr.Error()))
		}
		return e.abort(ctx, restore, mapLedgerError(err))
	}
	e.emit(ctx, NewPaymentPaidEvent(p))
	e.observeHolding(ctx)
	e.logTransition(ctx, opPay, p, caller)
	return nil
}

// Release settles a PAID payment in favour of the payee, keeping the commission
// current at the time of the call inside the vault. Marketplace only.
func (e *Engine) Release(ctx context.Context, caller [20]byte, id uint64) (err error) {
	ctx, done := e.begin(ctx, opRelease, attribute.Int64("escrow.payment_id", int64(id)))
	defer done(&err)
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return err
	}
	if err := roles.RequireMarketplace(caller); err != nil {
		return err
	}
	if err := common.Guard(e, ModuleName); err != nil {
		return err
	}
	p, err := e.loadPayment(id)
	if err != nil {
		return err
	}
	if p.Status != StatusPaid {
		return fmt.Errorf("%w: payment %d is %s, cannot release", ErrInvalidState, p.ID, p.Status)
	}
	fees, err := e.loadFees()
	if err != nil {
		return err
	}
	net, commission, err := fees.SplitRelease(p.Amount)
	if err != nil {
		return err
	}
	restore, err := e.transition(p, StatusReleased)
	if err != nil {
		return err
	}
	if net.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, e.vault, p.Payee, net); err != nil {
			return e.abort(ctx, restore, mapLedgerError(err))
		}
	}
	e.emit(ctx, NewPaymentReleasedEvent(p, commission, net))
	e.observeHolding(ctx)
	e.logTransition(ctx, opRelease, p, caller)
	return nil
}

// Refund returns the full amount of a PAID payment to the payer. The
// marketplace or the dispute authority may refund; fees are not applied.
func (e *Engine) Refund(ctx context.Context, caller [20]byte, id uint64) (err error) {
	ctx, done := e.begin(ctx, opRefund, attribute.Int64("escrow.payment_id", int64(id)))
	defer done(&err)
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return err
	}
	if err := roles.RequireMarketplaceOrDispute(caller); err != nil {
		return err
	}
	if err := common.Guard(e, ModuleName); err != nil {
		return err
	}
	p, err := e.loadPayment(id)
	if err != nil {
		return err
	}
	if p.Status != StatusPaid {
		return fmt.Errorf("%w: payment %d is %s, cannot refund", ErrInvalidState, p.ID, p.Status)
	}
	restore, err := e.transition(p, StatusRefunded)
	if err != nil {
		return err
	}
	if err := e.ledger.Transfer(ctx, e.vault, p.Payer, p.Amount); err != nil {
		return e.abort(ctx, restore, mapLedgerError(err))
	}
	e.emit(ctx, NewPaymentRefundedEvent(p))
	e.observeHolding(ctx)
	e.logTransition(ctx, opRefund, p, caller)
	return nil
}

// Withdraw sweeps the whole vault balance to the owner and returns the amount
// moved. An empty vault is a successful no-op.
func (e *Engine) Withdraw(ctx context.Context, caller [20]byte) (amount *big.Int, err error) {
	ctx, done := e.begin(ctx, opWithdraw)
	defer done(&err)
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return nil, err
	}
	if err := roles.RequireOwner(caller); err != nil {
		return nil, err
	}
	balance, err := e.ledger.BalanceOf(ctx, e.vault)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if balance.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, e.vault, roles.Owner, balance); err != nil {
			return nil, mapLedgerError(err)
		}
	}
	e.emit(ctx, NewWithdrawalEvent(roles.Owner, balance))
	e.observeHolding(ctx)
	e.logger.InfoContext(ctx, "escrow withdrawal",
		slog.String("owner", crypto.AddressFromRaw(roles.Owner).String()),
		slog.String("amount", balance.String()))
	return cloneBigInt(balance), nil
}
