package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"

	"rentescrow/core/events"
	"rentescrow/crypto"
	"rentescrow/native/escrow"
	"rentescrow/observability/logging"
	"rentescrow/services/indexer"
)

type commandFunc func(n *node, args []string, stdout, stderr io.Writer) int

var commands = map[string]commandFunc{
	"init":     runInit,
	"info":     runInfo,
	"balance":  runBalance,
	"mint":     runMint,
	"create":   runCreate,
	"pay":      lifecycleCommand("pay", (*escrow.Engine).Pay),
	"release":  lifecycleCommand("release", (*escrow.Engine).Release),
	"refund":   lifecycleCommand("refund", (*escrow.Engine).Refund),
	"get":      runGet,
	"count":    runCount,
	"withdraw": runWithdraw,
	"set-fee":  runSetFee,
	"set-role": runSetRole,
	"pause":    pauseCommand("pause", true),
	"unpause":  pauseCommand("unpause", false),
	"events":   runEvents,
	"audit":    runAudit,
	"index":    runIndex,
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage())
	}
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

// printEngineError reports a rejected operation together with its machine
// readable reason.
func printEngineError(w io.Writer, err error) int {
	fmt.Fprintf(w, "Error [%s]: %v\n", escrow.Reason(err), err)
	return 1
}

func printJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return printError(w, err.Error())
	}
	return 0
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func requireAddress(flagName, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("--%s is required", flagName)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("--%s: %v", flagName, err)
	}
	return addr.Raw(), nil
}

// parseQuantity accepts any base-10 integer. Range checks are left to the
// engine so rejections carry its reason codes.
func parseQuantity(flagName, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("--%s is required", flagName)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("--%s must be a base-10 integer", flagName)
	}
	return amount, nil
}

func parseID(value string) (uint64, error) {
	if strings.TrimSpace(value) == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--id must be a non-negative integer")
	}
	return id, nil
}

func formatAddress(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.AddressFromRaw(raw).String()
}

type paymentView struct {
	ID     uint64 `json:"id"`
	Payer  string `json:"payer"`
	Payee  string `json:"payee"`
	Amount string `json:"amount"`
	Status string `json:"status"`
}

func newPaymentView(p *escrow.Payment) paymentView {
	return paymentView{
		ID:     p.ID,
		Payer:  formatAddress(p.Payer),
		Payee:  formatAddress(p.Payee),
		Amount: p.Amount.String(),
		Status: p.Status.String(),
	}
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	var out string
	fs.StringVar(&out, "out", "wallet.key", "file receiving the private key")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := os.WriteFile(out, key.Bytes(), 0o600); err != nil {
		return printError(stderr, fmt.Sprintf("save key to %s: %v", out, err))
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", out)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func runInit(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	g, err := genesis(n.cfg)
	if err != nil {
		return printError(stderr, err.Error())
	}
	allocs, err := allocations(n.cfg)
	if err != nil {
		return printError(stderr, err.Error())
	}
	_, initialised, err := n.state.EscrowRolesGet()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := n.engine.InitGenesis(n.ctx, g); err != nil {
		return printEngineError(stderr, err)
	}
	if initialised {
		fmt.Fprintln(stdout, "Escrow already initialised")
		return 0
	}
	for _, alloc := range allocs {
		if err := n.bank.Mint(n.ctx, alloc.to, alloc.amount); err != nil {
			return printError(stderr, fmt.Sprintf("mint allocation: %v", err))
		}
	}
	fmt.Fprintf(stdout, "Escrow initialised for owner %s with %d allocation(s)\n", formatAddress(g.Owner), len(allocs))
	return 0
}

func runInfo(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("info", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	owner, err := n.engine.Owner()
	if err != nil {
		return printEngineError(stderr, err)
	}
	marketplace, _ := n.engine.Marketplace()
	dispute, _ := n.engine.DisputeAuthority()
	protection, err := n.engine.ProtectionFee()
	if err != nil {
		return printEngineError(stderr, err)
	}
	commission, err := n.engine.CommissionFee()
	if err != nil {
		return printEngineError(stderr, err)
	}
	paused, err := n.engine.Paused()
	if err != nil {
		return printEngineError(stderr, err)
	}
	balance, err := n.engine.Balance(n.ctx)
	if err != nil {
		return printEngineError(stderr, err)
	}
	count, err := n.engine.PaymentCount()
	if err != nil {
		return printEngineError(stderr, err)
	}
	return printJSON(stdout, map[string]interface{}{
		"asset":            n.bank.Asset(),
		"owner":            formatAddress(owner),
		"marketplace":      formatAddress(marketplace),
		"disputeAuthority": formatAddress(dispute),
		"vault":            formatAddress(n.engine.Vault()),
		"protectionFee":    protection.String(),
		"commissionFee":    commission.String(),
		"paused":           paused,
		"holdingBalance":   balance.String(),
		"payments":         count,
	})
}

func runBalance(n *node, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "balance requires exactly one address")
	}
	addr, err := crypto.ParseAddress(args[0])
	if err != nil {
		return printError(stderr, err.Error())
	}
	balance, err := n.bank.BalanceOf(n.ctx, addr.Raw())
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "%s %s\n", balance.String(), n.bank.Asset())
	return 0
}

func runMint(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr)
	var to, amountStr string
	fs.StringVar(&to, "to", "", "recipient address")
	fs.StringVar(&amountStr, "amount", "", "amount to credit")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := requireAddress("to", to)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := parseQuantity("amount", amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	// The vault balance must equal the replayed escrow history.
	if addr == n.engine.Vault() {
		return printError(stderr, fmt.Sprintf("cannot mint to the escrow vault %s", formatAddress(addr)))
	}
	if err := n.bank.Mint(n.ctx, addr, amount); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Minted %s %s to %s\n", amount, n.bank.Asset(), formatAddress(addr))
	return 0
}

func runCreate(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var caller, payer, payee, amountStr string
	fs.StringVar(&caller, "caller", "", "marketplace or dispute authority address")
	fs.StringVar(&payer, "payer", "", "tenant address")
	fs.StringVar(&payee, "payee", "", "landlord address")
	fs.StringVar(&amountStr, "amount", "", "rent amount")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	callerAddr, err := requireAddress("caller", caller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	payerAddr, err := requireAddress("payer", payer)
	if err != nil {
		return printError(stderr, err.Error())
	}
	payeeAddr, err := requireAddress("payee", payee)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := parseQuantity("amount", amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	id, err := n.engine.Create(n.ctx, callerAddr, payerAddr, payeeAddr, amount)
	if err != nil {
		return printEngineError(stderr, err)
	}
	fmt.Fprintf(stdout, "Payment %d created\n", id)
	return 0
}

type lifecycleFunc func(*escrow.Engine, context.Context, [20]byte, uint64) error

func lifecycleCommand(name string, op lifecycleFunc) commandFunc {
	return func(n *node, args []string, stdout, stderr io.Writer) int {
		fs := newFlagSet(name, stderr)
		var caller, idStr string
		fs.StringVar(&caller, "caller", "", "caller address")
		fs.StringVar(&idStr, "id", "", "payment id")
		if !parseFlags(fs, args, stderr) {
			return 1
		}
		callerAddr, err := requireAddress("caller", caller)
		if err != nil {
			return printError(stderr, err.Error())
		}
		id, err := parseID(idStr)
		if err != nil {
			return printError(stderr, err.Error())
		}
		if err := op(n.engine, n.ctx, callerAddr, id); err != nil {
			return printEngineError(stderr, err)
		}
		p, err := n.engine.Payment(id)
		if err != nil {
			return printEngineError(stderr, err)
		}
		fmt.Fprintf(stdout, "Payment %d is %s\n", id, p.Status)
		return 0
	}
}

func runGet(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var idStr string
	fs.StringVar(&idStr, "id", "", "payment id")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseID(idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	p, err := n.engine.Payment(id)
	if err != nil {
		return printEngineError(stderr, err)
	}
	return printJSON(stdout, newPaymentView(p))
}

func runCount(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("count", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	count, err := n.engine.PaymentCount()
	if err != nil {
		return printEngineError(stderr, err)
	}
	fmt.Fprintln(stdout, count)
	return 0
}

func runWithdraw(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("withdraw", stderr)
	var caller string
	fs.StringVar(&caller, "caller", "", "owner address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	callerAddr, err := requireAddress("caller", caller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := n.engine.Withdraw(n.ctx, callerAddr)
	if err != nil {
		return printEngineError(stderr, err)
	}
	fmt.Fprintf(stdout, "Withdrew %s %s\n", amount, n.bank.Asset())
	return 0
}

func runSetFee(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("set-fee", stderr)
	var caller, kindStr, valueStr string
	fs.StringVar(&caller, "caller", "", "owner address")
	fs.StringVar(&kindStr, "kind", "", "protection or commission")
	fs.StringVar(&valueStr, "value", "", "new fee value")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	callerAddr, err := requireAddress("caller", caller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	kind, err := escrow.ParseFeeKind(strings.ToLower(strings.TrimSpace(kindStr)))
	if err != nil {
		return printError(stderr, "--kind must be protection or commission")
	}
	value, err := parseQuantity("value", valueStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if kind == escrow.FeeKindProtection {
		err = n.engine.SetProtectionFee(n.ctx, callerAddr, value)
	} else {
		err = n.engine.SetCommissionFee(n.ctx, callerAddr, value)
	}
	if err != nil {
		return printEngineError(stderr, err)
	}
	fmt.Fprintf(stdout, "%s fee set to %s\n", kind, value)
	return 0
}

func runSetRole(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("set-role", stderr)
	var caller, roleStr, address string
	fs.StringVar(&caller, "caller", "", "owner address")
	fs.StringVar(&roleStr, "role", "", "marketplace or dispute")
	fs.StringVar(&address, "address", "", "new role address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	callerAddr, err := requireAddress("caller", caller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr, err := requireAddress("address", address)
	if err != nil {
		return printError(stderr, err.Error())
	}
	switch strings.ToLower(strings.TrimSpace(roleStr)) {
	case "marketplace":
		err = n.engine.SetMarketplace(n.ctx, callerAddr, addr)
	case "dispute", "dispute_authority":
		err = n.engine.SetDisputeAuthority(n.ctx, callerAddr, addr)
	default:
		return printError(stderr, "--role must be marketplace or dispute")
	}
	if err != nil {
		return printEngineError(stderr, err)
	}
	fmt.Fprintf(stdout, "%s set to %s\n", strings.ToLower(strings.TrimSpace(roleStr)), formatAddress(addr))
	return 0
}

func pauseCommand(name string, paused bool) commandFunc {
	return func(n *node, args []string, stdout, stderr io.Writer) int {
		fs := newFlagSet(name, stderr)
		var caller string
		fs.StringVar(&caller, "caller", "", "owner address")
		if !parseFlags(fs, args, stderr) {
			return 1
		}
		callerAddr, err := requireAddress("caller", caller)
		if err != nil {
			return printError(stderr, err.Error())
		}
		if err := n.engine.SetPaused(n.ctx, callerAddr, paused); err != nil {
			return printEngineError(stderr, err)
		}
		fmt.Fprintf(stdout, "Escrow paused: %t\n", paused)
		return 0
	}
}

type recordView struct {
	Sequence   uint64            `json:"sequence"`
	Hash       string            `json:"hash"`
	PrevHash   string            `json:"prevHash"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func newRecordView(rec *events.Record) recordView {
	return recordView{
		Sequence:   rec.Sequence,
		Hash:       fmt.Sprintf("%x", rec.Hash),
		PrevHash:   fmt.Sprintf("%x", rec.PrevHash),
		Type:       rec.Event.Type,
		Attributes: rec.Event.Attributes,
	}
}

func runEvents(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var from uint64
	fs.Uint64Var(&from, "from", 0, "first sequence number to print")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	records, err := n.log.Records(from)
	if err != nil {
		return printError(stderr, err.Error())
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRecordView(rec))
	}
	return printJSON(stdout, views)
}

func runAudit(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("audit", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	records, err := n.log.Records(0)
	if err != nil {
		return printError(stderr, err.Error())
	}
	snap, err := escrow.Replay(records)
	if err != nil {
		if errors.Is(err, events.ErrChainBroken) {
			return printError(stderr, fmt.Sprintf("notification chain broken: %v", err))
		}
		return printEngineError(stderr, err)
	}
	balance, err := n.engine.Balance(n.ctx)
	if err != nil {
		return printEngineError(stderr, err)
	}
	count, err := n.engine.PaymentCount()
	if err != nil {
		return printEngineError(stderr, err)
	}
	if snap.HoldingBalance.Cmp(balance) != 0 {
		n.logger.Error("holding balance mismatch",
			slog.String("replayed", snap.HoldingBalance.String()),
			slog.String("ledger", balance.String()))
		return printError(stderr, fmt.Sprintf("holding balance mismatch: replayed %s, ledger %s", snap.HoldingBalance, balance))
	}
	if uint64(len(snap.Payments)) != count {
		return printError(stderr, fmt.Sprintf("payment count mismatch: replayed %d, stored %d", len(snap.Payments), count))
	}
	fmt.Fprintf(stdout, "Audit ok: %d record(s), %d payment(s), holding %s, commission %s, withdrawn %s\n",
		len(records), count, snap.HoldingBalance, snap.Commission, snap.Withdrawn)
	return 0
}

func runIndex(n *node, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("index", stderr)
	dsn := n.cfg.Indexer.DSN
	fs.StringVar(&dsn, "dsn", dsn, "projection database DSN")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	store, err := indexer.Open(dsn)
	if err != nil {
		return printError(stderr, err.Error())
	}
	defer store.Close()
	applied, err := store.Sync(n.ctx, n.log)
	if err != nil {
		return printError(stderr, err.Error())
	}
	n.logger.Info("indexer synced", logging.DSNField("dsn", dsn), slog.Int("applied", applied))
	fmt.Fprintf(stdout, "Indexed %d new record(s)\n", applied)
	return 0
}
