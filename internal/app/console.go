package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kasir-checkout/internal/domain/basket"
	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/checkout"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

// Checkout submits baskets. It is implemented by *checkout.Service.
type Checkout interface {
	Submit(
		ctx context.Context,
		snap basket.Snapshot,
		member catalog.Member,
		method checkout.Method,
		pin string,
		hooks settlement.Hooks,
	) (*checkout.Result, error)
}

// ConsoleDeps are the collaborators of a Console.
type ConsoleDeps struct {
	Products    catalog.Products
	MarginRules catalog.MarginRules
	Members     catalog.Members
	Checkout    Checkout
}

// Console is the operator's checkout session. All session state is owned by
// the goroutine running Run; settlement hooks only hand notifications to it.
type Console struct {
	deps ConsoleDeps
	in   io.Reader
	out  io.Writer
	lg   *zap.Logger

	basket *basket.Store
	member catalog.Member

	active   *settlement.Machine
	terminal chan settlement.Settlement
	changes  chan settlement.Settlement
	shownQR  string
	reminded int

	// current is read by the admin server.
	current atomic.Pointer[settlement.Settlement]
}

// NewConsole creates a Console reading commands from in.
func NewConsole(deps ConsoleDeps, in io.Reader, out io.Writer, lg *zap.Logger) *Console {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Console{
		deps:   deps,
		in:     in,
		out:    out,
		lg:     lg,
		member: catalog.NonMember,
	}
}

// Settlement returns the settlement of the current checkout attempt.
func (c *Console) Settlement() (settlement.Settlement, bool) {
	s := c.current.Load()
	if s == nil {
		return settlement.Settlement{}, false
	}
	return *s, true
}

func (c *Console) publish(s settlement.Settlement) { c.current.Store(&s) }

var errQuit = errors.New("quit")

// Run loads the catalog and processes commands until quit, end of input or
// ctx is done.
func (c *Console) Run(ctx context.Context) error {
	if err := c.newSession(ctx); err != nil {
		return err
	}
	defer c.discard()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("Kasir ready. %d products loaded. Type \"help\" for commands.\n", len(c.basket.Offers()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("error: %v\n", err)
			}
		case s := <-c.changes:
			c.onChange(s)
		case s := <-c.terminal:
			c.terminal = nil
			c.onTerminal(s)
		}
	}
}

// settleFinished handles a terminal notification the loop has not picked up
// yet, so a command never runs against a basket that is already paid.
func (c *Console) settleFinished() {
	if c.active == nil || c.terminal == nil {
		return
	}
	if c.active.Current().Status.IsTerminal() {
		// OnTerminal fires before Done is closed.
		<-c.active.Done()
	}
	select {
	case s := <-c.terminal:
		c.terminal = nil
		c.onTerminal(s)
	default:
	}
}

// newSession reloads the catalog and starts an empty basket for a walk-in
// customer.
func (c *Console) newSession(ctx context.Context) error {
	products, err := c.deps.Products.List(ctx)
	if err != nil {
		return errors.Wrap(err, "load products")
	}
	rules, err := c.deps.MarginRules.List(ctx)
	if err != nil {
		return errors.Wrap(err, "load margin rules")
	}
	c.basket = basket.New(products, pricing.NewEngine(rules))
	c.member = catalog.NonMember
	c.lg.Info("Session started", zap.Int("products", len(products)), zap.Int("margin_rules", len(rules)))
	return nil
}

// discard abandons the tracked settlement, if any.
func (c *Console) discard() {
	if c.active != nil {
		c.active.Cancel()
	}
	c.active = nil
	c.terminal = nil
	c.changes = nil
	c.shownQR = ""
	c.reminded = 0
	c.current.Store(nil)
}

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]
	c.settleFinished()

	switch cmd {
	case "help", "?":
		c.help()
	case "products", "ls":
		c.products()
	case "add":
		return c.add(args)
	case "qty":
		return c.qty(args)
	case "rm":
		return c.rm(args)
	case "member":
		return c.setMember(ctx, args)
	case "find":
		return c.find(ctx, args)
	case "basket", "b":
		c.printBasket()
	case "pay":
		return c.pay(ctx, args)
	case "status":
		c.status()
	case "cancel":
		c.cancel()
	case "new":
		c.discard()
		if err := c.newSession(ctx); err != nil {
			return err
		}
		c.printf("New transaction.\n")
	case "quit", "exit":
		return errQuit
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (c *Console) help() {
	c.printf(`Commands:
  products                 list products at the current tier
  add <id> [qty]           add qty (default 1) of a product
  qty <id> <n>             set the quantity of a product (0 removes it)
  rm <id>                  remove a product
  member <id>|none         select the customer
  find <text>              search members
  basket                   show the basket
  pay cash|qris <pin>      check out
  status                   show the pending payment
  cancel                   stop waiting for the pending payment
  new                      start a new transaction
  quit                     exit
`)
}

func (c *Console) products() {
	for _, o := range c.basket.Offers() {
		c.printf("  %-12s %-30s %12s  stock %d\n",
			o.Product.ID, o.Product.Name, rupiah(o.Quote.UnitPrice), o.Product.Stock)
	}
}

func (c *Console) editable() error {
	if c.active != nil && !c.active.Current().Status.IsTerminal() {
		return errors.New("a QRIS payment is pending; use \"cancel\" or \"new\" first")
	}
	return nil
}

func (c *Console) add(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: add <id> [qty]")
	}
	n := 1
	if len(args) == 2 {
		var err error
		if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
			return errors.Errorf("invalid quantity %q", args[1])
		}
	}
	return c.setQuantity(args[0], c.basket.Quantity(args[0])+n)
}

func (c *Console) qty(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: qty <id> <n>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.Errorf("invalid quantity %q", args[1])
	}
	return c.setQuantity(args[0], n)
}

func (c *Console) rm(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm <id>")
	}
	return c.setQuantity(args[0], 0)
}

func (c *Console) setQuantity(id string, n int) error {
	if err := c.editable(); err != nil {
		return err
	}
	if !c.basket.SetQuantity(id, n) {
		return errors.Errorf("unknown product %q", id)
	}
	if got := c.basket.Quantity(id); n > 0 && got < n {
		c.printf("Only %d in stock.\n", got)
	}
	c.printBasket()
	return nil
}

func (c *Console) setMember(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: member <id>|none")
	}
	if err := c.editable(); err != nil {
		return err
	}
	if strings.EqualFold(args[0], "none") {
		c.member = catalog.NonMember
	} else {
		m, err := c.deps.Members.GetByID(ctx, args[0])
		if err != nil {
			return err
		}
		c.member = *m
	}
	c.basket.SetTier(c.member.Tier)
	c.printf("Customer: %s (%s)\n", c.member.Name, c.member.Tier)
	c.printBasket()
	return nil
}

func (c *Console) find(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: find <text>")
	}
	found, err := c.deps.Members.Search(ctx, strings.Join(args, " "), 10)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		c.printf("No members found.\n")
	}
	for _, m := range found {
		c.printf("  %-12s %-30s %s\n", m.ID, m.Name, m.Tier)
	}
	return nil
}

func (c *Console) printBasket() {
	snap := c.basket.Snapshot()
	if snap.Empty() {
		c.printf("Basket is empty.\n")
		return
	}
	for _, l := range snap.Lines {
		c.printf("  %-30s %3d x %10s = %12s\n", l.Name, l.Quantity, rupiah(l.UnitPrice), rupiah(l.Total()))
	}
	c.printf("  Subtotal %s, margin %s, total %s [%s]\n",
		rupiah(snap.Summary.Subtotal), rupiah(snap.Summary.TotalMargin), rupiah(snap.Summary.GrandTotal), snap.Tier)
}

func (c *Console) pay(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: pay cash|qris <pin>")
	}
	if err := c.editable(); err != nil {
		return err
	}
	method, err := checkout.ParseMethod(args[0])
	if err != nil {
		return err
	}
	c.discard()

	terminal := make(chan settlement.Settlement, 1)
	changes := make(chan settlement.Settlement, 1)
	hooks := settlement.Hooks{
		OnChange: func(s settlement.Settlement) {
			c.publish(s)
			select {
			case changes <- s:
			default:
			}
		},
		OnTerminal: func(s settlement.Settlement) {
			terminal <- s
		},
	}

	res, err := c.deps.Checkout.Submit(ctx, c.basket.Snapshot(), c.member, method, args[1], hooks)
	switch {
	case errors.Is(err, checkout.ErrGatewayUnavailable) && isQRIS(method):
		c.printf("QRIS is not available for this merchant. Use \"pay cash <pin>\" instead.\n")
		return nil
	case err != nil:
		return err
	}

	if res.Machine == nil {
		c.publish(res.Settlement)
		c.onTerminal(res.Settlement)
		return nil
	}

	c.active = res.Machine
	c.terminal = terminal
	c.changes = changes
	c.publish(res.Machine.Current())
	c.printf("Order %s is waiting for QRIS payment.\n", res.Settlement.OrderID)
	c.onChange(res.Settlement)
	return nil
}

func isQRIS(m checkout.Method) bool {
	_, ok := m.(checkout.QRIS)
	return ok
}

func (c *Console) onChange(s settlement.Settlement) {
	if s.Status.IsTerminal() {
		return
	}
	left := s.RemainingSeconds()
	switch {
	case s.AwaitingQR():
		if c.shownQR == "" {
			c.printf("Waiting for the gateway to issue the QR code...\n")
			c.shownQR = "-"
			c.reminded = left
		}
	case s.QRPayload != c.shownQR:
		c.shownQR = s.QRPayload
		c.reminded = left
		c.printf("Scan to pay: %s\n", s.QRPayload)
		c.printf("Expires in %s.\n", countdown(left))
	case left%60 == 0 && left != c.reminded:
		c.reminded = left
		c.printf("Payment pending, %s left.\n", countdown(left))
	}
}

// onTerminal reports the outcome of the current checkout. The basket is
// cleared only for PAID; a failed or expired payment keeps it for a retry.
func (c *Console) onTerminal(s settlement.Settlement) {
	switch s.Status {
	case settlement.StatusPaid:
		c.printf("Order %s PAID.\n", s.OrderID)
		c.basket.Clear()
		c.member = catalog.NonMember
		c.basket.SetTier(c.member.Tier)
	case settlement.StatusFailed:
		msg := s.Error
		if msg == "" {
			msg = "payment failed"
		}
		c.printf("Order %s FAILED: %s\n", s.OrderID, msg)
	case settlement.StatusExpired:
		c.printf("Order %s EXPIRED. Start a new payment to retry.\n", s.OrderID)
	}
	c.lg.Info("Checkout finished", zap.String("order_id", s.OrderID), zap.Stringer("status", s.Status))
}

func (c *Console) status() {
	s, ok := c.Settlement()
	if !ok {
		c.printf("No payment in progress.\n")
		return
	}
	if c.active != nil {
		s = c.active.Current()
	}
	c.printf("Order %s: %s", s.OrderID, s.Status)
	if s.Status == settlement.StatusPending {
		if s.AwaitingQR() {
			c.printf(", waiting for QR")
		}
		c.printf(", %s left", countdown(s.RemainingSeconds()))
	}
	c.printf("\n")
}

func (c *Console) cancel() {
	if c.active == nil || c.active.Current().Status.IsTerminal() {
		c.printf("No pending payment.\n")
		return
	}
	orderID := c.active.OrderID()
	c.discard()
	c.printf("Stopped waiting for order %s. The basket is kept.\n", orderID)
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// rupiah formats an amount with dot thousands separators: Rp 11.000.
func rupiah(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "Rp " + b.String()
}

func countdown(sec int) string {
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
