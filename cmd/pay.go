package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frahmantamala/checkout/internal/checkout"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"github.com/spf13/cobra"
)

var (
	payOrderID string
	payMethod  string
	payFields  []string
	payTimeout time.Duration
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Run one checkout from the command line",
	Long: `Drive a single checkout session against the configured gateway and print every state.
Exits non-zero unless the payment succeeds.

  checkout pay --order order_123 --method upi --field vpa=payer@okbank`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPay()
	},
}

func init() {
	payCmd.Flags().StringVar(&payOrderID, "order", "", "order id to pay")
	payCmd.Flags().StringVar(&payMethod, "method", "upi", "payment method (upi or card)")
	payCmd.Flags().StringArrayVar(&payFields, "field", nil, "form field as name=value, repeatable")
	payCmd.Flags().DurationVar(&payTimeout, "timeout", 2*time.Minute, "give up after this long")
}

func parseFields(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --field %q, want name=value", pair)
		}
		fields[strings.TrimSpace(name)] = value
	}
	return fields, nil
}

func runPay() error {
	fields, err := parseFields(payFields)
	if err != nil {
		return err
	}
	method, ok := checkoutDatamodel.ParseMethod(payMethod)
	if !ok {
		return fmt.Errorf("unsupported method %q", payMethod)
	}

	cfg, err := loadConfig(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg.Observability.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, payTimeout)
	defer cancel()

	app := newCheckoutApp(cfg, log)
	defer app.Close()

	feed := newStateFeed(64)
	m := app.NewMachine(checkout.WithTransitionHook(feed.hook))
	defer m.Close()

	if err := m.Start(payOrderID); err != nil {
		return err
	}

	submitted := false
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("checkout did not finish: %w", ctx.Err())
		case s := <-feed.outcome:
			feed.flush(printState)
			printState(s)

			switch st := s.(type) {
			case checkout.Success:
				return nil
			case checkout.Failed:
				return fmt.Errorf("payment %s failed: %s", st.PaymentID, st.Reason)
			case checkout.Error:
				return fmt.Errorf("checkout error: %s", st.Message)
			case checkout.OrderNotFound:
				return fmt.Errorf("order %q not found", st.OrderID)
			}
		case s := <-feed.states:
			printState(s)

			switch st := s.(type) {
			case checkout.SelectingMethod:
				if err := m.SelectMethod(method); err != nil {
					return err
				}
			case checkout.FillingForm:
				if st.Message != "" {
					return fmt.Errorf("payment not accepted: %s", st.Message)
				}
				if submitted {
					continue
				}
				submitted = true
				if err := m.SetFields(fields); err != nil {
					return err
				}
				if err := m.Submit(); err != nil {
					return err
				}
			}
		}
	}
}

// stateFeed hands machine states to the pay loop. The hook runs on the machine's
// event loop and never blocks: progress states are dropped once states is full,
// while the first terminal state always lands in outcome.
type stateFeed struct {
	states  chan checkout.State
	outcome chan checkout.State
}

func newStateFeed(size int) *stateFeed {
	return &stateFeed{
		states:  make(chan checkout.State, size),
		outcome: make(chan checkout.State, 1),
	}
}

func (f *stateFeed) hook(_, to checkout.State) {
	ch := f.states
	if checkout.IsTerminal(to) {
		ch = f.outcome
	}
	select {
	case ch <- to:
	default:
	}
}

// flush passes every queued progress state to fn.
func (f *stateFeed) flush(fn func(checkout.State)) {
	for {
		select {
		case s := <-f.states:
			fn(s)
		default:
			return
		}
	}
}

func printState(s checkout.State) {
	line := string(s.Name())
	switch st := s.(type) {
	case checkout.SelectingMethod:
		line += fmt.Sprintf(" order=%s amount=%d", st.Order.ID, st.Order.Amount)
	case checkout.AwaitingOutcome:
		line += fmt.Sprintf(" payment=%s status=%s", st.PaymentID, st.Status)
	case checkout.Success:
		line += " payment=" + st.PaymentID
	}
	fmt.Fprintln(os.Stdout, line)
}
