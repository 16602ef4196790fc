package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/noah-isme/tour-checkout/internal/app"
	"github.com/noah-isme/tour-checkout/internal/checkout"
	"github.com/noah-isme/tour-checkout/internal/config"
	"github.com/noah-isme/tour-checkout/internal/obs"
	"github.com/noah-isme/tour-checkout/internal/payment"
	"github.com/noah-isme/tour-checkout/internal/poller"
	"github.com/noah-isme/tour-checkout/internal/qr"
)

// resolve prints the payment view derived from a booking record file, or
// follows a live booking until its payment reaches a terminal state.
// Exit code 0 = ok (or succeeded), 1 = failed/timed out, 2 = usage or runtime error.
func main() {
	file := flag.String("file", "", "booking or payment record JSON file (- for stdin)")
	bookingID := flag.String("booking", "", "booking id to follow against BOOKING_API_URL")
	currency := flag.String("currency", "VND", "default currency for -file")
	flag.Parse()

	switch {
	case *file != "":
		if err := resolveFile(*file, *currency, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "resolve: %v\n", err)
			os.Exit(2)
		}
	case *bookingID != "":
		code, err := follow(*bookingID, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve: %v\n", err)
			os.Exit(2)
		}
		os.Exit(code)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func resolveFile(path, currency string, out io.Writer) error {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	record := payment.DecodeObject(raw)
	if record == nil {
		return fmt.Errorf("%s: not a JSON object", path)
	}
	projector := checkout.NewProjector(qr.NewEngine(qr.Config{}), currency)
	return writeJSON(out, projector.Project(record, payment.ReportFromMap(record)))
}

func follow(bookingID string, out io.Writer) (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	logger := obs.NewLogger("text", "warn")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger, app.Options{ServiceName: "tour-checkout-resolve"})
	if err != nil {
		return 0, err
	}
	defer deps.Close()

	booking, err := deps.Bookings.FetchBooking(ctx, bookingID)
	if err != nil {
		return 0, err
	}
	if err := writeJSON(out, deps.Projector.Project(booking, payment.StatusReport{})); err != nil {
		return 0, err
	}

	done := make(chan poller.Snapshot, 1)
	p, err := poller.New(ctx, bookingID, poller.Config{
		Interval:       cfg.PollInterval,
		Timeout:        cfg.PollTimeout,
		RequestTimeout: cfg.PollRequestTimeout,
		Fetcher:        deps.Bookings,
		Logger:         logger,
		Listener: func(s poller.Snapshot) {
			fmt.Fprintf(out, "attempt=%d state=%s status=%s\n", s.Attempts, s.State, s.Status)
			if s.State.Terminal() {
				select {
				case done <- s:
				default:
				}
			}
		},
	})
	if err != nil {
		return 0, err
	}
	if err := p.Start(); err != nil {
		return 0, err
	}
	defer p.Cancel()

	select {
	case s := <-done:
		if err := writeJSON(out, deps.Projector.Project(booking, s.Report)); err != nil {
			return 0, err
		}
		if s.State == poller.StateSucceeded {
			return 0, nil
		}
		return 1, nil
	case <-ctx.Done():
		return 2, ctx.Err()
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
