package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/shadowcall"
	"github.com/opd-ai/shadowcall/account"
	"github.com/opd-ai/shadowcall/av"
	"github.com/opd-ai/shadowcall/factory"
	simtest "github.com/opd-ai/shadowcall/testing"
	"github.com/spf13/cobra"
)

const (
	demoAccount  = "alice"
	demoPassword = "secret"
	demoDevice   = "doorbell-1"
)

type demoOptions struct {
	attach string
	talk   time.Duration
}

func newDemoCmd(a *app) *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Call a simulated doorbell as alice",
		Long:  "demo logs alice into an in-memory cloud, dials doorbell-1, lets the doorbell answer, hangs up and prints every event on the way.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.attach, "attach", "front door", "invite metadata sent with the dial")
	cmd.Flags().DurationVar(&opts.talk, "talk", 0, "how long to stay in the call")
	return cmd
}

// printer serializes event lines coming from transport callbacks.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) line(who, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, "%-9s %s\n", who, fmt.Sprintf(format, args...))
}

func runDemo(ctx context.Context, a *app, opts demoOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &printer{out: out}

	options := shadowcall.NewOptions()
	options.Config = a.cfg
	options.Config.UseSimulation = true
	alice, err := shadowcall.New(options)
	if err != nil {
		return err
	}
	defer alice.Close(ctx)

	tr := alice.Transports()
	tr.Cloud.AddAccount(demoAccount, demoPassword)
	tr.Cloud.AddAccount("doorbell", "doorbell")
	tr.Cloud.SetDeviceName("doorbell", demoDevice)

	doorOptions := shadowcall.NewOptions()
	doorOptions.Config = options.Config
	doorOptions.Transports = &factory.Transports{
		PubSub:       tr.Broker.NewClient(),
		ControlPlane: tr.Cloud.NewControlPlane(),
		Media:        simtest.NewSimulatedMedia(),
		Broker:       tr.Broker,
		Cloud:        tr.Cloud,
	}
	door, err := shadowcall.New(doorOptions)
	if err != nil {
		return err
	}
	defer door.Close(ctx)

	alice.Account().SubscribeFunc(func(ev account.Event) {
		switch ev.Kind {
		case account.EventStateChanged:
			p.line("alice", "account %s", ev.State)
		case account.EventLoginDone:
			p.line("alice", "login done err=%v", ev.Err)
		}
	})
	watchCalls(p, "alice", alice.Calls())
	watchCalls(p, "doorbell", door.Calls())

	door.Calls().SubscribeFunc(func(ev av.Event) {
		if ev.Kind == av.EventPeerIncoming {
			if err := door.Calls().Answer(ctx); err != nil {
				p.line("doorbell", "answer failed: %v", err)
			}
		}
	})

	if err := door.Login(ctx, "doorbell", "doorbell"); err != nil {
		return fmt.Errorf("doorbell login: %w", err)
	}
	if err := alice.Login(ctx, demoAccount, demoPassword); err != nil {
		return fmt.Errorf("alice login: %w", err)
	}
	p.line("alice", "device %s", alice.Account().DeviceName())

	if err := alice.Dial(ctx, demoDevice, opts.attach); err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	tr.Broker.Settle()
	if alice.Calls().State() != av.StateTalking {
		return fmt.Errorf("call did not connect, state %s", alice.Calls().State())
	}

	stats := alice.Calls().NetworkStats()
	p.line("alice", "rtt=%s jitter=%s loss=%.1f%%", stats.RTT, stats.Jitter, stats.PacketLoss*100)
	if opts.talk > 0 {
		time.Sleep(opts.talk)
	}

	if err := alice.Calls().Hangup(ctx); err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	tr.Broker.Settle()

	for _, rec := range alice.Calls().History() {
		p.line("history", "%s %s %s talked=%s", rec.Peer, rec.Role, rec.Outcome, rec.Duration.Round(time.Millisecond))
	}
	return alice.Logout(ctx)
}

func watchCalls(p *printer, who string, calls *av.Manager) {
	calls.SubscribeFunc(func(ev av.Event) {
		switch {
		case ev.Kind == av.EventStateChanged:
			p.line(who, "call %s", ev.State)
		case ev.Err != nil:
			p.line(who, "%s peer=%s err=%v", ev.Kind, ev.Peer, ev.Err)
		default:
			p.line(who, "%s peer=%s", ev.Kind, ev.Peer)
		}
	})
}
