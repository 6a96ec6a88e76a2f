package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/config"
	"github.com/alfredjeanlab/conntree/internal/events"
	"github.com/alfredjeanlab/conntree/internal/multiuser"
	"github.com/alfredjeanlab/conntree/internal/store/xmlfile"
	ctsync "github.com/alfredjeanlab/conntree/internal/sync"
	"github.com/alfredjeanlab/conntree/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the connections in sync with other instances until interrupted",
	Long: `Keep the connections in sync with other instances until interrupted.

The backend is polled for changes made elsewhere (file modification time for
xml, the update marker for sql) and reloaded when one is seen. With
CONNTREE_NATS_URL set, saves announced by other instances trigger a reload
as well, and --events prints every tree change on the bus. With a mirror
configured and CONNTREE_MIRROR_INTERVAL set, the sql tree is also copied to
the mirror destinations on that interval.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printEvents, _ := cmd.Flags().GetBool("events")
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = cfg.UpdateCheckInterval
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		reload := func(ctx context.Context) error {
			if err := a.svc.Reload(ctx); err != nil {
				return err
			}
			fmt.Printf("%s reloaded %d nodes\n", time.Now().Format("15:04:05"), a.svc.Tree().NodeCount())
			return nil
		}

		poller := multiuser.NewSynchronizer(a.checker, reload, interval, logger)
		poller.Start()
		defer poller.Stop()

		if fc, ok := a.checker.(*multiuser.FileChecker); ok {
			w, err := multiuser.NewFileWatcher(cfg.File, fc, func(ctx context.Context) {
				if err := reload(ctx); err != nil {
					logger.Error("reload after file change failed", "err", err)
				}
			}, logger)
			if err != nil {
				logger.Warn("file watching disabled, polling only", "err", err)
			} else {
				defer w.Close()
				go w.Run(ctx)
			}
		}

		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Warn("event bus unavailable", "err", err)
			} else {
				defer sub.Close()
				bus, err := multiuser.NewBusChecker(sub, cfg.Instance, logger)
				if err != nil {
					return err
				}
				defer bus.Close()
				busSync := multiuser.NewSynchronizer(bus, reload, multiuser.DefaultInterval/10, logger)
				busSync.Start()
				defer busSync.Stop()

				if printEvents {
					ch, cancel, err := sub.Subscribe(events.TopicAll)
					if err != nil {
						return err
					}
					defer cancel()
					go printBusEvents(ch)
				}
			}
		}

		if a.mirror != nil && cfg.Backend == config.BackendSQL && cfg.MirrorInterval > 0 {
			ser := xmlfile.NewSerializer(a.provider, cfg.FullFileEncryption)
			snapshot := func(context.Context) ([]byte, error) {
				return ser.Serialize(a.svc.Tree().ConnectionsRoot())
			}
			sched := ctsync.NewScheduler(snapshot, a.mirror, cfg.MirrorInterval, logger)
			sched.Start()
			defer sched.Stop()
		}

		fmt.Fprintf(os.Stderr, "Watching %s connections (%s)\n", cfg.Backend, ui.RenderMuted("Ctrl-C to stop"))
		<-ctx.Done()
		return nil
	},
}

func printBusEvents(ch <-chan events.Message) {
	for msg := range ch {
		if jsonOutput {
			fmt.Println(string(msg.Data))
			continue
		}
		ev, err := events.Decode(msg)
		if err != nil {
			logger.Debug("skipping undecodable event", "topic", msg.Topic, "err", err)
			continue
		}
		switch ev := ev.(type) {
		case events.NodeChanged:
			line := fmt.Sprintf("%s %s %s", ui.RenderAccent(ev.Kind), ev.NodeID, ev.Name)
			if ev.Property != "" {
				line += " " + ui.RenderMuted(ev.Property)
			}
			fmt.Println(line + " " + ui.RenderMuted("("+ev.Instance+")"))
		case events.ConnectionsSaved:
			fmt.Printf("%s %s saved %d nodes to %s\n", ui.RenderAccent("saved"), ev.Instance, ev.Nodes, ev.Location)
		}
	}
}

func init() {
	watchCmd.Flags().Bool("events", false, "print tree changes published on the event bus")
	watchCmd.Flags().Duration("interval", 0, "how often to check the backend (default CONNTREE_UPDATE_CHECK_INTERVAL)")
}
