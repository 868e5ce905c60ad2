package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/screencontrol/sc-console/config"
	"github.com/screencontrol/sc-console/internal/console"
	"github.com/screencontrol/sc-console/internal/console/decode"
	"github.com/screencontrol/sc-console/internal/console/protocol"
	"github.com/screencontrol/sc-console/internal/console/session"
	"github.com/screencontrol/sc-console/internal/util"
)

type connectOptions struct {
	server        string
	token         string
	quality       string
	decoder       string
	statsInterval time.Duration
}

// NewConnectCommand creates the connect command.
func NewConnectCommand() *cobra.Command {
	opts := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect <session-id>",
		Short: "Connect to a screen sharing session",
		Long: `Connect to a screen sharing session and stream the remote desktop.

The console reconnects automatically after network drops and adapts the
stream quality to the measured latency unless a fixed quality is requested.`,
		Example: `  sc-console connect 3f9c2a
  sc-console connect 3f9c2a --server https://console.example.com --quality high
  sc-console connect 3f9c2a --decoder software`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", config.GetServerURL(), "Session server URL")
	cmd.Flags().StringVar(&opts.token, "token", config.GetAuthToken(), "Bearer token for the handshake")
	cmd.Flags().StringVar(&opts.quality, "quality", defaultQuality(), "Fixed quality tier (low|medium|high|ultra), empty for adaptive")
	cmd.Flags().StringVar(&opts.decoder, "decoder", config.GetDecoderBackend(), "Decode backend (auto|hardware|software)")
	cmd.Flags().DurationVar(&opts.statsInterval, "stats-interval", 5*time.Second, "How often to print stream statistics, 0 to disable")

	return cmd
}

func defaultQuality() string {
	if config.GetQualityAuto() {
		return ""
	}
	return config.GetQualityTier()
}

func parseTier(name string) (session.Tier, error) {
	switch strings.ToLower(name) {
	case "low":
		return session.TierLow, nil
	case "medium":
		return session.TierMedium, nil
	case "high":
		return session.TierHigh, nil
	case "ultra":
		return session.TierUltra, nil
	}
	return 0, fmt.Errorf("unknown quality tier %q (want low, medium, high or ultra)", name)
}

func parseBackend(name string) (decode.Kind, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return decode.KindUnselected, nil
	case "hardware":
		return decode.KindHardware, nil
	case "software":
		return decode.KindSoftware, nil
	}
	return 0, fmt.Errorf("unknown decode backend %q (want auto, hardware or software)", name)
}

func runConnect(sessionID string, opts *connectOptions) error {
	var tier session.Tier
	fixedQuality := opts.quality != ""
	if fixedQuality {
		var err error
		if tier, err = parseTier(opts.quality); err != nil {
			return err
		}
	}
	backend, err := parseBackend(opts.decoder)
	if err != nil {
		return err
	}

	lis := newConnectListener()
	c := console.New(console.Options{
		ServerURL: opts.server,
		SessionID: sessionID,
		AuthToken: opts.token,
		Backend:   backend,
	}, lis)

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = fmt.Sprintf(" Connecting to session %s...", sessionID)
	sp.Start()

	c.Connect()
	defer c.Close()

	select {
	case <-lis.connected:
		sp.Stop()
		fmt.Printf("%s Connected to session %s\n", color.GreenString("✓"), sessionID)
	case <-lis.done:
		sp.Stop()
		return fmt.Errorf("session ended before the connection came up")
	case <-time.After(30 * time.Second):
		sp.Stop()
		c.Close()
		return fmt.Errorf("timed out connecting to session %s", sessionID)
	}

	if fixedQuality {
		c.SetQualityTier(tier)
		fmt.Printf("Quality pinned to %s\n", tier.String())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// A nil channel blocks forever, which disables stats output.
	var statsC <-chan time.Time
	if opts.statsInterval > 0 {
		ticker := time.NewTicker(opts.statsInterval)
		defer ticker.Stop()
		statsC = ticker.C
	}

	fmt.Printf("(Press %s to disconnect.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))

	for {
		select {
		case <-sigCh:
			fmt.Println("\nDisconnecting...")
			return c.Close()
		case <-lis.done:
			fmt.Println("Session ended.")
			return nil
		case <-statsC:
			printStats(c)
		}
	}
}

func printStats(c *console.Console) {
	w, h := c.Resolution()
	fmt.Printf("%s  %dx%d  %d fps  %s latency  quality=%s  decoder=%s\n",
		color.New(color.Faint).Sprint(time.Now().Format("15:04:05")),
		w, h, c.FPS(), c.Latency().Round(time.Millisecond),
		c.QualityTier().String(), c.DecoderKind().String())
}

// connectListener prints console events for the terminal session.
type connectListener struct {
	connected chan struct{}
	done      chan struct{}

	connectOnce sync.Once
	doneOnce    sync.Once
}

func newConnectListener() *connectListener {
	return &connectListener{
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (l *connectListener) StatusChanged(state session.State) {
	switch state {
	case session.StateConnected:
		l.connectOnce.Do(func() { close(l.connected) })
	case session.StateReconnecting:
		fmt.Printf("%s Connection lost, reconnecting...\n", color.YellowString("!"))
	case session.StateDisconnected:
		l.doneOnce.Do(func() { close(l.done) })
	}
}

func (l *connectListener) MonitorsChanged(active int, monitors []protocol.Monitor) {
	columns := []util.TableColumn{
		{Header: "MONITOR", Key: "monitor"},
		{Header: "RESOLUTION", Key: "resolution"},
		{Header: "PRIMARY", Key: "primary"},
		{Header: "ACTIVE", Key: "active"},
	}
	rows := make([]map[string]string, 0, len(monitors))
	for i, m := range monitors {
		row := map[string]string{
			"monitor":    fmt.Sprintf("%d", i),
			"resolution": fmt.Sprintf("%dx%d", m.Width, m.Height),
		}
		if m.Primary {
			row["primary"] = "yes"
		}
		if i == active {
			row["active"] = color.GreenString("->")
		}
		rows = append(rows, row)
	}
	util.RenderTable(os.Stdout, columns, rows)
}

func (l *connectListener) FrameReady(decode.Frame) {}

func (l *connectListener) ResolutionChanged(w, h int) {
	fmt.Printf("Stream resolution is now %dx%d\n", w, h)
}

func (l *connectListener) FPSChanged(int) {}

func (l *connectListener) LatencyChanged(time.Duration) {}

func (l *connectListener) TierChanged(tier session.Tier) {
	util.GetLogger().Info("stream quality changed", "tier", tier.String())
}

func (l *connectListener) ClipboardReceived(text string) {
	color.New(color.Faint).Printf("Remote clipboard updated (%d bytes)\n", len(text))
}

func (l *connectListener) CursorMoved(int, int, bool) {}

func (l *connectListener) Diagnostic(err error) {
	util.GetLogger().Warn("stream diagnostic", "error", err)
}
