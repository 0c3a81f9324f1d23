package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sdrkit/flexlink/internal/config"
	"github.com/sdrkit/flexlink/internal/discovery"
	"github.com/sdrkit/flexlink/internal/metrics"
	"github.com/sdrkit/flexlink/internal/protocol"
	"github.com/sdrkit/flexlink/internal/radio"
	"github.com/sdrkit/flexlink/internal/stream"
)

// Command flags
var (
	configPath  string
	logLevel    string
	metricsAddr string

	scanTimeout     int
	monitorDuration int
	streamDuration  int
	streamKindName  string
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(streamCmd)
}

// loadConfig reads the configuration file named by --config, or defaults
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// newEngine builds and starts an engine, optionally exposing its metrics
func newEngine() (*radio.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		m = metrics.New(registry)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			http.ListenAndServe(metricsAddr, mux)
		}()
	}

	engine := radio.New(cfg, m)
	if err := engine.Start(); err != nil {
		return nil, err
	}
	return engine, nil
}

// discoverCmd lists radios announcing themselves on the network
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover radios on the network",
	Long: `Listen for radio announcements and display every radio seen.

Radios broadcast an announcement every few seconds; the listener also
evicts radios whose announcements stop, so the table reflects what is
actually reachable right now.`,
	Example: `  # Listen for 10 seconds (default)
  flexlink discover

  # Quick 3-second scan
  flexlink discover --timeout 3`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Listen duration in seconds")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("Listening for radios (%ds)...\n\n", scanTimeout)
	time.Sleep(time.Duration(scanTimeout) * time.Second)

	radios := engine.Radios()
	if len(radios) == 0 {
		fmt.Println("No radios found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the radio is powered on and on the same subnet")
		fmt.Println("  - Broadcast discovery does not cross routers; try --config with mdns enabled")
		fmt.Println("  - Try increasing --timeout on busy networks")
		return nil
	}

	sort.Slice(radios, func(i, j int) bool { return radios[i].Serial < radios[j].Serial })

	fmt.Printf("Found %d radio(s):\n\n", len(radios))
	for i, d := range radios {
		fmt.Printf("%d. %s %s\n", i+1, d.Model, d.Serial)
		fmt.Printf("   Address:  %s\n", d.Addr())
		if d.Nickname != "" {
			fmt.Printf("   Nickname: %s\n", d.Nickname)
		}
		if d.Version != "" {
			fmt.Printf("   Firmware: %s\n", d.Version)
		}
		if d.Status != "" {
			fmt.Printf("   Status:   %s\n", d.Status)
		}
		fmt.Println()
	}

	fmt.Println("Use 'flexlink send <serial> <command>' to issue a command")
	fmt.Println("Use 'flexlink monitor <serial>' to watch radio state")
	return nil
}

// sendCmd issues one command and prints the response
var sendCmd = &cobra.Command{
	Use:   "send <serial> <command>...",
	Short: "Send a command to a radio",
	Long: `Connect to a radio by serial number and issue one command.

The radio is located via discovery first, so it must be announcing on the
local network. The command text is passed through verbatim; multiple
arguments are joined with spaces.`,
	Example: `  # Tune slice 0
  flexlink send 1234-5678-9012 slice tune 0 14.200

  # Ask for the radio's info
  flexlink send 1234-5678-9012 info`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	serial := args[0]
	command := strings.Join(args[1:], " ")

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	if err := waitForRadio(ctx, engine, serial); err != nil {
		return err
	}
	if err := engine.ConnectSerial(ctx, serial); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	resp, err := engine.Send(ctx, serial, command)
	if err != nil {
		if resp != nil {
			fmt.Printf("Rejected: code=0x%08X data=%q\n", resp.Code, resp.Data)
		}
		return err
	}

	fmt.Printf("OK")
	if resp.Data != "" {
		fmt.Printf(": %s", resp.Data)
	}
	fmt.Println()
	return nil
}

// monitorCmd mirrors a radio's state changes to stdout
var monitorCmd = &cobra.Command{
	Use:   "monitor <serial>",
	Short: "Watch a radio's object state",
	Long: `Connect to a radio and print every object change as it arrives.

The radio pushes partial status updates; this command shows each change
with the keys that actually changed, which is useful for learning what a
front panel action does on the wire.`,
	Example: `  # Watch until interrupted
  flexlink monitor 1234-5678-9012

  # Watch for one minute
  flexlink monitor 1234-5678-9012 --duration 60`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().IntVar(&monitorDuration, "duration", 0, "Stop after this many seconds (0 = until interrupted)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	serial := args[0]

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(monitorDuration)*time.Second)
		defer cancel()
	}

	if err := waitForRadio(ctx, engine, serial); err != nil {
		return err
	}
	if err := engine.ConnectSerial(ctx, serial); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	sub := engine.Registry().Subscribe(serial, 0)
	defer engine.Registry().Unsubscribe(sub.ID)

	fmt.Printf("Monitoring %s (Ctrl-C to stop)...\n\n", serial)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch {
			case len(change.Keys) > 0:
				parts := make([]string, 0, len(change.Keys))
				for _, k := range change.Keys {
					parts = append(parts, fmt.Sprintf("%s=%s", k, change.Object.Attrs[k]))
				}
				fmt.Printf("%-8s %s %s\n", change.Kind, change.Object.ID(), strings.Join(parts, " "))
			default:
				fmt.Printf("%-8s %s\n", change.Kind, change.Object.ID())
			}
		}
	}
}

// streamCmd receives one binary stream and reports its health
var streamCmd = &cobra.Command{
	Use:   "stream <stream-id>",
	Short: "Receive a binary stream and report statistics",
	Long: `Listen on the stream port for packets of one stream id and print
reception statistics once per second.

The stream must already be directed at this host (typically by issuing
the corresponding subscription command to the radio first). The stream id
accepts decimal or 0x-prefixed hex.`,
	Example: `  # Watch an audio stream for 30 seconds
  flexlink stream 0x04000008 --kind audio --duration 30

  # Watch a panadapter's spectrum stream
  flexlink stream 0x40000002 --kind spectrum`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

func init() {
	streamCmd.Flags().StringVar(&streamKindName, "kind", "audio", "Payload kind (audio, iq, spectrum)")
	streamCmd.Flags().IntVar(&streamDuration, "duration", 0, "Stop after this many seconds (0 = until interrupted)")
}

func runStream(cmd *cobra.Command, args []string) error {
	streamID, err := parseStreamID(args[0])
	if err != nil {
		return err
	}

	var kind protocol.StreamKind
	switch streamKindName {
	case "audio":
		kind = protocol.StreamAudio
	case "iq":
		kind = protocol.StreamIQ
	case "spectrum":
		kind = protocol.StreamSpectrum
	default:
		return fmt.Errorf("unknown stream kind %q (audio, iq, spectrum)", streamKindName)
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	if streamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(streamDuration)*time.Second)
		defer cancel()
	}

	sub, err := engine.Streams().Subscribe(streamID, kind, func(*stream.Frame) {})
	if err != nil {
		return err
	}
	defer engine.Streams().Unsubscribe(sub.ID)

	fmt.Printf("Receiving stream 0x%08x (%s) on %s...\n\n", streamID, kind, engine.Streams().LocalAddr())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stats := sub.Stats()
			fmt.Printf("\nFinal: packets=%d samples=%d lost=%d stale=%d malformed=%d\n",
				stats.Packets, stats.Samples, stats.Lost, stats.Stale, stats.Malformed)
			return nil
		case <-ticker.C:
			stats := sub.Stats()
			fmt.Printf("packets=%d samples=%d lost=%d stale=%d malformed=%d\n",
				stats.Packets, stats.Samples, stats.Lost, stats.Stale, stats.Malformed)
		}
	}
}

// waitForRadio blocks until discovery has seen the serial. The snapshot
// covers radios announced before we subscribed; the event feed covers the
// rest, so there is no polling loop.
func waitForRadio(ctx context.Context, engine *radio.Engine, serial string) error {
	events := engine.Events()

	for _, d := range engine.Radios() {
		if d.Serial == serial {
			return nil
		}
	}

	timeout := time.NewTimer(15 * time.Second)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("radio %s not found on the network", serial)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("radio %s not found on the network", serial)
			}
			if ev.Kind != discovery.Removed && ev.Descriptor.Serial == serial {
				return nil
			}
		}
	}
}

// parseStreamID accepts decimal or 0x-prefixed hex
func parseStreamID(s string) (uint32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	id, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid stream id %q: %w", s, err)
	}
	return uint32(id), nil
}
