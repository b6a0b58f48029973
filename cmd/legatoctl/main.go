// Package main is the entry point for the legatoctl CLI
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/james-see/legatoctl/pkg/api"
	"github.com/james-see/legatoctl/pkg/host"
	"github.com/james-see/legatoctl/pkg/legato"
	"github.com/james-see/legatoctl/pkg/remap"
	"github.com/james-see/legatoctl/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	logLevel  string
	logJSON   bool
	modeName  string
	bpm       float64
	bendRange float64
	channels  []int
	offsetCC  int
	transpose int
	curveSpec string
	ccMaps    []string

	outputFile string
	tailMs     float64
	inPort     string
	outPort    string
	apiPort    int
	withTUI    bool
	serverPort int

	paramValues = map[string]*float64{}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "legatoctl",
	Short: "Monophonic legato, glide and trill controller for MIDI",
	Long: `legatoctl turns overlapping notes into legato transitions: pitch bend
and expression crossfades between phrase notes, chromatic glides or trills
stepped in time with the tempo.

It runs live between MIDI ports or renders Standard MIDI Files offline.

Examples:
  legatoctl live --in "Keystation" --out "IAC Bus 1"
  legatoctl live --in keys --out synth --mode glide --rate 4 --tui
  legatoctl render phrase.mid -o phrase-legato.mid --fade-time 150
  legatoctl serve --port 8080
  legatoctl ports`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Process a MIDI input port in real time",
	RunE:  runLive,
}

var renderCmd = &cobra.Command{
	Use:   "render <input.mid>",
	Short: "Render a MIDI file through the controller",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI input and output ports",
	RunE:  runPorts,
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "List controller parameters",
	RunE:  runParams,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API server",
	RunE:  runServe,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive control panel",
	RunE:  runTUI,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&logJSON, "log-json", false, "Log as JSON")
	pf.StringVar(&modeName, "mode", "", "Mode (bypass, legato, glide, trill)")
	pf.Float64Var(&bpm, "bpm", host.DefaultOptions().BPM, "Tempo used for tempo-synced steps")
	pf.Float64Var(&bendRange, "bend-range", host.DefaultOptions().Voice.BendRange, "Receiver pitch bend range in semitones")
	pf.IntSliceVar(&channels, "channels", nil, "Output channels used as voices, 0-based (default 1-15)")
	pf.IntVar(&offsetCC, "offset-cc", int(host.DefaultOptions().Voice.OffsetCC), "CC carrying the sample start offset")
	pf.IntVar(&transpose, "transpose", 0, "Semitones added to every played note")
	pf.StringVar(&curveSpec, "curve", "", `Velocity curve as "in:out,..." points in 0-1`)
	pf.StringArrayVar(&ccMaps, "cc", nil, `Map a controller to a parameter, e.g. "cc1=fade_time:10:500" (repeatable)`)

	for _, p := range legato.Params() {
		if p.Name == legato.ParamMode {
			continue
		}
		v := new(float64)
		paramValues[p.Name] = v
		usage := p.Label
		if p.Unit != "" {
			usage += " (" + p.Unit + ")"
		}
		pf.Float64Var(v, flagName(p.Name), p.Default, usage)
	}

	// live command
	liveCmd.Flags().StringVarP(&inPort, "in", "i", "", "Input port name (substring match, required)")
	liveCmd.Flags().StringVarP(&outPort, "out", "o", "", "Output port name (substring match, required)")
	liveCmd.Flags().IntVar(&apiPort, "api-port", 0, "Also serve the control API on this port")
	liveCmd.Flags().BoolVar(&withTUI, "tui", false, "Show the control panel while running")
	_ = liveCmd.MarkFlagRequired("in")
	_ = liveCmd.MarkFlagRequired("out")

	// render command
	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	renderCmd.Flags().Float64Var(&tailMs, "tail", host.DefaultTailMs, "Milliseconds rendered after the last event")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Server port")
	serveCmd.Flags().StringVarP(&outPort, "out", "o", "", "Output port name for the controlled engine")

	// tui command
	tuiCmd.Flags().StringVarP(&inPort, "in", "i", "", "Input port name")
	tuiCmd.Flags().StringVarP(&outPort, "out", "o", "", "Output port name")

	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tuiCmd)
}

func flagName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}

func newLogger() (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	if logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// buildOptions turns the persistent flags into runtime options
func buildOptions(cmd *cobra.Command, log logrus.FieldLogger) (host.Options, error) {
	opts := host.DefaultOptions()
	opts.Logger = log
	flags := cmd.Flags()

	if modeName != "" {
		m, ok := legato.ParseMode(strings.ToLower(modeName))
		if !ok {
			return opts, fmt.Errorf("unknown mode %q", modeName)
		}
		opts.Engine.Mode = m
	}
	for name, v := range paramValues {
		if !flags.Changed(flagName(name)) {
			continue
		}
		p, _ := legato.LookupParam(name)
		if err := opts.Engine.Set(name, p.Clamp(*v)); err != nil {
			return opts, err
		}
	}

	opts.BPM = bpm
	opts.Transpose = transpose
	opts.Voice.BendRange = bendRange
	if offsetCC < 0 || offsetCC > 127 {
		return opts, fmt.Errorf("offset CC %d out of range", offsetCC)
	}
	opts.Voice.OffsetCC = uint8(offsetCC)
	if len(channels) > 0 {
		opts.Voice.Channels = opts.Voice.Channels[:0:0]
		for _, ch := range channels {
			if ch < 0 || ch > 15 {
				return opts, fmt.Errorf("channel %d out of range", ch)
			}
			opts.Voice.Channels = append(opts.Voice.Channels, uint8(ch))
		}
	}

	if curveSpec != "" {
		c, err := remap.ParseCurve(curveSpec)
		if err != nil {
			return opts, err
		}
		opts.Curve = c
	}
	mappings, err := remap.ParseMappings(ccMaps)
	if err != nil {
		return opts, err
	}
	opts.Mappings = mappings

	return opts, nil
}

func setup(cmd *cobra.Command) (host.Options, *logrus.Logger, error) {
	log, err := newLogger()
	if err != nil {
		return host.Options{}, nil, err
	}
	opts, err := buildOptions(cmd, log)
	return opts, log, err
}

// startLive opens the named ports (either may be empty) and starts a live
// runtime. The returned function waits for it and releases the ports.
func startLive(ctx context.Context, opts host.Options, log *logrus.Logger, in, out string) (*host.Live, func() error, error) {
	sink := host.Discard
	if out != "" {
		port, err := host.FindOutPort(out)
		if err != nil {
			return nil, nil, err
		}
		if sink, err = host.PortSink(port); err != nil {
			return nil, nil, err
		}
		log.WithField("port", port.String()).Info("sending MIDI output")
	}

	l, err := host.NewLive(sink, opts)
	if err != nil {
		return nil, nil, err
	}

	stop := func() {}
	if in != "" {
		port, err := host.FindInPort(in)
		if err != nil {
			return nil, nil, err
		}
		if stop, err = l.Listen(port); err != nil {
			return nil, nil, err
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	wait := func() error {
		err := <-errc
		stop()
		host.CloseDriver()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return l, wait, nil
}

func runLive(cmd *cobra.Command, args []string) error {
	opts, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if withTUI {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l, wait, err := startLive(ctx, opts, log, inPort, outPort)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"mode": opts.Engine.Mode, "bpm": opts.BPM}).Info("running")

	if apiPort > 0 {
		srv := api.NewServer(l, opts, log)
		go func() {
			if err := srv.Run(apiPort); err != nil {
				log.WithError(err).Error("API server stopped")
			}
		}()
	}

	if withTUI {
		err := tui.Run(l, opts)
		cancel()
		if werr := wait(); err == nil {
			err = werr
		}
		return err
	}
	return wait()
}

func runRender(cmd *cobra.Command, args []string) error {
	opts, _, err := setup(cmd)
	if err != nil {
		return err
	}
	input := args[0]
	output := outputFile
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "-legato.mid"
	}

	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	res, err := host.Render(in, out, opts, tailMs)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Printf("Rendered %s -> %s\n", input, output)
	fmt.Printf("  %d notes in (%d phrase, %d passed, %d dropped), %d messages out at %g BPM\n",
		res.NotesIn, res.Consumed, res.Passed, res.Dropped, res.Messages, res.Tempo)
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	defer host.CloseDriver()
	ins, outs := host.Ports()

	fmt.Println("Inputs:")
	for i, name := range ins {
		fmt.Printf("  %d: %s\n", i, name)
	}
	fmt.Println("Outputs:")
	for i, name := range outs {
		fmt.Printf("  %d: %s\n", i, name)
	}
	return nil
}

func runParams(cmd *cobra.Command, args []string) error {
	fmt.Printf("%-18s %-20s %10s %10s %10s  %s\n", "FLAG", "NAME", "MIN", "MAX", "DEFAULT", "UNIT")
	for _, p := range legato.Params() {
		fmt.Printf("--%-16s %-20s %10g %10g %10g  %s\n", flagName(p.Name), p.Label, p.Min, p.Max, p.Default, p.Unit)
	}
	fmt.Printf("\nModes: bypass, legato, glide, trill. Rate %d follows velocity.\n", legato.MaxRateIndex)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	opts, log, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l, wait, err := startLive(ctx, opts, log, "", outPort)
	if err != nil {
		return err
	}

	fmt.Printf("Starting API server on port %d...\n", serverPort)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", serverPort)

	srvErr := make(chan error, 1)
	go func() { srvErr <- api.NewServer(l, opts, log).Run(serverPort) }()

	select {
	case err = <-srvErr:
		cancel()
		_ = wait()
		return err
	case <-ctx.Done():
		return wait()
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	opts, log, err := setup(cmd)
	if err != nil {
		return err
	}
	log.SetOutput(io.Discard)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l, wait, err := startLive(ctx, opts, log, inPort, outPort)
	if err != nil {
		return err
	}
	err = tui.Run(l, opts)
	cancel()
	if werr := wait(); err == nil {
		err = werr
	}
	return err
}
