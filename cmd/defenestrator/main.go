// Command defenestrator converts Mikumari TDC frames into time-ordered,
// coincidence-built physics events.
//
// Usage:
//
//	defenestrator [options] input output
//
// The input is a ring item stream of TDC_FRAME items, a flat stream of
// native-endian Mikumari words (-raw) or a pcap/pcapng capture of the
// front end's UDP stream. The output is a ring item stream of
// PHYSICS_EVENT items with every non-frame input item passed through in
// order. Paths ending in .zst are compressed; "-" is stdin or stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rfoxkendo/mikumarimaker/internal/capture"
	"github.com/rfoxkendo/mikumarimaker/internal/config"
	"github.com/rfoxkendo/mikumarimaker/internal/glom"
	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
	"github.com/rfoxkendo/mikumarimaker/internal/monitoring"
	"github.com/rfoxkendo/mikumarimaker/internal/pipeline"
	"github.com/rfoxkendo/mikumarimaker/internal/ringitem"
	"github.com/rfoxkendo/mikumarimaker/internal/runlog"
	"github.com/rfoxkendo/mikumarimaker/internal/version"
)

// Input modes recorded in the run log.
const (
	modeItems = "items"
	modeRaw   = "raw"
	modePcap  = "pcap"
)

type options struct {
	cfg      *config.Config
	in, out  string
	raw      bool
	level    monitoring.Level
	sessions int
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	monitoring.Configure(monitoring.Streams(os.Stderr, opts.level),
		pipeline.SetLogWriters,
		glom.SetLogWriters,
		capture.SetLogWriters,
		runlog.SetLogWriters,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		stop()
		log.Fatalf("defenestrator: %v", err)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("defenestrator", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a JSON configuration file")
	dt := fs.Uint64("dt", config.DefaultCoincidenceWindow, "Coincidence window in ticks")
	window := fs.String("window", "", "Coincidence window as a duration (e.g. 1us), instead of -dt")
	sid := fs.Uint("sid", 0, "Source id stamped on built events")
	preserve := fs.Bool("preserve-sid", false, "Stamp events with the source id of their TDC frame items")
	channels := fs.Int("channels", 128, "Number of TDC channels")
	strategy := fs.String("strategy", "kway", "Merge strategy: kway or sort")
	skip := fs.Bool("skip-bad-frames", false, "Drop frames that fail to merge instead of aborting")
	port := fs.Uint("port", 0, "UDP destination port to replay from captures (0 = any)")
	runLog := fs.String("runlog", "", "SQLite run log recording each conversion")
	sessions := fs.Int("sessions", 0, "List the N most recent run log sessions and exit")
	raw := fs.Bool("raw", false, "Read the input as a flat Mikumari word stream")
	verbose := fs.Bool("v", false, "Enable diagnostic logging")
	trace := fs.Bool("trace", false, "Enable trace logging")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: defenestrator [options] input output\n\n")
		fmt.Fprintf(fs.Output(), "Builds physics events from TDC frames. Input may be ring items, a raw\n")
		fmt.Fprintf(fs.Output(), "word stream (-raw) or a .pcap/.pcapng capture. \"-\" is stdin/stdout.\n\n")
		fmt.Fprintf(fs.Output(), "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *showVersion {
		fmt.Println(version.String("defenestrator"))
		os.Exit(0)
	}

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return options{}, err
		}
	}

	// Flags given on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dt":
			cfg.CoincidenceWindowTicks = dt
			cfg.CoincidenceWindow = nil
		case "window":
			cfg.CoincidenceWindow = window
			cfg.CoincidenceWindowTicks = nil
		case "sid":
			v := uint32(*sid)
			cfg.SourceID = &v
		case "preserve-sid":
			cfg.PreserveSourceID = preserve
		case "channels":
			cfg.Channels = channels
		case "strategy":
			cfg.MergeStrategy = strategy
		case "skip-bad-frames":
			cfg.SkipBadFrames = skip
		case "port":
			v := uint16(*port)
			cfg.UDPPort = &v
		case "runlog":
			cfg.RunLog = runLog
		}
	})
	if *sid > 0xFFFFFFFF {
		return options{}, fmt.Errorf("-sid %d does not fit in 32 bits", *sid)
	}
	if *port > 0xFFFF {
		return options{}, fmt.Errorf("-port %d is not a UDP port", *port)
	}
	if err := cfg.Validate(); err != nil {
		return options{}, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := options{
		cfg:      cfg,
		raw:      *raw,
		level:    monitoring.ParseLevel(*verbose, *trace),
		sessions: *sessions,
	}
	if opts.sessions > 0 {
		if cfg.GetRunLog() == "" {
			return options{}, errors.New("-sessions requires a run log (-runlog or run_log)")
		}
		return opts, nil
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return options{}, fmt.Errorf("expected input and output, got %d arguments", fs.NArg())
	}
	opts.in, opts.out = fs.Arg(0), fs.Arg(1)
	return opts, nil
}

func (o options) mode() string {
	switch {
	case capture.IsPcap(o.in):
		return modePcap
	case o.raw:
		return modeRaw
	default:
		return modeItems
	}
}

// run converts opts.in to opts.out. The session listing goes to stdout; the
// end-of-run summary goes to stdout unless the events do, then to stderr.
func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	pc, err := opts.cfg.Pipeline()
	if err != nil {
		return err
	}

	var store *runlog.Store
	if path := opts.cfg.GetRunLog(); path != "" {
		if store, err = runlog.Open(path); err != nil {
			return err
		}
		defer store.Close()
	}
	if opts.sessions > 0 {
		return listSessions(ctx, store, opts.sessions, stdout)
	}

	sink, err := ringitem.OpenSink(opts.out)
	if err != nil {
		return err
	}
	conv, err := pipeline.NewConverter(pc, sink)
	if err != nil {
		sink.Close()
		return err
	}

	var sessionID string
	if store != nil {
		sessionID, err = store.BeginSession(ctx, runlog.Settings{
			Source:            opts.in,
			Sink:              opts.out,
			Mode:              opts.mode(),
			CoincidenceWindow: pc.CoincidenceWindow,
			SourceID:          pc.SourceID,
			Strategy:          string(pc.Strategy),
		})
		if err != nil {
			conv.Close()
			return err
		}
	}

	start := time.Now()
	runErr := convert(ctx, conv, opts)
	summary, cerr := conv.Close()
	if runErr == nil {
		runErr = cerr
	}

	if store != nil {
		if err := store.EndSession(context.WithoutCancel(ctx), sessionID, countsOf(summary), runErr); err != nil {
			monitoring.Logf("failed to record session %s: %v", sessionID, err)
		}
	}
	report := stdout
	if opts.out == "-" {
		report = stderr
	}
	printSummary(report, summary, time.Since(start))
	return runErr
}

func convert(ctx context.Context, conv *pipeline.Converter, opts options) error {
	switch opts.mode() {
	case modeItems:
		src, err := ringitem.OpenSource(opts.in)
		if err != nil {
			return err
		}
		defer src.Close()
		return conv.ConvertItems(ctx, src)
	default:
		if opts.in == "-" {
			return conv.ConvertWords(ctx, mikumari.NewWordReader(os.Stdin))
		}
		src, err := capture.Open(opts.in, opts.cfg.GetUDPPort())
		if err != nil {
			return err
		}
		defer src.Close()
		return conv.ConvertWords(ctx, src)
	}
}

func countsOf(s pipeline.Summary) runlog.Counts {
	return runlog.Counts{
		Items:      s.Items,
		Frames:     s.Frames,
		Words:      s.Words,
		Edges:      s.Edges,
		Orphans:    s.Orphans,
		BadFrames:  s.BadFrames,
		Events:     s.Glom.Events,
		Hits:       s.Glom.Hits,
		EventSizes: s.Glom.EventSizes,
	}
}

func printSummary(w io.Writer, s pipeline.Summary, elapsed time.Duration) {
	sizes := runlog.Summarize(s.Glom.EventSizes)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "items\t%d\t(%d frames, %d passed through)\n", s.Items, s.FrameItems, s.PassThrough)
	fmt.Fprintf(tw, "frames\t%d\t(%d bad, %d wraps)\n", s.Frames, s.BadFrames, s.FrameWraps)
	fmt.Fprintf(tw, "words\t%d\t(%d edges, %d orphans, %d unrecognized)\n", s.Words, s.Edges, s.Orphans, s.Unrecognized)
	fmt.Fprintf(tw, "events\t%d\t(%d hits, %d boundaries discarded)\n", s.Glom.Events, s.Glom.Hits, s.Glom.DiscardedBoundaries)
	if sizes.Events > 0 {
		fmt.Fprintf(tw, "event size\t%.2f ± %.2f\t(min %d, max %d)\n", sizes.Mean, sizes.StdDev, sizes.Min, sizes.Max)
	}
	fmt.Fprintf(tw, "elapsed\t%s\t\n", elapsed.Round(time.Millisecond))
	tw.Flush()
}

func listSessions(ctx context.Context, store *runlog.Store, limit int, w io.Writer) error {
	sessions, err := store.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tSTATUS\tMODE\tSOURCE\tEVENTS\tMEAN SIZE\tDURATION")
	for _, s := range sessions {
		full, err := store.Session(ctx, s.ID)
		if err != nil {
			return err
		}
		st := runlog.Summarize(full.Counts.EventSizes)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			s.ID, s.StartedAt.Format(time.RFC3339), s.Status, s.Mode, s.Source,
			s.Counts.Events, st.Mean, s.Duration().Round(time.Millisecond))
	}
	return tw.Flush()
}
