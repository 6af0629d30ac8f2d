// Command framemaker writes synthetic TDC frames for exercising the
// defenestrator.
//
// Each frame is a TDC_FRAME ring item whose payload is the absolute frame
// number followed by a FrameStart heartbeat, any generated edges and a
// FrameSize word. The frames are bracketed by BEGIN_RUN and END_RUN items.
// With -raw the frames' words are written as a flat word stream instead.
package main

import (
	"cmp"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"

	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
	"github.com/rfoxkendo/mikumarimaker/internal/ringitem"
	"github.com/rfoxkendo/mikumarimaker/internal/timebase"
	"github.com/rfoxkendo/mikumarimaker/internal/timeutil"
	"github.com/rfoxkendo/mikumarimaker/internal/version"
)

// frameSpacing is the body header timestamp step between frames.
const frameSpacing = 1000

var clock timeutil.Clock = timeutil.RealClock{}

type options struct {
	frames   uint32
	out      string
	hits     int
	channels int
	seed     uint64
	run      uint
	sourceID uint
	raw      bool
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
	if err := run(opts); err != nil {
		log.Fatalf("framemaker: %v", err)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("framemaker", flag.ContinueOnError)
	fs.IntVar(&opts.hits, "hits", 0, "Random edges to generate per frame")
	fs.IntVar(&opts.channels, "channels", 128, "Channels to spread generated edges over")
	fs.Uint64Var(&opts.seed, "seed", 1, "Random seed for generated edges")
	fs.UintVar(&opts.run, "run", 1, "Run number for the BEGIN_RUN/END_RUN items")
	fs.UintVar(&opts.sourceID, "sid", 0, "Source id for the body headers")
	fs.BoolVar(&opts.raw, "raw", false, "Write a flat word stream instead of ring items")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: framemaker [options] num_frames output_file\n\n")
		fmt.Fprintf(fs.Output(), "Writes num_frames TDC frames to output_file (\"-\" for stdout, .zst to compress).\n\n")
		fmt.Fprintf(fs.Output(), "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *showVersion {
		fmt.Println(version.String("framemaker"))
		os.Exit(0)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return opts, fmt.Errorf("expected num_frames and output_file, got %d arguments", fs.NArg())
	}
	n, err := strconv.ParseUint(fs.Arg(0), 10, 32)
	if err != nil {
		return opts, fmt.Errorf("unable to convert frame count to integer: %w", err)
	}
	opts.frames = uint32(n)
	opts.out = fs.Arg(1)
	if opts.hits < 0 || opts.hits > mikumari.DataSizeMask {
		return opts, fmt.Errorf("-hits must be between 0 and %d", mikumari.DataSizeMask)
	}
	if opts.channels < 1 || opts.channels > mikumari.ChannelMask+1 {
		return opts, fmt.Errorf("-channels must be between 1 and %d", mikumari.ChannelMask+1)
	}
	return opts, nil
}

func run(opts options) error {
	rng := rand.New(rand.NewPCG(opts.seed, 0))
	tpf := timebase.Default().TicksPerFrame()

	if opts.raw {
		return writeRaw(opts, rng, tpf)
	}

	sink, err := ringitem.OpenSink(opts.out)
	if err != nil {
		return err
	}
	defer sink.Close()

	started := clock.Now()
	sid := uint32(opts.sourceID)
	begin, err := ringitem.NewStateChange(ringitem.BeginRun, 0, sid, ringitem.StateChange{
		RunNumber: uint32(opts.run),
		UnixTime:  uint32(started.Unix()),
	})
	if err != nil {
		return err
	}
	if err := sink.Write(begin); err != nil {
		return err
	}

	for fno := uint32(0); fno < opts.frames; fno++ {
		it := ringitem.NewWithBodyHeader(ringitem.TDCFrame, uint64(fno)*frameSpacing, sid, 0)
		it.AddUint64(uint64(fno))
		for _, w := range makeFrame(rng, fno, opts, tpf) {
			it.AddUint64(w)
		}
		if err := sink.Write(it); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", fno, err)
		}
	}

	end, err := ringitem.NewStateChange(ringitem.EndRun, uint64(opts.frames)*frameSpacing, sid, ringitem.StateChange{
		RunNumber:      uint32(opts.run),
		ElapsedSeconds: uint32(clock.Since(started).Seconds()),
		UnixTime:       uint32(clock.Now().Unix()),
	})
	if err != nil {
		return err
	}
	if err := sink.Write(end); err != nil {
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}
	log.Printf("wrote %d frames (%d edges each) to %s", opts.frames, opts.hits, opts.out)
	return nil
}

func writeRaw(opts options, rng *rand.Rand, tpf uint64) error {
	out := os.Stdout
	if opts.out != "-" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("could not open the output file %s: %w", opts.out, err)
		}
		defer f.Close()
		out = f
	}
	ww := mikumari.NewWordWriter(out)
	for fno := uint32(0); fno < opts.frames; fno++ {
		for _, w := range makeFrame(rng, fno, opts, tpf) {
			if err := ww.Write(w); err != nil {
				return err
			}
		}
	}
	if err := ww.Flush(); err != nil {
		return err
	}
	if out != os.Stdout {
		return out.Close()
	}
	return nil
}

// makeFrame returns one frame's words: heartbeat, edges in time order and
// the frame size.
func makeFrame(rng *rand.Rand, fno uint32, opts options, ticksPerFrame uint64) []uint64 {
	edges := make([]mikumari.Edge, opts.hits)
	for i := range edges {
		dir := mikumari.Leading
		if rng.IntN(2) == 1 {
			dir = mikumari.Trailing
		}
		edges[i] = mikumari.Edge{
			Direction: dir,
			EdgeFields: mikumari.EdgeFields{
				Channel: uint8(rng.IntN(opts.channels)),
				TOT:     uint32(rng.IntN(mikumari.TOTMask + 1)),
				Time:    uint32(rng.Uint64N(ticksPerFrame)),
			},
		}
	}
	slices.SortFunc(edges, func(a, b mikumari.Edge) int {
		return cmp.Compare(a.Time, b.Time)
	})

	words := make([]uint64, 0, len(edges)+2)
	words = append(words, mikumari.Encode(mikumari.FrameStart{
		FrameNumber: fno & mikumari.FrameNumberMask,
		TimeOffset:  uint16(fno * frameSpacing),
	}))
	for _, e := range edges {
		words = append(words, mikumari.Encode(e))
	}
	return append(words, mikumari.Encode(mikumari.FrameSize{DataSize: uint32(len(edges))}))
}
