// Command journalsync decodes a framed journal stream into a
// destination journal, either read from stdin or pulled live from a
// source journal via the async read bridge. It is the pipe-oriented
// replacement for the teacher's HTTP sync-backend demo: the transport
// is out of scope (see SPEC_FULL.md Non-goals), the streaming
// mechanism underneath it is not.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/turbine-db/pagejournal/asyncbridge"
	"github.com/turbine-db/pagejournal/internal/rlog"
	"github.com/turbine-db/pagejournal/journal"
)

var log = rlog.New("cmd", "journalsync")

// syncConfig mirrors the flags below; it can also be supplied via
// --config as a toml file, the same pattern cmd/geth uses for its
// larger configuration surface.
type syncConfig struct {
	Source string
	Skip   uint64
	Follow bool
}

var (
	sourceFlag = cli.StringFlag{Name: "source", Usage: "source journal path; reads stdin if empty"}
	skipFlag   = cli.UintFlag{Name: "skip", Usage: "skip snapshots with id < N"}
	followFlag = cli.BoolFlag{Name: "follow", Usage: "keep streaming new commits from the source"}
	configFlag = cli.StringFlag{Name: "config", Usage: "optional toml file providing defaults for the above flags"}
)

func main() {
	app := cli.NewApp()
	app.Name = "journalsync"
	app.Usage = "replicate a page journal over a pipe-oriented stream"
	app.ArgsUsage = "<destination-path>"
	app.Flags = []cli.Flag{sourceFlag, skipFlag, followFlag, configFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (syncConfig, error) {
	cfg := syncConfig{
		Source: ctx.String(sourceFlag.Name),
		Skip:   uint64(ctx.Uint(skipFlag.Name)),
		Follow: ctx.Bool(followFlag.Name),
	}
	path := ctx.String(configFlag.Name)
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	// Flags given explicitly on the command line win over the file.
	if ctx.IsSet(sourceFlag.Name) {
		cfg.Source = ctx.String(sourceFlag.Name)
	}
	if ctx.IsSet(skipFlag.Name) {
		cfg.Skip = uint64(ctx.Uint(skipFlag.Name))
	}
	if ctx.IsSet(followFlag.Name) {
		cfg.Follow = ctx.Bool(followFlag.Name)
	}
	return cfg, nil
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one argument: <destination-path>")
	}
	dest := ctx.Args().Get(0)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	var src io.Reader
	var closeSrc func() error

	if cfg.Source == "" {
		src = bufio.NewReader(os.Stdin)
		closeSrc = func() error { return nil }
	} else {
		h, err := asyncbridge.SpawnReader(cfg.Source, asyncbridge.ReaderOptions{Skip: cfg.Skip, Follow: cfg.Follow})
		if err != nil {
			return fmt.Errorf("spawning read bridge: %w", err)
		}
		src = &blockingReader{h: h}
		closeSrc = h.Close
	}
	defer closeSrc()

	wh, err := asyncbridge.SpawnWriter(dest)
	if err != nil {
		return fmt.Errorf("spawning write bridge: %w", err)
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := writeAll(wh, buf[:n]); err != nil {
				wh.Close()
				return err
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			wh.Close()
			return rerr
		}
	}
	if err := wh.Shutdown(); err != nil && !errors.Is(err, asyncbridge.ErrPending) {
		return err
	}
	if err := wh.Wait(); err != nil {
		return err
	}

	j, err := journal.Open(dest)
	if err != nil {
		return err
	}
	defer j.Close()
	log.Info("sync complete", "destination", dest, "snapshots", j.GetHeader().SnapshotCounter)
	return nil
}

func writeAll(wh *asyncbridge.WriteHandle, p []byte) error {
	for len(p) > 0 {
		n, err := wh.Write(p)
		if errors.Is(err, asyncbridge.ErrPending) {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// blockingReader turns a non-blocking ReadHandle into a blocking
// io.Reader for the straight-line copy loop above, retrying on
// ErrPending the way a cooperative scheduler would retry on a wakeup.
type blockingReader struct {
	h *asyncbridge.ReadHandle
}

func (r *blockingReader) Read(p []byte) (int, error) {
	for {
		n, err := r.h.Read(p)
		if errors.Is(err, asyncbridge.ErrPending) {
			time.Sleep(time.Millisecond)
			continue
		}
		return n, err
	}
}
