// Command journaldump inspects a page journal file: its header, its
// snapshot/blob summary, a full integrity verification pass, or an
// export of its contents onto stdout using the wire codec.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/turbine-db/pagejournal/internal/rlog"
	"github.com/turbine-db/pagejournal/journal"
	"github.com/turbine-db/pagejournal/stream"
)

var skipFlag = cli.UintFlag{
	Name:  "skip",
	Usage: "only export snapshots with id >= N",
}

func main() {
	app := cli.NewApp()
	app.Name = "journaldump"
	app.Usage = "inspect and export page journal files"
	app.Commands = []cli.Command{
		{
			Name:      "header",
			Usage:     "print the journal header",
			ArgsUsage: "<path>",
			Action:    headerCmd,
		},
		{
			Name:      "list",
			Usage:     "print a snapshot/blob summary",
			ArgsUsage: "<path>",
			Action:    listCmd,
		},
		{
			Name:      "verify",
			Usage:     "fully iterate the journal, exiting non-zero on the first error",
			ArgsUsage: "<path>",
			Action:    verifyCmd,
		},
		{
			Name:      "export",
			Usage:     "encode the journal to stdout using the stream codec",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{skipFlag},
			Action:    exportCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openArg(ctx *cli.Context) (*journal.Journal, error) {
	if ctx.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one argument: <path>")
	}
	return journal.Open(ctx.Args().Get(0))
}

func headerCmd(ctx *cli.Context) error {
	j, err := openArg(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	h := j.GetHeader()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"magic", fmt.Sprintf("%#08x", h.Magic)})
	table.Append([]string{"version", fmt.Sprintf("%d", h.Version)})
	table.Append([]string{"snapshot_counter", fmt.Sprintf("%d", h.SnapshotCounter)})
	table.Append([]string{"eof", fmt.Sprintf("%d", h.EOF)})
	table.Render()
	return nil
}

func listCmd(ctx *cli.Context) error {
	j, err := openArg(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"snapshot", "timestamp", "blob", "offset", "size"})
	table.SetAutoMergeCells(true)
	table.SetRowLine(true)

	it := j.Iterate()
	for it.Next() {
		item := it.Item()
		table.Append([]string{
			fmt.Sprintf("%d", item.Snapshot.ID),
			fmt.Sprintf("%d", item.Snapshot.Timestamp),
			fmt.Sprintf("%d", item.Blob.BlobNum),
			fmt.Sprintf("%d", item.Blob.Offset),
			fmt.Sprintf("%d", item.Blob.BlobSize),
		})
	}
	if err := it.Err(); err != nil {
		return err
	}
	table.Render()
	return nil
}

func verifyCmd(ctx *cli.Context) error {
	j, err := openArg(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	// Building (or refreshing) the snapshot index makes one full pass
	// over the journal and warms its blob byte cache; the verification
	// pass below is a second full pass over the same journal, so its
	// payload reads are served from that cache instead of disk.
	if _, err := j.Index(); err != nil {
		return err
	}

	n := 0
	it := j.Iterate()
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		return err
	}
	rlog.New().Info("verified journal", "path", j.Path(), "items", n)
	return nil
}

func exportCmd(ctx *cli.Context) error {
	j, err := openArg(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	it := j.Iterate().SkipSnapshots(uint64(ctx.Uint(skipFlag.Name)))
	enc := stream.NewEncoder(it, journal.Version)
	_, err = io.Copy(os.Stdout, enc)
	return err
}
