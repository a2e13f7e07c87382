package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/XinWenfei/netsim/datarecording"
	"github.com/XinWenfei/netsim/tracing"
)

type traceOptions struct {
	node      string
	device    string
	direction string
	limit     int
	page      int
}

func newTraceCmd() *cobra.Command {
	opts := traceOptions{}

	traceCmd := &cobra.Command{
		Use:   "trace <db>",
		Short: "Print the frames recorded by run --trace-db",
		Long: `Print the frames recorded by run --trace-db, ordered by time, ` +
			`one page at a time. The .sqlite3 extension may be left out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			filter, err := opts.filter()
			if err != nil {
				return err
			}

			r, err := datarecording.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, r.Close()) }()

			page, err := datarecording.Query[tracing.FrameEntry](
				cmd.Context(), r, tracing.FrameTable, filter)
			if err != nil {
				return err
			}

			return printFrames(cmd.OutOrStdout(), page, filter.Offset)
		},
	}

	f := traceCmd.Flags()
	f.StringVar(&opts.node, "node", "", "only frames of this node, e.g. Node[0]")
	f.StringVar(&opts.device, "device", "", "only frames of this device")
	f.StringVar(&opts.direction, "direction", "", "only tx, rx or drop frames")
	f.IntVar(&opts.limit, "limit", 20, "rows per page")
	f.IntVar(&opts.page, "page", 1, "page to print, starting at 1")

	return traceCmd
}

func (o traceOptions) filter() (datarecording.Filter, error) {
	if o.limit <= 0 {
		return datarecording.Filter{}, errors.New("--limit must be positive")
	}
	if o.page <= 0 {
		return datarecording.Filter{}, errors.New("--page must be positive")
	}

	var conds []string
	var args []any

	add := func(column, value string) {
		if value == "" {
			return
		}
		conds = append(conds, column+" = ?")
		args = append(args, value)
	}

	switch o.direction {
	case "", tracing.DirectionTx, tracing.DirectionRx, tracing.DirectionDrop:
	default:
		return datarecording.Filter{}, fmt.Errorf(
			"invalid direction %q, expecting tx, rx or drop", o.direction)
	}

	add("Node", o.node)
	add("Device", o.device)
	add("Direction", o.direction)

	return datarecording.Filter{
		Where:   strings.Join(conds, " AND "),
		Args:    args,
		OrderBy: "Time, PacketID",
		Limit:   o.limit,
		Offset:  (o.page - 1) * o.limit,
	}, nil
}

func printFrames(w io.Writer, page datarecording.Page[tracing.FrameEntry], offset int) error {
	if len(page.Rows) == 0 {
		_, err := fmt.Fprintf(w, "no frames, %d match\n", page.Total)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tNODE\tDEVICE\tDIR\tPACKET\tBYTES\tREASON")

	for _, f := range page.Rows {
		fmt.Fprintf(tw, "%.9f\t%s\t%s\t%s\t%s\t%d\t%s\n",
			f.Time, f.Node, f.Device, f.Direction, f.PacketID, f.Bytes, f.Reason)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "frames %d-%d of %d\n",
		offset+1, offset+len(page.Rows), page.Total)

	return err
}
