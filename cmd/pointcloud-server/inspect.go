package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/open-teleop/pointcloud-server/pkg/pcd"
	"github.com/spf13/cobra"
)

// inspectCmd prints the header of a PCD file and the bounds of its points.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the header and bounds of a PCD file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	pc, err := pcd.Decode(f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", args[0], err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "VERSION\t%g\n", pc.Version)
	fmt.Fprintf(w, "FIELDS\t%v\n", pc.Fields)
	fmt.Fprintf(w, "SIZE\t%v\n", pc.Size)
	fmt.Fprintf(w, "TYPE\t%v\n", pc.Type)
	fmt.Fprintf(w, "COUNT\t%v\n", pc.Count)
	fmt.Fprintf(w, "WIDTH\t%d\n", pc.Width)
	fmt.Fprintf(w, "HEIGHT\t%d\n", pc.Height)
	fmt.Fprintf(w, "VIEWPOINT\t%v\n", pc.Viewpoint)
	fmt.Fprintf(w, "POINTS\t%d\n", pc.Points)
	fmt.Fprintf(w, "DATA\t%s\n", pc.Format)

	xyz, err := pcd.XYZ(pc)
	if err != nil {
		fmt.Fprintf(w, "BOUNDS\t%v\n", err)
		return w.Flush()
	}
	if min, max, err := pcd.MinMax(xyz); err == nil {
		fmt.Fprintf(w, "MIN\t%g %g %g\n", min[0], min[1], min[2])
		fmt.Fprintf(w, "MAX\t%g %g %g\n", max[0], max[1], max[2])
	} else {
		fmt.Fprintf(w, "BOUNDS\t%v\n", err)
	}
	return w.Flush()
}
