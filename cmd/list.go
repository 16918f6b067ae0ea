package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webcam-harvester/internal/app"
	"github.com/JakeFAU/webcam-harvester/internal/metadata"
	"github.com/JakeFAU/webcam-harvester/internal/webcam"
)

func newListMetadataCmd() *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "list-metadata",
		Short: "Prints the cached webcam metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				var records []metadata.Metadata
				if live {
					records = a.Store().Live()
				} else {
					records = a.Store().All()
				}
				out := cmd.OutOrStdout()
				for _, m := range records {
					fmt.Fprintln(out, m.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&live, "live", "l", false, "only list webcams with a live still image")
	return cmd
}

func newFramesCmd() *cobra.Command {
	var sorted bool
	cmd := &cobra.Command{
		Use:   "frames <source> <identifier>",
		Short: "Lists the frames stored for one webcam",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			frames, err := webcam.ListFrames(webcam.Dir(e.cfg.Frames.Dir, args[0], args[1]))
			if err != nil {
				return err
			}
			if sorted {
				sort.Strings(frames)
			}
			out := cmd.OutOrStdout()
			for _, f := range frames {
				fmt.Fprintln(out, f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sorted, "sorted", false, "list frames in capture order")
	return cmd
}
