package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsrepost/internal/app"
	"github.com/deusflow/newsrepost/internal/photo"
)

var (
	flagFilter string
	flagPixels int
	flagFlip   bool
)

var transformCmd = &cobra.Command{
	Use:   "transform <input> <output.png>",
	Short: "Apply the uniqueness transform to a local image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		t, err := app.NewTransformer(nil)
		if err != nil {
			return err
		}
		filter := flagFilter
		if filter == "" {
			filter = t.RandomFilter()
		}

		out, err := t.Transform(src, photo.Options{Filter: filter, Pixels: flagPixels, Flip: flagFlip})
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], out, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: filter %s, %d pixels, flip %t\n", args[1], filter, flagPixels, flagFlip)
		return nil
	},
}

func init() {
	transformCmd.Flags().StringVar(&flagFilter, "filter", "", "filter name (random when empty)")
	transformCmd.Flags().IntVar(&flagPixels, "pixels", 100, "number of pixels to desaturate")
	transformCmd.Flags().BoolVar(&flagFlip, "flip", true, "mirror the image horizontally")
}
