package main

import (
	"github.com/spf13/cobra"

	"github.com/shakenfist/occystrap/pipeline"
)

var processOpts struct {
	filters []string
}

var processCmd = &cobra.Command{
	Use:   "process SOURCE DEST",
	Short: "Stream an image from SOURCE to DEST, applying any -f filters in order",
	Args:  cobra.ExactArgs(2),
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringArrayVarP(&processOpts.filters, "filter", "f", nil, "Filter to apply, name[:opt=val[,opt=val…]] (repeatable)")
}

func runProcess(cmd *cobra.Command, args []string) error {
	src, err := buildSource(args[0])
	if err != nil {
		return err
	}
	sink, err := buildSink(args[1])
	if err != nil {
		return err
	}
	filters, err := buildFilterChain(processOpts.filters)
	if err != nil {
		return err
	}

	p := pipeline.New(src, sink, filters...)
	return p.Run()
}
