package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"reconstructor/internal/aligner"
	"reconstructor/internal/refdata"
)

func newDoctorCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that DIAMOND and the reference data are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			failed := 0

			path, err := aligner.Locate(a.v.GetString("diamond"), "")
			if err != nil {
				failed++
				fmt.Fprintf(a.stdout, "diamond: %v\n", err)
			} else {
				d := &aligner.Diamond{Path: path}
				version, err := d.Version(ctx)
				if err != nil {
					failed++
					fmt.Fprintf(a.stdout, "diamond: %s: %v\n", path, err)
				} else {
					fmt.Fprintf(a.stdout, "diamond: %s (%s)\n", path, version)
				}
			}
			if threads, clamped := aligner.ClampThreads(a.v.GetInt("cpu"), runtime.NumCPU()); clamped {
				fmt.Fprintf(a.stdout, "cpu: using %d threads\n", threads)
			}

			src, err := refdata.OpenWith(ctx, a.refdataSettings())
			if err == nil {
				defer refdata.Close(src)
				var b refdata.Bundle
				if b, err = src.Load(ctx); err == nil {
					err = b.Validate()
				}
				if err == nil {
					fmt.Fprintf(a.stdout, "refdata: %s %s (%d universal reactions)\n", src.Driver(), b.Manifest.Version, b.Universal.ReactionCount())
				}
			}
			if err != nil {
				failed++
				fmt.Fprintf(a.stdout, "refdata: %v\n", err)
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().String("diamond", "", "DIAMOND executable (default: PATH lookup)")
	cmd.Flags().Int("cpu", 1, "threads to verify against available CPUs")
	return cmd
}
