package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reconstructor/internal/refdata"
)

func newRefdataCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refdata",
		Short: "Inspect or import reference data",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the manifest and size of the configured reference data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := refdata.OpenWith(cmd.Context(), a.refdataSettings())
			if err != nil {
				return err
			}
			defer refdata.Close(src)
			b, err := src.Load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Driver: %s\nVersion: %s\nSource: %s\n", src.Driver(), b.Manifest.Version, b.Manifest.Source)
			if !b.Manifest.ImportedAt.IsZero() {
				fmt.Fprintf(a.stdout, "Imported: %s\n", b.Manifest.ImportedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(a.stdout, "Genes: %d\nNamed genes: %d\nUniversal reactions: %d\nUniversal metabolites: %d\n",
				len(b.GeneReactions), len(b.GeneNames), b.Universal.ReactionCount(), b.Universal.MetaboliteCount())
			return nil
		},
	}

	imp := &cobra.Command{
		Use:   "import",
		Short: "Copy a reference data directory into the configured database backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			settings := a.refdataSettings()
			if settings.Driver == refdata.DriverFile {
				return fmt.Errorf("import needs a database backend; set RECONSTRUCTOR_REFDATA_DRIVER to sqlite or postgres")
			}
			src, err := refdata.OpenWith(ctx, refdata.Settings{Driver: refdata.DriverFile, Dir: a.v.GetString("from")})
			if err != nil {
				return err
			}
			dst, err := refdata.OpenWith(ctx, settings)
			if err != nil {
				return err
			}
			defer refdata.Close(dst)
			sink, ok := dst.(refdata.Sink)
			if !ok {
				return fmt.Errorf("refdata driver %s cannot store bundles", settings.Driver)
			}
			m, err := refdata.Import(ctx, src, sink, time.Now())
			if err != nil {
				return err
			}
			a.logger.Info("reference data imported", "driver", settings.Driver, "version", m.Version, "source", m.Source)
			fmt.Fprintf(a.stdout, "Imported %s from %s into %s\n", m.Version, m.Source, settings.Driver)
			return nil
		},
	}
	imp.Flags().String("from", "", "reference data directory (default ./refdata)")

	cmd.AddCommand(show, imp)
	return cmd
}
