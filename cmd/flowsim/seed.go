package main

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rendis/flowsim/pkg/schema"
)

//go:embed seed/*.yaml
var seedFS embed.FS

// seedDocuments returns the embedded demo definitions in file order.
func seedDocuments() (map[string][]byte, []string, error) {
	entries, err := fs.Glob(seedFS, "seed/*.yaml")
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(entries)
	docs := make(map[string][]byte, len(entries))
	for _, name := range entries {
		data, err := seedFS.ReadFile(name)
		if err != nil {
			return nil, nil, err
		}
		docs[name] = data
	}
	return docs, entries, nil
}

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo clients and workflows",
		Long: `Load three demo clients with one workflow each. Workflows that
already exist are left untouched, so seeding twice is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return seed(ctx, a, cmd.OutOrStdout())
			})
		},
	}
}

// seed imports every embedded definition whose workflow is not stored yet.
func seed(ctx context.Context, a *app, out io.Writer) error {
	docs, names, err := seedDocuments()
	if err != nil {
		return err
	}
	im := a.importer()
	for _, name := range names {
		def, _, err := a.validator.Parse(docs[name])
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "seed %s", path.Base(name)).WithCause(err)
		}
		if _, err := a.store.GetWorkflow(ctx, def.Workflow.ID); err == nil {
			fmt.Fprintf(out, "%s %s already seeded\n", color.HiBlackString("-"), def.Workflow.ID)
			continue
		} else if !schema.IsNotFound(err) {
			return err
		}

		res, err := im.Import(ctx, def)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s (%s) for %s\n", color.GreenString("✓"), res.Workflow.ID, res.Workflow.Name, res.Workflow.ClientID)
	}
	return nil
}
