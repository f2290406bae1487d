package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tamakara/bakabooru/internal/search"
)

func searchCommand(c *cli) *cobra.Command {
	var req search.Request

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a catalogue search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := c.infra.NewSearchService().Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "page %d/%d, %d result(s)", page.Page+1, page.TotalPages, page.TotalElements)
			if page.Seed != "" {
				fmt.Fprintf(out, ", seed %s", page.Seed)
			}
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSIZE\tDIMENSIONS\tTAGS")
			for _, it := range page.Items {
				names := make([]string, 0, len(it.Tags))
				for _, rel := range it.Tags {
					names = append(names, rel.Tag.Name)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%dx%d\t%s\n", it.ID, it.Title, it.Size, it.Width, it.Height, strings.Join(names, " "))
			}
			return w.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Tags, "tags", "", `tag expression, e.g. "cat -dog"`)
	f.StringVar(&req.Keyword, "keyword", "", "substring of title or file name")
	f.StringVar(&req.SemanticQuery, "query", "", "natural-language query")
	f.StringVar(&req.Sort, "sort", "id,DESC", "property,direction")
	f.StringVar(&req.RandomSeed, "seed", "", "seed for random ordering")
	f.IntVar(&req.Page, "page", 0, "zero-based page")
	f.IntVar(&req.Size, "size", 20, "page size")
	return cmd
}
