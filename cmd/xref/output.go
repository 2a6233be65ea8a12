package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/xref/internal/indexing"
	"github.com/standardbeagle/xref/internal/pattern"
	"github.com/standardbeagle/xref/internal/types"
)

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printIndexSummary(c *cli.Context, ix *indexing.Indexer, elapsed time.Duration) error {
	st, err := ix.Status(c.Context)
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Indexed %d files in %.1fms (parsing %.1fms)\n", st.Files,
		float64(elapsed.Microseconds())/1000.0, float64(st.ParseTime.Microseconds())/1000.0)
	printErrors(c, ix.FilesWithErrors())
	return nil
}

func printErrors(c *cli.Context, errs map[types.Resource]error) {
	if len(errs) == 0 {
		return
	}
	resources := make([]types.Resource, 0, len(errs))
	for r := range errs {
		resources = append(resources, r)
	}
	sort.Slice(resources, func(a, b int) bool { return resources[a] < resources[b] })
	fmt.Fprintf(c.App.Writer, "%d files failed:\n", len(resources))
	for _, r := range resources {
		fmt.Fprintf(c.App.Writer, "  %s: %v\n", r, errs[r])
	}
}

type matchOutput struct {
	Name         string              `json:"name"`
	Quality      string              `json:"quality"`
	Declarations []indexing.Position `json:"declarations"`
}

func printMatches(c *cli.Context, ix *indexing.Indexer, p pattern.Pattern, matches []indexing.Match) error {
	results := make([]matchOutput, 0, len(matches))
	for _, m := range matches {
		results = append(results, matchOutput{
			Name:         m.Name,
			Quality:      m.Quality.String(),
			Declarations: ix.Positions(m.Declarations),
		})
	}
	if c.Bool("json") {
		return printJSON(c, map[string]interface{}{
			"pattern": p.String(),
			"matches": results,
		})
	}

	out := c.App.Writer
	if len(results) == 0 {
		fmt.Fprintf(out, "No declarations match %s\n", p)
		return nil
	}
	for _, m := range results {
		fmt.Fprintf(out, "%s (%s)\n", m.Name, m.Quality)
		for _, pos := range m.Declarations {
			fmt.Fprintf(out, "  %s:%d:%d %s %s\n", pos.File, pos.Line, pos.Column, pos.Kind, pos.Name)
		}
	}
	return nil
}

type referenceReport struct {
	Name         string              `json:"name"`
	Declarations []indexing.Position `json:"declarations"`
	References   []indexing.Position `json:"references"`
	Unresolved   []indexing.Position `json:"unresolved,omitempty"`
}

func collectReferences(ctx context.Context, ix *indexing.Indexer, name string) (referenceReport, error) {
	decls, err := ix.Declarations(ctx, name)
	if err != nil {
		return referenceReport{}, err
	}
	refs, err := ix.FindReferences(ctx, name)
	if err != nil {
		return referenceReport{}, err
	}
	unresolved, err := ix.Unresolved(ctx, types.Element{Name: name}.SimpleName())
	if err != nil {
		return referenceReport{}, err
	}
	return referenceReport{
		Name:         name,
		Declarations: ix.Positions(decls),
		References:   ix.Positions(refs),
		Unresolved:   ix.Positions(unresolved),
	}, nil
}

func printReferences(c *cli.Context, r referenceReport) error {
	if c.Bool("json") {
		return printJSON(c, r)
	}
	out := c.App.Writer
	if len(r.Declarations) == 0 && len(r.Unresolved) == 0 {
		fmt.Fprintf(out, "%s is not declared\n", r.Name)
		return nil
	}
	printPositions(c, "Declarations", r.Declarations)
	printPositions(c, "References", r.References)
	if len(r.Unresolved) > 0 {
		printPositions(c, "Unresolved", r.Unresolved)
	}
	return nil
}

func printPositions(c *cli.Context, title string, positions []indexing.Position) {
	out := c.App.Writer
	fmt.Fprintf(out, "%s (%d):\n", title, len(positions))
	for _, pos := range positions {
		fmt.Fprintf(out, "  %s:%d:%d %s\n", pos.File, pos.Line, pos.Column, pos.Name)
	}
}

type statusReport struct {
	indexing.Status
	IndexDir string `json:"index_dir"`
	UpToDate bool   `json:"up_to_date"`
	Reason   string `json:"reason,omitempty"`
}

func printStatus(c *cli.Context, r statusReport) error {
	if c.Bool("json") {
		return printJSON(c, r)
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Root:        %s\n", r.Root)
	fmt.Fprintf(out, "Storage:     %s (%s)\n", r.Storage, r.IndexDir)
	fmt.Fprintf(out, "Files:       %d\n", r.Files)
	fmt.Fprintf(out, "Fingerprint: %s\n", r.Fingerprint)
	if r.UpToDate {
		fmt.Fprintf(out, "Index:       current\n")
	} else {
		fmt.Fprintf(out, "Index:       needs rebuild (%s)\n", r.Reason)
	}
	return nil
}
