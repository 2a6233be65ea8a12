package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/xref/internal/config"
	"github.com/standardbeagle/xref/internal/debug"
	"github.com/standardbeagle/xref/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "xref",
		Usage:                  "Incremental declaration and reference index for source trees",
		Version:                version.Info(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory (overrides config)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: <root>/" + config.FileName + " over ~/" + config.FileName + ")",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "Index storage: sqlite or memory",
			},
			&cli.StringFlag{
				Name:  "index-dir",
				Usage: "Folder holding the durable index, relative to the root",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Only index files matching glob patterns (e.g., --include '**/*.go')",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Also exclude files matching glob patterns (e.g., --exclude '**/testdata/**')",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Write debug traces to a log file in the temp directory",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				path, err := debug.InitDebugLogFile()
				if err != nil {
					return err
				}
				debug.EnableDebug = "true"
				fmt.Fprintf(c.App.ErrWriter, "Debug log: %s\n", path)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			return debug.CloseDebugLog()
		},
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Bring the index up to date with the files on disk",
				Action: indexCommand,
			},
			{
				Name:   "rebuild",
				Usage:  "Drop the index and index every file again",
				Action: rebuildCommand,
			},
			{
				Name:   "watch",
				Usage:  "Keep the index up to date until interrupted",
				Action: watchCommand,
			},
			{
				Name:      "find",
				Aliases:   []string{"f"},
				Usage:     "Find declarations whose name matches a pattern",
				ArgsUsage: "<pattern>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "mode",
						Aliases: []string{"m"},
						Usage:   "Matcher: auto, exact, prefix, wildcard, regex, camel, fuzzy, words",
						Value:   "auto",
					},
					&cli.BoolFlag{
						Name:    "case-sensitive",
						Aliases: []string{"s"},
						Usage:   "Match case exactly",
					},
					&cli.IntFlag{
						Name:  "max",
						Usage: "Maximum number of names (default from config)",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: findCommand,
			},
			{
				Name:      "refs",
				Usage:     "Show the declarations of a name and the uses resolved to them",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: refsCommand,
			},
			{
				Name:  "status",
				Usage: "Show the state of the index",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: statusCommand,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the index as MCP tools over stdio",
				Action: mcpCommand,
			},
		},
	}
}

// loadConfigWithOverrides loads the configuration and applies the global
// flags over it, then validates the result.
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadWithRoot(c.String("root"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if rootFlag := c.String("root"); rootFlag != "" {
		absRoot, err := filepath.Abs(rootFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root path %q: %w", rootFlag, err)
		}
		cfg.Project.Root = absRoot
	}
	if storage := c.String("storage"); storage != "" {
		cfg.Index.Storage = storage
	}
	if dir := c.String("index-dir"); dir != "" {
		cfg.Index.Dir = dir
	}
	if includes := c.StringSlice("include"); len(includes) > 0 {
		cfg.Include = includes
	}
	if excludes := c.StringSlice("exclude"); len(excludes) > 0 {
		cfg.Exclude = config.DeduplicatePatterns(append(cfg.Exclude, excludes...))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
