// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docquery"
	"github.com/poiesic/docquery/config"
	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/reembed"
)

func main() {
	app := &cli.App{
		Name:  "docquery",
		Usage: "Hybrid document retrieval over a personal library",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Subject to act as",
				Value: "local",
			},
			&cli.BoolFlag{
				Name:  "admin",
				Usage: "Act with admin rights",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Upload text files and index them",
				ArgsUsage: "FILE [FILE...]",
				Action:    ingestCommand,
			},
			{
				Name:      "search",
				Usage:     "Search the library",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Number of results",
						Value:   10,
					},
					&cli.StringSliceFlag{
						Name:  "doc",
						Usage: "Restrict to specific document ids",
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Restrict to a run's documents",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "Request the retrieval diagnostics sidecar",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Retrieve quarantined, footnoted context for a question",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Number of context chunks",
						Value:   5,
					},
				},
			},
			{
				Name:   "docs",
				Usage:  "List documents",
				Action: docsCommand,
			},
			{
				Name:   "reembed",
				Usage:  "Regenerate all chunk vectors with the configured embedder",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Chunks per embedding batch",
						Value: reembed.DefaultBatchSize,
					},
				},
			},
			{
				Name:  "runs",
				Usage: "Manage runs",
				Subcommands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "Create a run over document ids",
						ArgsUsage: "[DOC_ID...]",
						Action:    runsCreateCommand,
					},
					{
						Name:   "list",
						Usage:  "List runs",
						Action: runsListCommand,
					},
					{
						Name:      "delete",
						Usage:     "Delete a run",
						ArgsUsage: "RUN_ID",
						Action:    runsDeleteCommand,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func openDatabase(c *cli.Context) (*docquery.Database, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	return docquery.NewDatabase(cfg)
}

func principalOf(c *cli.Context) core.Principal {
	return core.Principal{
		Sub:         c.String("owner"),
		Admin:       c.Bool("admin"),
		BearerToken: os.Getenv("DOCQUERY_TOKEN"),
	}
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	principal := principalOf(c)
	for _, path := range c.Args().Slice() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		// form-feed separated pages; a plain file is one page
		pages := strings.Split(string(data), "\f")

		doc, err := db.Upload(ctx, principal, path, pages)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		fmt.Printf("%s\t%s\n", doc.Id, path)
	}

	db.WaitForIngestion()
	return nil
}

func searchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one query argument is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	req := core.SearchRequest{
		Query: c.Args().First(),
		Mode:  core.SearchModeLibrary,
		K:     c.Int("k"),
		Debug: c.Bool("debug"),
	}
	if docs := c.StringSlice("doc"); len(docs) > 0 {
		req.Mode = core.SearchModeSelectedDocs
		req.DocumentIds = docs
	}
	req.RunId = c.String("run")

	resp, err := db.Search(context.Background(), principalOf(c), req)
	if err != nil {
		return err
	}

	for i, hit := range resp.Hits {
		fmt.Printf("%2d. doc=%s page=%d score=%.4f\n    %s\n",
			i+1, hit.DocumentId, hit.Page, hit.Score, firstLine(hit.Text))
	}
	if resp.RetrievalDebug != nil {
		out, err := json.MarshalIndent(resp.RetrievalDebug, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("---\n%s\n", out)
	}
	return nil
}

func askCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one question argument is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	chat, err := db.RetrieveForChat(context.Background(), principalOf(c),
		c.Args().First(), core.SearchRequest{
			Mode: core.SearchModeLibrary,
			K:    c.Int("k"),
		})
	if err != nil {
		return err
	}

	fmt.Println(chat.Context)
	fmt.Println("---")
	for _, cit := range chat.Citations {
		line := fmt.Sprintf("[%s] %s page %d", cit.SourceId, cit.Filename, cit.Page)
		if cit.DrilldownBlockedReason != "" {
			line += " (" + cit.DrilldownBlockedReason + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := reembed.DefaultConfig()
	cfg.BatchSize = c.Int("batch-size")
	return db.Reembed(context.Background(), cfg, os.Stderr)
}

func docsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	docs, err := db.ListDocuments(context.Background(), principalOf(c))
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fmt.Printf("%s\t%s\t%s\t%d pages\n", doc.Id, doc.Status, doc.Filename, doc.PageCount)
	}
	return nil
}

func runsCreateCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.CreateRun(context.Background(), principalOf(c), c.Args().Slice(), nil)
	if err != nil {
		return err
	}
	fmt.Println(run.Id)
	return nil
}

func runsListCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(context.Background(), principalOf(c))
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s\t%s\t%d docs\n", run.Id, run.Status, len(run.DocumentIds))
	}
	return nil
}

func runsDeleteCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one run id argument is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.DeleteRun(context.Background(), principalOf(c), c.Args().First())
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
