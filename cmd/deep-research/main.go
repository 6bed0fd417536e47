package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/render"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/server"
)

var (
	configPath string
	query      string
	breadth    int
	depth      int
	mode       string
	outputPath string
	htmlPath   string
	pdfPath    string
	olderThan  string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "Recursive web research from the terminal",
		Long:  `deep-research plans search queries for a topic, distills what it finds, follows up on the gaps and writes a Markdown report or a short answer.`,
		RunE:  runResearch,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.Flags().StringVarP(&query, "query", "q", "", "What to research")
	rootCmd.Flags().IntVarP(&breadth, "breadth", "b", server.DefaultBreadth, "Search queries per level (1-20)")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", server.DefaultDepth, "Levels of follow-up research (1-10)")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", server.ModeReport, "Output mode: report or answer")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "report.md", "Markdown output file")
	rootCmd.Flags().StringVar(&htmlPath, "html", "", "Also write the output as an HTML page")
	rootCmd.Flags().StringVar(&pdfPath, "pdf", "", "Also write the output as a PDF")

	purgeCmd := &cobra.Command{
		Use:   "purge-cache",
		Short: "Delete LLM cache entries not used recently",
		RunE:  runPurge,
	}
	purgeCmd.Flags().StringVar(&olderThan, "older-than", "30 days", "PostgreSQL interval, e.g. \"7 days\"")
	rootCmd.AddCommand(purgeCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.SetDefault(app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	return cfg, nil
}

func runResearch(cmd *cobra.Command, _ []string) error {
	if !cmd.Flags().Changed("query") {
		if err := prompt(cmd); err != nil {
			return err
		}
	}

	params, err := researchRequest().Validate()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("Starting research", "query", params.Query, "breadth", params.Breadth, "depth", params.Depth, "mode", params.Mode)

	rctx, cancel := context.WithTimeout(ctx, cfg.ResearchTimeout)
	res, err := a.Engine.Research(rctx, research.Request{
		Query:   params.Query,
		Breadth: params.Breadth,
		Depth:   params.Depth,
		OnProgress: func(p research.Progress) {
			slog.Info("Progress",
				"depth", fmt.Sprintf("%d/%d", p.TotalDepth-p.CurrentDepth, p.TotalDepth),
				"queries", fmt.Sprintf("%d/%d", p.CompletedQueries, p.TotalQueries))
		},
	})
	cancel()
	if err != nil {
		if !errors.Is(err, research.ErrTimeout) || len(res.Learnings) == 0 {
			return err
		}
		slog.Warn("Research timed out, writing what was found", "error", err)
	}
	slog.Info("Research finished", "learnings", len(res.Learnings), "urls", len(res.VisitedURLs))

	wctx, cancel := context.WithTimeout(ctx, cfg.ReportTimeout)
	defer cancel()
	var out string
	if params.Mode == server.ModeAnswer {
		out, err = a.Composer.WriteAnswer(wctx, params.Query, res.Learnings)
	} else {
		out, err = a.Composer.WriteReport(wctx, params.Query, res.Learnings, res.VisitedURLs)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	slog.Info("Wrote output", "path", outputPath)

	if htmlPath != "" {
		page, err := render.HTMLDocument(params.Query, out)
		if err != nil {
			return err
		}
		if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", htmlPath, err)
		}
		slog.Info("Wrote HTML", "path", htmlPath)
	}
	if pdfPath != "" {
		if err := render.WritePDF(pdfPath, out); err != nil {
			return err
		}
		slog.Info("Wrote PDF", "path", pdfPath)
	}
	return nil
}

// prompt asks for the query and tree shape on stdin.
func prompt(cmd *cobra.Command) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("What would you like to research? ")
	input, _ := reader.ReadString('\n')
	query = strings.TrimSpace(input)
	if query == "" {
		return errors.New("query cannot be empty")
	}

	if !cmd.Flags().Changed("breadth") {
		breadth = askInt(reader, "Enter research breadth", breadth)
	}
	if !cmd.Flags().Changed("depth") {
		depth = askInt(reader, "Enter research depth", depth)
	}
	if !cmd.Flags().Changed("mode") {
		fmt.Printf("Generate a long report or a specific answer? (report/answer, default: %s): ", mode)
		input, _ = reader.ReadString('\n')
		if input = strings.TrimSpace(input); input != "" {
			mode = input
		}
	}
	return nil
}

func askInt(reader *bufio.Reader, label string, def int) int {
	fmt.Printf("%s (default: %d): ", label, def)
	input, _ := reader.ReadString('\n')
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return def
	}
	return n
}

func researchRequest() server.ResearchRequest {
	return server.ResearchRequest{Query: query, Depth: &depth, Breadth: &breadth, Mode: mode}
}

func runPurge(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to purge the cache")
	}

	ctx := context.Background()
	a := &app.App{Config: cfg}
	db, err := a.Database(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := db.PurgeCache(ctx, olderThan)
	if err != nil {
		return err
	}
	slog.Info("Purged cache entries", "count", n, "older_than", olderThan)
	return nil
}
