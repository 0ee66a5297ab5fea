package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/cache"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/config"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/db"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/suggest"
	"github.com/nazuna-dev/booru-tagsuggest/tagsuggest/tagger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showStats := flag.Bool("stats", false, "print cache stats and exit")
	clearCache := flag.Bool("clear", false, "clear the tag cache and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	database, err := db.Connect(cfg.Cache.DatabasePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open cache database")
	}
	defer database.Close()

	ctx := context.Background()
	tagCache := cache.New(database, cfg.Cache, logger)
	defer tagCache.Wait()

	switch {
	case *showStats:
		st := tagCache.Stats(ctx)
		fmt.Printf("entries:        %d\n", st.Entries)
		fmt.Printf("total size:     %.1f KB\n", st.TotalSizeKB)
		fmt.Printf("oldest entry:   %.1f days\n", st.OldestEntryAgeDays())
		return
	case *clearCache:
		tagCache.Clear(ctx)
		logger.Info().Msg("tag cache cleared")
		return
	}

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tagsuggest [-config path] [-stats|-clear] <media-url>...")
		os.Exit(2)
	}

	svc := suggest.NewService(tagCache, tagger.NewClient(cfg.Tagger, nil, logger), nil, logger)

	for _, mediaURL := range urls {
		tags, err := svc.Suggest(ctx, mediaURL)
		if err != nil {
			logger.Error().Err(err).Str("url", mediaURL).Msg("suggestion failed")
			continue
		}
		fmt.Println(mediaURL)
		for _, t := range tags {
			fmt.Printf("  %-40s %s\n", t.Name, strings.TrimSpace(t.Confidence))
		}
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
