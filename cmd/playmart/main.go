package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"playmart/internal/config"
	"playmart/internal/load"
	"playmart/internal/metrics"
	"playmart/internal/metrics/datadog"
	"playmart/internal/metrics/prompush"
	"playmart/internal/pipeline"
	"playmart/internal/storage"
	"playmart/internal/warehouse"

	// register all backends with the storage factory.
	// config specifies which to use but we build in support for all of them.
	_ "playmart/internal/storage/all"
)

// main is the entry point for the playmart binary. It loads the pipeline
// config, optionally initializes a metrics backend, and executes the run.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
		recreate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/sample.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&recreate, "recreate", false, "drop and recreate the warehouse tables before loading")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}

	// If validate flag is set, only validate the configuration and exit.
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	if recreate {
		p.Storage.Recreate = true
	}
	// DSNs commonly carry credentials via ${PGPASSWORD}-style references.
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)

	// Fatal paths return here so the deferred sink close and metrics flush
	// inside run always execute.
	if err := run(p, metricsBackendFlg, pushGatewayURLFlg, *verbose); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(p config.Pipeline, metricsBackendFlg, pushGatewayURLFlg string, verbose bool) error {
	jobName := p.Job
	if jobName == "" {
		jobName = "playmart_etl"
	}

	// Decide metrics backend: flag → env → default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		// Decide Pushgateway URL: flag → env → default.
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}

		b, err := prompush.NewBackend(prompush.Options{
			GatewayURL: gwURL,
			JobName:    jobName,
		})
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
		} else {
			log.Printf("metrics: url=%v backend=%v job_name=%v", gwURL, backendName, jobName)
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}

	case "datadog":
		// The Datadog backend buffers and submits periodically, then one
		// final time at shutdown (Close()). Long corpora therefore show up
		// as a time series rather than a single end-of-run spike.
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Tags:    extraTags,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v job_name=%v tags=%v", backendName, jobName, extraTags)
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}

	case "", "none":
		// metrics disabled; nop backend remains
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()
	start := time.Now()

	if verbose {
		log.Printf("pipeline: job=%s source=%s storage=%s recreate=%t",
			jobName, p.Source.Kind, p.Storage.Kind, p.Storage.Recreate)
	}

	// An unreachable sink is fatal before any file is read.
	repo, err := storage.New(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer repo.Close()

	coord := load.NewCoordinator(repo, warehouse.Tables(), p.Runtime.BatchSize)

	driver := pipeline.New(p, coord)
	driver.Logger = log.Default()

	sum, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	for _, fe := range sum.Failures {
		log.Printf("failed: %v", fe)
	}
	log.Printf("summary: state=%s song_files=%d/%d log_files=%d/%d plays=%d unmatched=%d ambiguous=%d",
		sum.State,
		sum.Songs.FilesProcessed, sum.Songs.FilesProcessed+sum.Songs.FilesFailed,
		sum.Logs.FilesProcessed, sum.Logs.FilesProcessed+sum.Logs.FilesFailed,
		sum.PlayEvents, sum.Unmatched, sum.Ambiguous)
	for _, table := range []string{
		warehouse.TableSongs, warehouse.TableArtists, warehouse.TableUsers,
		warehouse.TableTime, warehouse.TableSongplays,
	} {
		log.Printf("summary: table=%s rows_loaded=%d", table, sum.RowsLoaded[table])
	}

	if verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	return nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
