package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/naccdata/clariti-advanced-mri/internal/config"
	"github.com/naccdata/clariti-advanced-mri/internal/ledger"
	"github.com/naccdata/clariti-advanced-mri/internal/observability"
	"github.com/naccdata/clariti-advanced-mri/internal/pipeline"
	"github.com/naccdata/clariti-advanced-mri/internal/platform"
	"github.com/naccdata/clariti-advanced-mri/internal/repack"
	"github.com/naccdata/clariti-advanced-mri/internal/subject"
)

func main() {
	// Repackages a zip of loose dicoms into one zip per series, then
	// optionally uploads each bundle and runs the external pipeline on it.

	var zipPath, configPath, profileName, metricsAddr string
	var upload bool

	flag.StringVar(&zipPath, "zip", "", "Path to the source zip archive of dicom files.")
	flag.StringVar(&configPath, "config", "", "Path to a flat key=value config file (env vars override).")
	flag.BoolVar(&upload, "upload", false, "Upload each produced bundle to the imaging platform.")
	flag.StringVar(&profileName, "profile", "", "Processing profile to run on each bundle (empty to skip).")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Optional listen address for Prometheus metrics.")

	flag.Parse()

	if zipPath == "" {
		fmt.Fprintln(os.Stderr, "the -zip flag is required")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := observability.NewLogger("repackager", cfg.Debug, os.Stderr)
	metrics := observability.NewMetrics()

	if metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
				log.Error(err, "metrics listener stopped", nil)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, metrics, zipPath, upload, profileName); err != nil {
		log.Error(err, "run failed", nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, zipPath string, upload bool, profileName string) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}

	resolver, err := subject.NewResolver(cfg.SubjectToken)
	if err != nil {
		return err
	}

	repackager := repack.New(resolver, log, metrics, cfg.OutputDir)

	result, err := repackager.Repackage(ctx, zipPath)
	if err != nil {
		return err
	}

	for _, skipped := range result.Skipped {
		log.Warn("entry excluded from all bundles", map[string]string{
			"entry":  skipped.ArchivePath,
			"reason": string(skipped.Reason),
			"detail": skipped.Detail,
		})
	}

	if upload {
		led, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer led.Close()

		client := platform.NewClient(cfg.PlatformURL, cfg.PlatformAPIKey, 5*time.Minute)
		uploader := platform.NewUploader(client, led, log, cfg.ProjectLabel)

		if err := uploader.UploadAll(ctx, result); err != nil {
			return err
		}
	}

	if profileName != "" {
		profiles, err := pipeline.LoadProfiles()
		if err != nil {
			return err
		}

		runner := pipeline.NewRunner(cfg.PipelineBin, profiles)
		for _, bundle := range result.Bundles {
			if err := runner.Run(ctx, bundle.Path, pipeline.Profile(profileName)); err != nil {
				return err
			}
		}
	}

	return nil
}
