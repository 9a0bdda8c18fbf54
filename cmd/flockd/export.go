package main

import (
	"context"
	"flag"
	"os"

	"github.com/flockd-io/flockd/internal/capture"
	"github.com/flockd-io/flockd/internal/objectstore"
	"github.com/flockd-io/flockd/internal/objectstore/s3"
)

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	run := fs.String("run", "", "Run id to export (required)")
	out := fs.String("out", "", "Output file (default: <run>.parquet)")
	usage(fs, `Usage: flockd export --run <id> [options]

Read every capture segment of a run from the configured bucket and write
the records to one Parquet file.`)

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *run == "" {
		fs.Usage()
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	if cfg.ObjectStore.Bucket == "" {
		return fail("export needs objectStore.bucket to be set")
	}
	path := *out
	if path == "" {
		path = *run + ".parquet"
	}

	logger := newLogger(cfg, "export").WithRunID(*run)
	ctx := context.Background()

	store, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.ObjectStore.Bucket,
		Region:          cfg.ObjectStore.Region,
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKey,
		SecretAccessKey: cfg.ObjectStore.SecretKey,
		UsePathStyle:    cfg.ObjectStore.Endpoint != "",
	})
	if err != nil {
		return fail("%v", err)
	}
	defer store.Close()

	f, err := os.Create(path)
	if err != nil {
		return fail("%v", err)
	}
	rows, err := capture.ExportParquet(ctx, store, objectstore.NormalizeKey(cfg.Capture.Prefix), *run, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fail("export failed: %v", err)
	}
	logger.Infof("export complete", map[string]any{"path": path, "rows": rows})
	return 0
}
