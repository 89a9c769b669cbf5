// Command tilecached runs the tile cache's retrieval and storage
// subsystems as a standalone process: it wires a FileStore, an
// AbsentResourceList, a DataFileStore index, and a RetrievalService
// into one object graph from a YAML config file, and serves Prometheus
// metrics over HTTP.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/urfave/cli/v2"

	"github.com/tilegrid/cache/cache/absent"
	"github.com/tilegrid/cache/cache/datafilestore"
	"github.com/tilegrid/cache/cache/filestore"
	"github.com/tilegrid/cache/cache/postprocess"
	"github.com/tilegrid/cache/cache/retrieval"
	"github.com/tilegrid/cache/config"
	"github.com/tilegrid/cache/metric"
	"github.com/tilegrid/cache/utils/rlimit"
)

func main() {
	log.SetFlags(config.LogFlags)

	app := cli.NewApp()
	app.Name = "tilecached"
	app.Usage = "retrieval and storage core for a tile cache"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "config_file",
			Usage:    "path to a YAML configuration file",
			Required: true,
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal("tilecached: ", err)
	}
}

func run(ctx *cli.Context) error {
	rlimit.Raise()
	log.Printf("tilecached starting, %s", runtime.Version())

	cfg, err := config.Load(ctx.String("config_file"))
	if err != nil {
		return err
	}

	files := filestore.New(cfg.ErrorLogger)
	if err := files.SetWriteLocation(cfg.Dir); err != nil {
		return fmt.Errorf("tilecached: %w", err)
	}
	mode, err := filestore.ParseStorageMode(cfg.StorageMode)
	if err != nil {
		return err
	}
	files.SetStorageMode(mode)

	if usage, err := files.Scan(); err != nil {
		cfg.ErrorLogger.Printf("startup scan failed: %v", err)
	} else {
		log.Printf("tilecached: store holds %d files, %d bytes", usage.Files, usage.Bytes)
	}

	absentList := absent.New(cfg.AbsentMaxEntries, cfg.AbsentMaxTries, cfg.AbsentMinCheckInterval, cfg.AbsentTryAgainInterval)

	// store is wired into the post-processor's OnSaved hook below,
	// closing the retrieval loop: a fetch completes, the processor
	// saves the bytes, and the index entry goes local.
	var store *datafilestore.Store

	mapper := filestore.NewPathMapper()
	pp := postprocess.New(cfg.ErrorLogger, files, mapper, absentList, postprocess.Hooks{
		OnSaved: func(address, fileURL, contentType string, expiration int64) {
			store.UpdateEntry(address, fileURL, contentType, expiration)
		},
	})

	service := retrieval.NewService(cfg.RetrievalPoolSize, cfg.RetrievalQueueSize, cfg.StaleRequestLimit, pp, cfg.ErrorLogger)

	var s3Client *minio.Client
	if cfg.S3 != nil {
		s3Client, err = newS3Client(cfg.S3)
		if err != nil {
			return fmt.Errorf("tilecached: s3 client: %w", err)
		}
	}

	store = datafilestore.New(
		cfg.ErrorLogger,
		cfg.IndexCapacity,
		files,
		absentList,
		func(address string) (retrieval.Retriever, error) {
			return retrieval.NewRetrieverFor(address, s3Client, cfg.ConnectTimeout, cfg.ReadTimeout)
		},
		service,
		cfg.CacheableContentTypes,
	)
	store.AddSuccessListener(func(retrievalURL, localURL string) {
		cfg.AccessLogger.Printf("retrieved %s -> %s", retrievalURL, localURL)
	})

	registry := metric.NewRegistry()
	registry.MustRegister(store.Collectors()...)

	if cfg.S3 != nil {
		log.Printf("tilecached: s3 retrieval enabled via %s", cfg.S3.Endpoint)
	}

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", registry.Handler())
		go func() {
			log.Printf("tilecached: serving metrics on %s", cfg.MetricsAddress)
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				cfg.ErrorLogger.Printf("metrics server exited: %v", err)
			}
		}()
	}

	select {}
}

// newS3Client builds the object-store client for s3:// addresses,
// authenticating with a static key pair when one is configured and
// falling back to IAM credentials otherwise.
func newS3Client(c *config.S3Config) (*minio.Client, error) {
	opts := &minio.Options{
		Secure: !c.DisableSSL,
		Region: c.Region,
	}
	if c.AccessKeyID != "" {
		opts.Creds = credentials.NewStaticV4(c.AccessKeyID, c.SecretAccessKey, "")
	} else {
		opts.Creds = credentials.NewIAM(c.IAMRoleEndpoint)
	}
	return minio.New(c.Endpoint, opts)
}
