// blobfsd serves a bucket-backed filesystem over HTTP.
//
// Run with:
//
//	blobfsd -config /etc/blobfs/blobfs.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nkoutsov/blobfs/internal/blobfs/objectstore"
	"github.com/nkoutsov/blobfs/internal/blobfs/objectstore/gcs"
	"github.com/nkoutsov/blobfs/internal/blobfs/objectstore/minio"
	"github.com/nkoutsov/blobfs/internal/config"
	"github.com/nkoutsov/blobfs/internal/logger"
	"github.com/nkoutsov/blobfs/internal/server"
)

func main() {
	configPath := flag.String("config", "blobfs.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New(nil).Fatal(err.Error())
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newClient(ctx, cfg)
	if err != nil {
		log.Fatal(err.Error())
	}

	fs := objectstore.New(client, cfg.Storage.Bucket, objectstore.Config{
		Directory:    cfg.Storage.Directory,
		Create:       cfg.Storage.Create,
		CacheControl: cfg.Storage.CacheControl,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(fs, log).Handler(),
	}

	go func() {
		log.With().
			Str("addr", cfg.Server.Addr).
			Str("provider", string(cfg.Storage.Provider)).
			Str("bucket", cfg.Storage.Bucket).
			Logger().Info("blobfsd listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// newClient builds the object-store driver selected by the configuration.
func newClient(ctx context.Context, cfg *config.Config) (objectstore.ObjectClient, error) {
	switch cfg.Storage.Provider {
	case config.ProviderGCS:
		return gcs.New(ctx, gcs.Config{
			Project:         cfg.Storage.GCS.Project,
			CredentialsFile: cfg.Storage.GCS.CredentialsFile,
		})
	default:
		return minio.New(ctx, minio.Config{
			Endpoint:  cfg.Storage.Minio.Endpoint,
			AccessKey: cfg.Storage.Minio.AccessKey,
			SecretKey: cfg.Storage.Minio.SecretKey,
			UseSSL:    cfg.Storage.Minio.UseSSL,
			Region:    cfg.Storage.Minio.Region,
		})
	}
}
