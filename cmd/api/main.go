package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/content"
	"github.com/inkmirror/inkmirror/pkg/database"
	"github.com/inkmirror/inkmirror/pkg/migrations"
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/inkmirror/inkmirror/pkg/server"
	"github.com/inkmirror/inkmirror/pkg/sync"
	"github.com/inkmirror/inkmirror/pkg/syncqueue"
	"github.com/inkmirror/inkmirror/pkg/targets"
	"github.com/inkmirror/inkmirror/pkg/version"
	"github.com/inkmirror/inkmirror/pkg/watcher"
	"github.com/inkmirror/inkmirror/pkg/worker"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting inkmirror", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	registry := targets.NewRegistry(
		targets.NewWebhookAdapter("webhook", nil),
	)

	targetService := targets.NewService(db)
	queueService := syncqueue.NewService(db, cfg)
	quotaService := quota.NewService(db, cfg)
	enqueuer := sync.NewEnqueuer(targetService, registry, queueService)
	contentService := content.NewService(db, quotaService, enqueuer)
	scanner := sync.NewScanner(db, registry, queueService)

	dispatcher := worker.New(cfg, db, registry)

	w := watcher.New(cfg, contentService)
	if err := w.Start(); err != nil {
		log.Err(err).Fatal("watcher error")
	}

	srv, err := server.New(cfg, db, server.Services{
		Content:  contentService,
		Quota:    quotaService,
		Registry: registry,
		Scanner:  scanner,
	})
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		log.Info("server started", logger.Data{"port": listener.Addr().(*net.TCPAddr).Port})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	dispatcher.Start()
	log.Info("dispatcher started", logger.Data{"processes": cfg.WorkerProcesses})

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	w.Shutdown()
	log.Info("watcher shutdown")

	dispatcher.Shutdown()
	log.Info("dispatcher shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}
