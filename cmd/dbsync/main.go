// cmd/dbsync/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/archive"
	"github.com/tamzrod/plc-db-sync/internal/blueprint"
	"github.com/tamzrod/plc-db-sync/internal/config"
	"github.com/tamzrod/plc-db-sync/internal/engine"
	"github.com/tamzrod/plc-db-sync/internal/feed"
	"github.com/tamzrod/plc-db-sync/internal/logging"
	"github.com/tamzrod/plc-db-sync/internal/sink"
	"github.com/tamzrod/plc-db-sync/internal/sink/mqtt"
	"github.com/tamzrod/plc-db-sync/internal/transport"
	"github.com/tamzrod/plc-db-sync/internal/writer"
)

// statusEvery is how often the engine status goes to the MQTT status topic.
const statusEvery = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: dbsync <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)
	d := cfg.DBSync

	logger, err := logging.New(d.Log)
	if err != nil {
		log.Fatalf("logger build failed: %v", err)
	}
	defer logger.Sync()
	transport.SetLogger(logger.Named("transport"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Layout
	// --------------------

	m, err := blueprint.CompileFile(d.Blueprint)
	if err != nil {
		logger.Fatal("blueprint compile failed", zap.String("path", d.Blueprint), zap.Error(err))
	}
	for _, name := range m.Shadowed() {
		logger.Warn("duplicate field name, last declaration wins", zap.String("field", name))
	}
	logger.Info("blueprint compiled",
		zap.String("path", d.Blueprint),
		zap.Int("fields", m.Len()),
		zap.Int("length", m.Length),
	)

	// --------------------
	// Transport + region
	// --------------------

	tr, err := buildTransport(d.PLC, m)
	if err != nil {
		logger.Fatal("transport build failed", zap.Error(err))
	}

	session, err := buildSession(d, tr)
	if err != nil {
		logger.Fatal("session build failed", zap.Error(err))
	}

	region, err := createRegion(d.SHM, logger)
	if err != nil {
		logger.Fatal("shared region create failed", zap.String("name", d.SHM.Name), zap.Error(err))
	}

	// From here on a fatal exit must not leave the region behind.
	fatal := func(msg string, fields ...zap.Field) {
		if err := releaseRegion(region); err != nil {
			logger.Warn("shared region release failed", zap.Error(err))
		}
		logger.Fatal(msg, fields...)
	}

	// --------------------
	// Engine, writer, surfaces
	// --------------------

	fanout := sink.NewFanout(sink.DefaultQueue, logger.Named("sink"))

	eng, err := engine.New(engine.Config{
		Period:      d.Cycle(),
		Backoff:     d.Backoff(),
		StopTimeout: d.StopTimeout(),
	}, session, m, region,
		engine.WithLogger(logger.Named("engine")),
		engine.WithNotifier(fanout),
	)
	if err != nil {
		fatal("engine build failed", zap.Error(err))
	}

	wr := writer.New(session, m, logger.Named("writer"))

	var mq *mqtt.Sink
	if c := d.MQTT; c != nil {
		mq, err = mqtt.New(mqtt.Config{
			Broker:     c.Broker,
			ClientID:   c.ClientID,
			Topic:      c.Topic,
			WriteTopic: c.WriteTopic,
			QoS:        c.QoS,
			Retain:     *c.Retain,
		}, wr, logger.Named("mqtt"))
		if err != nil {
			fatal("mqtt sink build failed", zap.Error(err))
		}
		if err := mq.Connect(); err != nil {
			logger.Error("mqtt disabled", zap.Error(err))
			mq = nil
		} else {
			fanout.Add(mq)
			go publishStatus(ctx, mq, eng, logger)
		}
	}

	var store *archive.Store
	if c := d.Archive; c != nil {
		store, err = archive.Open(c.Path, c.RetentionPeriod(), logger.Named("archive"))
		if err != nil {
			fatal("archive open failed", zap.Error(err))
		}
		fanout.Add(store)
		go func() {
			if err := store.RunRetention(ctx, c.PruneCron); err != nil {
				logger.Error("archive retention stopped", zap.Error(err))
			}
		}()
	}

	if c := d.Feed; c != nil {
		opts := feed.Options{
			Apply:  wr,
			Status: eng.Status,
			Log:    logger.Named("feed"),
		}
		if store != nil {
			opts.History = store
		}
		fd := feed.New(opts)
		fanout.Add(fd)
		go func() {
			if err := fd.ListenAndServe(ctx, c.Listen); err != nil {
				logger.Error("feed stopped", zap.Error(err))
			}
		}()
	}

	go fanout.Run(ctx)

	// --------------------
	// Run
	// --------------------

	if err := eng.Connect(); err != nil {
		// The loop keeps reconnecting on its own.
		logger.Warn("initial connect failed, polling anyway", zap.Error(eng.LastConnectError()))
	}
	eng.Start(d.Cycle())

	<-ctx.Done()
	logger.Info("shutting down")

	if err := eng.Close(); err != nil {
		logger.Warn("engine close", zap.Error(err))
	}
	if mq != nil {
		mq.Close()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("archive close", zap.Error(err))
		}
	}
}

func publishStatus(ctx context.Context, mq *mqtt.Sink, eng *engine.Engine, logger *zap.Logger) {
	t := time.NewTicker(statusEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := mq.PublishStatus(eng.Status()); err != nil {
				logger.Debug("status publish failed", zap.Error(err))
			}
		}
	}
}
