package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"github.com/rs/zerolog"

	"nuha.dev/runtracker/internal/config"
	"nuha.dev/runtracker/internal/events"
	"nuha.dev/runtracker/internal/location/simplejson"
	"nuha.dev/runtracker/internal/monitoring"
	"nuha.dev/runtracker/internal/relay"
	"nuha.dev/runtracker/internal/service"
	"nuha.dev/runtracker/internal/store"
	"nuha.dev/runtracker/internal/store/impl/logstore"
	"nuha.dev/runtracker/internal/store/impl/pgstore"
	"nuha.dev/runtracker/internal/sublist"
	"nuha.dev/runtracker/internal/tracker"
	"nuha.dev/runtracker/internal/util"
	"nuha.dev/runtracker/internal/webapp"
	ws "nuha.dev/runtracker/internal/webstream"
)

func main() {
	config_path := flag.String("config", "", "config file, defaults to runtracker.yaml in . or /etc/runtracker")
	mon_server := flag.Bool("mon_server", true, "run monitoring server")
	flag.Parse()

	cfg, err := config.Load(*config_path)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	log.DefaultLogger.Level = cfg.Level()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	b, err := events.NewBus(cfg.BusNode)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create event bus")
	}

	var runs store.RunStore
	if cfg.DbUrl != "" {
		pool, err := pgxpool.Connect(context.Background(), cfg.DbUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer pool.Close()
		if cfg.InitSchema {
			err = pgstore.Init(context.Background(), pool)
			if err != nil {
				log.Fatal().Err(err).Msg("unable to create schema")
			}
		}
		runs, err = pgstore.NewStore(pool, &pgstore.StoreConfig{HashSalt: cfg.HashidsSalt, HashMinLength: cfg.HashidsMin})
		if err != nil {
			log.Fatal().Err(err).Msg("unable to create run store")
		}
	} else {
		log.Warn().Msg("db_url not set, finished runs are only kept in memory")
		runs = logstore.NewStore()
	}

	dev := simplejson.NewServer(&simplejson.ServerConfig{ListenerAddr: cfg.DeviceAddr, LoginTimeout: cfg.LoginTimeout})
	trk := tracker.New(dev, b, &tracker.Config{TickInterval: cfg.TickInterval, DefaultStart: cfg.DefaultStart()})

	slist := sublist.NewSublist()
	b.RegisterHandler("sublist", slist.Handler())

	if cfg.NatsUrl != "" {
		nc, err := relay.Connect(&relay.RelayConfig{Url: cfg.NatsUrl, Prefix: cfg.NatsPrefix})
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to nats")
		}
		defer nc.Close()
		b.RegisterHandler("relay", relay.New(nc, cfg.NatsPrefix).Handler())
	}

	ws_token := cfg.WsToken
	if ws_token == "" && !cfg.WsMockToken {
		ws_token = util.GenRandomString(nil, 24)
		log.Info().Str("ws_token", ws_token).Msg("generated websocket token")
	}
	wss := ws.NewWebstream(slist, ws.WebStreamConfig{MockToken: cfg.WsMockToken, Token: ws_token, ListenAddr: cfg.WsAddr})
	api := webapp.NewApi(service.NewRunService(trk, runs), &webapp.ApiConfig{ListenAddr: cfg.ApiAddr, Token: cfg.ApiToken})

	errs := make(chan error, 5)
	go func() { errs <- dev.Run() }()
	go func() { errs <- wss.Run() }()
	go func() { errs <- api.Run() }()

	var mon *monitoring.MonitoringServer
	if *mon_server {
		mon = monitoring.NewMonApi(&monitoring.MonitoringConfig{ListenAddr: cfg.MonAddr})
		mon.Add("device", func() interface{} { return dev.Status() })
		mon.Add("tracker", func() interface{} { return trk.State() })
		mon.Add("ws_subscribers", func() interface{} { return slist.Len() })
		go func() { errs <- mon.Run() }()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errs:
		log.Error().Err(err).Msg("server stopped, shutting down")
	}

	if trk.State() == tracker.Tracking {
		sess, err := trk.Stop()
		if err == nil {
			_, err = runs.Put(context.Background(), sess)
		}
		if err != nil {
			log.Error().Err(err).Msg("unable to archive running session")
		}
	}
	_ = api.Close()
	_ = wss.Close()
	_ = dev.Close()
	if mon != nil {
		_ = mon.Close()
	}
}
