package main

import (
	"ZapDesk/console"
	"ZapDesk/impl/core"
	"ZapDesk/internal/config"
	repository "ZapDesk/internal/database"
	"ZapDesk/internal/enrich"
	"ZapDesk/internal/http-server/api"
	"ZapDesk/internal/lib/logger"
	"ZapDesk/internal/lib/sl"
	"ZapDesk/internal/transport/whatsapp"
	"ZapDesk/internal/ws"
	"context"
	"flag"
	"log/slog"
	"time"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	lg.Info("starting zapdesk", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	handler := core.New(lg)
	handler.SetAuthKey(conf.Listen.ApiKey)

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.With(
			sl.Err(err),
		).Error("mongo client")
	}
	if db != nil {
		handler.SetRepository(db)
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("user", conf.Mongo.User),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
	}

	var gateway *whatsapp.Gateway
	if conf.WhatsApp.AccessToken != "" {
		gateway = whatsapp.NewGateway(
			conf.WhatsApp.AccessToken,
			conf.WhatsApp.VerifyToken,
			conf.WhatsApp.AppSecret,
			conf.WhatsApp.PhoneNumberID,
			lg,
		)
		gateway.SetListener(handler)
		handler.SetTransport(gateway)
		lg.With(
			sl.Secret("access_token", conf.WhatsApp.AccessToken),
			slog.String("phone_number_id", conf.WhatsApp.PhoneNumberID),
		).Info("whatsapp gateway initialized")
	}

	var fetch console.FetchFunc
	resolver := enrich.NewResolver(conf, lg)
	if resolver != nil {
		fetch = resolver.ResolveIdentity
		lg.With(
			slog.String("url", conf.Enrichment.BaseURL),
		).Info("enrichment resolver initialized")
	}
	cache := console.NewCache(fetch, time.Duration(conf.Enrichment.StaleMinutes)*time.Minute)

	var unreadStore console.UnreadStore
	if db != nil {
		unreadStore = db
	}
	ledger := console.NewLedger(unreadStore, lg)
	if err = ledger.Load(context.Background()); err != nil {
		lg.With(
			sl.Err(err),
		).Error("load unread table")
	}
	handler.SetLedger(ledger)
	handler.SetCache(cache)

	var hub *ws.Hub
	if db != nil {
		var transport console.Transport
		if gateway != nil {
			transport = gateway
		}
		factory := func(sink console.EventSink) *console.Session {
			return console.NewSession(console.Deps{
				Transport:     transport,
				History:       db,
				Conversations: db,
				Cache:         cache,
				Ledger:        ledger,
				Sink:          sink,
				Log:           lg,
				PageSize:      conf.Console.MessagePageSize,
				NearBottomPx:  conf.Console.NearBottomPx,
				NearTopPx:     conf.Console.NearTopPx,
			})
		}
		hub = ws.NewHub(factory, lg)
		handler.SetHub(hub)
		go hub.Run()
	} else {
		lg.Error("console sessions disabled: no database configured")
	}

	// *** blocking start with http server ***
	err = api.New(conf, lg, handler, hub, gateway)
	if err != nil {
		lg.Error("server start", sl.Err(err))
		return
	}
	lg.Error("service stopped")
}
