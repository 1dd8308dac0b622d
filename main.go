package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"perps/config"
	"perps/logger"
	"perps/pkg/book"
	"perps/pkg/engine"
	"perps/pkg/exchange"
	"perps/pkg/order"
	"perps/pkg/stream"
)

func main() {
	configFile := flag.String("c", "", "Configuration file")
	market := flag.String("m", "BTC-USD", "Market to subscribe")
	flag.Parse()

	log := logger.GetLogger()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("configuring logger")
	}

	// Credentials are optional: without them the engine runs read-only.
	var account *order.Account
	apiKey := ""
	if creds, err := config.LoadCredentials(); err == nil {
		account, err = order.NewAccount(creds.Vault, creds.PrivateKey, creds.APIKey)
		if err != nil {
			log.WithError(err).Fatal("building account")
		}
		apiKey = creds.APIKey
	} else {
		log.WithComponent("main").Info("no credentials in environment, running read-only")
	}

	client := exchange.NewClient(cfg.Exchange.APIBaseURL, apiKey, cfg.Exchange.Timeout)
	transport := stream.NewWSTransport(stream.WSConfig{
		StreamURL:  cfg.Exchange.StreamURL,
		APIBaseURL: cfg.Exchange.APIBaseURL,
		APIKey:     apiKey,
		Timeout:    cfg.Exchange.Timeout,
	})

	consumer := stream.Consumer{
		OnBBO: func(snap book.Snapshot) {
			fields := logger.Fields{"market": snap.Market, "seq": snap.Sequence}
			if len(snap.Bids) > 0 {
				fields["bid"] = snap.Bids[0].Price.String()
			}
			if len(snap.Asks) > 0 {
				fields["ask"] = snap.Asks[0].Price.String()
			}
			log.WithComponent("consumer").WithFields(fields).Info("bbo")
		},
		OnTrades: func(trades []book.Trade) {
			if len(trades) > 0 {
				log.WithComponent("consumer").WithFields(logger.Fields{
					"last_trade": trades[0].Price.String(),
					"count":      len(trades),
				}).Debug("trades")
			}
		},
		OnMarkPrice: func(price decimal.Decimal) {
			log.WithComponent("consumer").WithFields(logger.Fields{"mark": price.String()}).Debug("mark price")
		},
	}

	onStatus := func(s stream.State, err error) {
		entry := log.WithComponent("main").WithFields(logger.Fields{"state": s.String()})
		if err != nil {
			entry.WithError(err).Error("stream status")
			return
		}
		entry.Info("stream status")
	}

	eng, err := engine.New(cfg, client, transport, account, consumer, onStatus)
	if err != nil {
		log.WithError(err).Fatal("building engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx, *market); err != nil {
		log.WithError(err).Fatal("starting engine")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.WithComponent("main").Info("shutting down")
	eng.Stop()
}
