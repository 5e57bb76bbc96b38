package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clark-Hu/institution-ratings/db/migrations"
	"github.com/Clark-Hu/institution-ratings/internal/config"
	"github.com/Clark-Hu/institution-ratings/internal/domain"
	httpserver "github.com/Clark-Hu/institution-ratings/internal/http"
	"github.com/Clark-Hu/institution-ratings/internal/notify"
	"github.com/Clark-Hu/institution-ratings/internal/ratings"
	"github.com/Clark-Hu/institution-ratings/internal/repository"
	"github.com/Clark-Hu/institution-ratings/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := log.New(os.Stdout, "[ratings-api] ", log.LstdFlags|log.Lshortfile)

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(dbCtx, migrations.FS); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	sender, closeSender, err := newSender(cfg, logger)
	if err != nil {
		log.Fatalf("init notification sender: %v", err)
	}
	defer closeSender()

	mailer := notify.NewMailer(sender, notify.Options{
		From:          cfg.MailFrom,
		FromName:      cfg.MailFromName,
		AdminAddress:  cfg.MailAdminAddress,
		VoteOverride:  cfg.MailVoteOverride,
		Bcc:           cfg.MailBcc,
		Criteria:      domain.DefaultCriteria,
		ScoreboardURL: cfg.ScoreboardURL,
		Timeout:       time.Duration(cfg.NotifyTimeoutSecs) * time.Second,
		Logger:        logger,
	})

	repo := repository.New(st)
	svc := ratings.New(repo.Institutions, repo.Ratings, mailer, ratings.Options{
		Criteria:          domain.DefaultCriteria,
		MaxVotesPerClient: cfg.MaxVotesPerClient,
		StrictLimit:       cfg.StrictVoteLimit,
		Logger:            logger,
	})
	server := httpserver.New(cfg, st, svc, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			log.Printf("server error: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("graceful shutdown error: %v", err)
	}
}

// newSender picks the notification transport named by the config.
func newSender(cfg config.Config, logger *log.Logger) (notify.Sender, func(), error) {
	timeout := time.Duration(cfg.NotifyTimeoutSecs) * time.Second
	switch cfg.NotifyTransport {
	case config.TransportSMTP:
		logger.Printf("notify: delivering over smtp %s:%d", cfg.SMTPHost, cfg.SMTPPort)
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			SSL:      cfg.SMTPSSL,
		}), func() {}, nil
	case config.TransportKafka:
		logger.Printf("notify: publishing to kafka topic %q", cfg.KafkaTopic)
		sender := notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		return sender, func() {
			if err := sender.Close(); err != nil {
				logger.Printf("notify: close kafka writer: %v", err)
			}
		}, nil
	case config.TransportWebhook:
		logger.Printf("notify: relaying to webhook %s", cfg.WebhookURL)
		sender, err := notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookAPIKey, timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return sender, func() {}, nil
	default:
		logger.Println("notify: logging notifications only")
		return notify.NewLogSender(logger), func() {}, nil
	}
}
