package main

import (
	"context"
	"net/http"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"zunify/auth"
	appConfig "zunify/config"
	"zunify/handlers"
	"zunify/library"
	"zunify/player"
	"zunify/queue"
	"zunify/relay"
	"zunify/sentry"
	"zunify/session"
	"zunify/spotify"
	"zunify/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warnf("Error loading .env file: %v", err)
	}
	appConfig.NewConfig()

	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		FieldsOrder:     []string{"module"},
		TimestampFormat: time.RFC3339,
	})

	sentry.Init()

	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	st, err := store.Open(appConfig.Config.Options.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	creds := auth.NewCredentials(st)
	creds.Hydrate()

	relayClient := relay.NewClient(appConfig.Config.Relay.BaseURL)
	gateway := auth.NewGateway(creds, relayClient,
		time.Duration(appConfig.Config.Auth.SafetyMarginSeconds)*time.Second,
		time.Duration(appConfig.Config.Auth.RefreshTimeoutSeconds)*time.Second,
	)
	go gateway.AutoRefresh(ctx)

	spotifyClient := spotify.NewClient(creds)
	flags := library.New(spotifyClient, gateway)

	q := queue.New(st)
	q.Hydrate()

	bridge := player.NewBridge()
	sess := session.New(bridge, spotifyClient, gateway, creds, flags, q, bridge,
		time.Duration(appConfig.Config.Session.TickIntervalMs)*time.Millisecond)
	go sess.Run(ctx)

	manager := handlers.NewManager(creds, relayClient, spotifyClient, sess, gateway, bridge)

	router := gin.Default()
	router.Use(sentry.GetSentryGin())
	manager.Register(router)

	port := appConfig.Config.Options.Port
	if port == "" {
		port = "8080"
	}
	log.Infof("Starting server on :%s", port)
	return http.ListenAndServe(":"+port, router)
}
