package net

import (
	"context"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// DefaultRealm is the WAMP realm used when none is configured.
const DefaultRealm = "acol"

// Router is the WAMP router through which WampTransports exchange presence
// events and messages. It can be used in-process, by creating transports
// with NewLocalWampTransport, or served over WebSockets with Run.
type Router struct {
	address    string
	realm      string
	router     router.Router
	httpServer *http.Server
	logger     *logrus.Entry
}

// NewRouter instantiates a new Router for realm. The address is only used by
// Run and can be empty for in-process routers.
func NewRouter(address string, realm string, logger *logrus.Entry) (*Router, error) {
	if realm == "" {
		realm = DefaultRealm
	}

	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	res := &Router{
		address: address,
		realm:   realm,
		router:  nxr,
		logger:  logger,
	}

	if address != "" {
		res.httpServer = &http.Server{
			Handler: router.NewWebsocketServer(nxr),
			Addr:    address,
		}
	}

	return res, nil
}

// Run serves the router over WebSockets. It blocks until Shutdown is called.
func (r *Router) Run() error {
	if r.httpServer == nil {
		return nil
	}

	r.logger.WithField("address", r.address).Debug("Serving WAMP router")

	err := r.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		r.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the websocket server, and the wamp router
func (r *Router) Shutdown() {
	defer r.router.Close()

	if r.httpServer == nil {
		return
	}

	if err := r.httpServer.Shutdown(context.Background()); err != nil {
		r.logger.WithError(err).Error("Shutting down http server")
	}
}

// Addr returns the address of the server
func (r *Router) Addr() string {
	return r.address
}

// Realm returns the realm served by the router.
func (r *Router) Realm() string {
	return r.realm
}
