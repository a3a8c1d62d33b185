package net

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/sirupsen/logrus"
)

const (
	// ErrDeliveryFailed is the WAMP error returned by an inbox procedure that
	// could not hand a message to its consumer in time.
	ErrDeliveryFailed = wamp.URI("acol.error.delivery_failed")

	// ErrBadArguments is the WAMP error returned when an invocation does not
	// carry the expected arguments.
	ErrBadArguments = wamp.URI("acol.error.bad_arguments")
)

const (
	presenceSubscribe   = "subscribe"
	presenceSubscribed  = "subscribed"
	presenceUnsubscribe = "unsubscribe"
)

func inboxURI(id peers.JID) string {
	return "acol.inbox." + string(id)
}

func presenceURI(id peers.JID) string {
	return "acol.presence." + string(id)
}

func presenceTopic(id peers.JID) string {
	return "acol.status." + string(id)
}

// WampTransport implements the Transport interface on top of a WAMP router.
//
// Every transport registers two procedures named after its JID: an inbox,
// called by peers to deliver messages, and a presence procedure, called by
// peers to request, grant or cancel subscriptions. Availability changes are
// published on a per-node topic which only approved subscribers follow.
// Message bodies travel base64-encoded so they survive any WAMP serializer.
type WampTransport struct {
	sync.Mutex

	localAddr      peers.JID
	connect        func() (*client.Client, error)
	client         *client.Client
	consumerCh     chan Message
	maxMessageSize int
	timeout        time.Duration

	available     bool
	status        string
	subscribers   peers.Set
	subscriptions peers.Set

	dispatcher *dispatcher
	closed     bool
	logger     *logrus.Entry
}

// NewLocalWampTransport creates a WampTransport connected to an in-process
// router.
func NewLocalWampTransport(r *Router, addr peers.JID, maxMessageSize int, timeout time.Duration, logger *logrus.Entry) *WampTransport {
	t := newWampTransport(addr, maxMessageSize, timeout, logger)
	cfg := t.clientConfig(r.Realm())
	t.connect = func() (*client.Client, error) {
		return client.ConnectLocal(r.router, cfg)
	}
	return t
}

// NewWampTransport creates a WampTransport connected to a remote router over
// WebSockets.
func NewWampTransport(routerAddr string, realm string, addr peers.JID, maxMessageSize int, timeout time.Duration, logger *logrus.Entry) *WampTransport {
	if realm == "" {
		realm = DefaultRealm
	}
	t := newWampTransport(addr, maxMessageSize, timeout, logger)
	cfg := t.clientConfig(realm)
	url := routerAddr
	if !strings.Contains(url, "://") {
		url = fmt.Sprintf("ws://%s", routerAddr)
	}
	t.connect = func() (*client.Client, error) {
		return client.ConnectNet(context.Background(), url, cfg)
	}
	return t
}

func newWampTransport(addr peers.JID, maxMessageSize int, timeout time.Duration, logger *logrus.Entry) *WampTransport {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}

	if timeout <= 0 {
		timeout = time.Second
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &WampTransport{
		localAddr:      addr,
		consumerCh:     make(chan Message, 256),
		maxMessageSize: maxMessageSize,
		timeout:        timeout,
		subscribers:    peers.NewSet(),
		subscriptions:  peers.NewSet(),
		dispatcher:     newDispatcher(),
		logger:         logger.WithField("transport", "wamp"),
	}
}

func (w *WampTransport) clientConfig(realm string) client.Config {
	return client.Config{
		Realm:           realm,
		ResponseTimeout: w.timeout,
		Logger:          w.logger,
	}
}

// Listen implements the Transport interface. It connects to the router and
// registers the inbox and presence procedures.
func (w *WampTransport) Listen() error {
	w.Lock()
	defer w.Unlock()

	if w.closed {
		return ErrTransportShutdown
	}

	if w.client == nil {
		cli, err := w.connect()
		if err != nil {
			return err
		}
		w.client = cli
	}

	if err := w.client.Register(inboxURI(w.localAddr), w.inboxHandler, nil); err != nil {
		w.logger.WithError(err).Error("Failed to register inbox")
		return err
	}

	if err := w.client.Register(presenceURI(w.localAddr), w.presenceHandler, nil); err != nil {
		w.logger.WithError(err).Error("Failed to register presence procedure")
		return err
	}

	w.dispatcher.start()

	w.logger.Debug("Registered procedures with router")

	return nil
}

// LocalAddr implements the Transport interface.
func (w *WampTransport) LocalAddr() peers.JID {
	return w.localAddr
}

// RegisterHandler implements the Transport interface.
func (w *WampTransport) RegisterHandler(h PresenceHandler) error {
	return w.dispatcher.register(h)
}

// Consumer implements the Transport interface.
func (w *WampTransport) Consumer() <-chan Message {
	return w.consumerCh
}

// MaxMessageSize implements the Transport interface.
func (w *WampTransport) MaxMessageSize() int {
	return w.maxMessageSize
}

func (w *WampTransport) cli() (*client.Client, error) {
	w.Lock()
	defer w.Unlock()

	if w.closed {
		return nil, ErrTransportShutdown
	}
	if w.client == nil {
		return nil, fmt.Errorf("transport not listening")
	}
	return w.client, nil
}

func (w *WampTransport) call(target peers.JID, procedure string, args wamp.List) error {
	cli, err := w.cli()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	_, err = cli.Call(ctx, procedure, nil, args, nil, nil)
	if err != nil {
		if strings.Contains(err.Error(), string(wamp.ErrNoSuchProcedure)) {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
		}
		return err
	}

	return nil
}

// Subscribe implements the Transport interface.
func (w *WampTransport) Subscribe(target peers.JID) error {
	return w.call(target, presenceURI(target), wamp.List{presenceSubscribe, string(w.localAddr)})
}

// Approve implements the Transport interface. The acceptance carries our
// current presence so the requester does not wait for the next broadcast.
func (w *WampTransport) Approve(requester peers.JID) error {
	w.Lock()
	w.subscribers.Add(requester)
	state := Unavailable
	if w.available {
		state = Available
	}
	status := w.status
	w.Unlock()

	return w.call(requester, presenceURI(requester), wamp.List{
		presenceSubscribed,
		string(w.localAddr),
		state.String(),
		status,
	})
}

// Unsubscribe implements the Transport interface.
func (w *WampTransport) Unsubscribe(target peers.JID) error {
	cli, err := w.cli()
	if err != nil {
		return err
	}

	w.Lock()
	following := w.subscriptions.Contains(target)
	w.subscriptions.Remove(target)
	w.Unlock()

	if following {
		if err := cli.Unsubscribe(presenceTopic(target)); err != nil {
			w.logger.WithError(err).WithField("target", target).Debug("Unsubscribing from topic")
		}
	}

	w.dispatcher.push(eventUnavailable, target, "")

	return w.call(target, presenceURI(target), wamp.List{presenceUnsubscribe, string(w.localAddr)})
}

// SetPresence implements the Transport interface.
func (w *WampTransport) SetPresence(state PresenceState, status string) error {
	cli, err := w.cli()
	if err != nil {
		return err
	}

	w.Lock()
	w.available = state == Available
	w.status = status
	w.Unlock()

	return cli.Publish(presenceTopic(w.localAddr), nil, wamp.List{state.String(), status}, nil)
}

// Send implements the Transport interface.
func (w *WampTransport) Send(target peers.JID, body []byte) error {
	if len(body) > w.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(body), w.maxMessageSize)
	}

	return w.call(target, inboxURI(target), wamp.List{
		string(w.localAddr),
		base64.StdEncoding.EncodeToString(body),
	})
}

// Close implements the Transport interface. If we were still available, our
// subscribers are told we went offline before the connection is closed.
func (w *WampTransport) Close() error {
	w.Lock()
	if w.closed {
		w.Unlock()
		return nil
	}
	cli := w.client
	wasAvailable := w.available
	w.available = false
	w.Unlock()

	var err error
	if cli != nil {
		if wasAvailable {
			if perr := cli.Publish(presenceTopic(w.localAddr), nil, wamp.List{Unavailable.String(), ""}, nil); perr != nil {
				w.logger.WithError(perr).Debug("Publishing unavailable presence")
			}
		}
		cli.Unregister(inboxURI(w.localAddr))
		cli.Unregister(presenceURI(w.localAddr))
		err = cli.Close()
	}

	w.Lock()
	w.closed = true
	w.Unlock()

	w.dispatcher.close()

	return err
}

// inboxHandler is called when a peer delivers a message.
func (w *WampTransport) inboxHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return errResult(ErrBadArguments,
			fmt.Sprintf("Invocation should contain 2 arguments, not %d", len(inv.Arguments)))
	}

	from, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult(ErrBadArguments, "Error reading invocation first argument")
	}

	encoded, ok := wamp.AsString(inv.Arguments[1])
	if !ok {
		return errResult(ErrBadArguments, "Error reading invocation second argument")
	}

	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errResult(ErrBadArguments, fmt.Sprintf("Error decoding body: %v", err))
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case w.consumerCh <- Message{From: peers.JID(from), Body: body}:
		return client.InvokeResult{}
	case <-timer.C:
		return errResult(ErrDeliveryFailed, "Consumer TIMEOUT")
	case <-ctx.Done():
		return errResult(ErrDeliveryFailed, ctx.Err().Error())
	}
}

// presenceHandler is called when a peer requests, grants or cancels a
// subscription.
func (w *WampTransport) presenceHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) < 2 {
		return errResult(ErrBadArguments,
			fmt.Sprintf("Invocation should contain at least 2 arguments, not %d", len(inv.Arguments)))
	}

	kind, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult(ErrBadArguments, "Error reading invocation first argument")
	}

	f, ok := wamp.AsString(inv.Arguments[1])
	if !ok {
		return errResult(ErrBadArguments, "Error reading invocation second argument")
	}
	from := peers.JID(f)

	switch kind {
	case presenceSubscribe:
		w.dispatcher.push(eventSubscribeRequest, from, "")
	case presenceUnsubscribe:
		w.Lock()
		w.subscribers.Remove(from)
		w.Unlock()
	case presenceSubscribed:
		state, status := Unavailable, ""
		if len(inv.Arguments) == 4 {
			s, _ := wamp.AsString(inv.Arguments[2])
			state = parsePresenceState(s)
			status, _ = wamp.AsString(inv.Arguments[3])
		}
		// Invocation handlers run in their own goroutine so the client can
		// complete the subscription before we return.
		if err := w.follow(from); err != nil {
			w.logger.WithError(err).WithField("from", from).Error("Following presence")
		}
		w.dispatcher.push(eventSubscribeAccepted, from, "")
		if state == Available {
			w.dispatcher.push(eventAvailable, from, status)
		}
	default:
		return errResult(ErrBadArguments, fmt.Sprintf("Unknown presence request %q", kind))
	}

	return client.InvokeResult{}
}

// follow subscribes to the presence topic of an approved peer.
func (w *WampTransport) follow(target peers.JID) error {
	w.Lock()
	if w.closed || w.client == nil || w.subscriptions.Contains(target) {
		w.Unlock()
		return nil
	}
	w.subscriptions.Add(target)
	cli := w.client
	w.Unlock()

	return cli.Subscribe(presenceTopic(target), func(event *wamp.Event) {
		if len(event.Arguments) < 1 {
			return
		}
		s, _ := wamp.AsString(event.Arguments[0])
		if parsePresenceState(s) == Available {
			status := ""
			if len(event.Arguments) > 1 {
				status, _ = wamp.AsString(event.Arguments[1])
			}
			w.dispatcher.push(eventAvailable, target, status)
		} else {
			w.dispatcher.push(eventUnavailable, target, "")
		}
	}, nil)
}

func errResult(uri wamp.URI, msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  uri,
		Args: wamp.List{msg},
	}
}
