package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/shopmonkeyus/go-common/logger"
	cnats "github.com/shopmonkeyus/go-common/nats"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// StreamName is the JetStream stream that retains change events.
	StreamName = "gridbase-events"

	// StreamSubjects is the subject space the stream captures.
	StreamSubjects = "gridbase.events.>"

	defaultBufferSize = 1024
	publishTimeout    = time.Second * 10
	eventRetention    = time.Hour * 24
)

// Config is the configuration for the Publisher.
type Config struct {

	// Logger to use for logging.
	Logger logger.Logger

	// URL of the NATS server.
	URL string

	// Credentials is the path to a NATS credentials file, ignored for local servers.
	Credentials string

	// InstanceID identifies this server in the NATS client name.
	InstanceID string

	// BufferSize overrides the default size of the pending event buffer.
	BufferSize int
}

// Publisher delivers change events to NATS JetStream. Events are queued on a
// bounded buffer and published from a background goroutine so that callers on
// the request path never wait on the broker.
type Publisher struct {
	logger logger.Logger
	url    string
	creds  string
	name   string
	conn   *nats.Conn
	js     jetstream.JetStream
	queue  chan internal.ChangeEvent
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ internal.EventPublisher = (*Publisher)(nil)

// New will create a new Publisher. Call Start before publishing events.
func New(config Config) *Publisher {
	size := config.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	name := "gridbase"
	if config.InstanceID != "" {
		name = "gridbase-" + config.InstanceID
	}
	return &Publisher{
		logger: config.Logger.WithPrefix("[notification]"),
		url:    config.URL,
		creds:  config.Credentials,
		name:   name,
		queue:  make(chan internal.ChangeEvent, size),
	}
}

// NewNatsConnection will connect to the NATS server, using the credentials
// file unless the server is local.
func NewNatsConnection(logger logger.Logger, name string, url string, creds string) (*nats.Conn, error) {
	var natsCredentials nats.Option
	if util.IsLocalhost(url) || creds == "" {
		logger.Debug("using localhost nats server")
	} else {
		natsCredentials = nats.UserCredentials(creds)
	}
	nc, err := cnats.NewNats(logger, name, url, natsCredentials)
	if err != nil {
		return nil, fmt.Errorf("error creating nats connection: %w", err)
	}
	return nc, nil
}

// Start will connect to NATS, make sure the event stream exists and begin
// draining the queue.
func (p *Publisher) Start() error {
	nc, err := NewNatsConnection(p.logger, p.name, p.url, p.creds)
	if err != nil {
		return err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("error creating jetstream context: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamSubjects},
		Storage:  jetstream.FileStorage,
		MaxAge:   eventRetention,
	}); err != nil {
		nc.Close()
		return fmt.Errorf("error creating stream %s: %w", StreamName, err)
	}
	p.conn = nc
	p.js = js
	p.wg.Add(1)
	go p.dispatch()
	p.logger.Debug("started, publishing to stream %s", StreamName)
	return nil
}

// Stop will drain any queued events, wait for them to publish and close the
// connection. The publisher cannot be restarted.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.logger.Debug("stopped")
}

// Publish enqueues an event for delivery. It never blocks: when the buffer is
// full the event is dropped with a warning.
func (p *Publisher) Publish(event internal.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- event:
		internal.PendingEvents.Inc()
	default:
		p.logger.Warn("event buffer full, dropping %s", event.String())
	}
}

func (p *Publisher) dispatch() {
	defer p.wg.Done()
	for event := range p.queue {
		internal.PendingEvents.Dec()
		if err := p.send(event); err != nil {
			p.logger.Error("error publishing %s: %s", event.String(), err)
			continue
		}
		internal.EventsPublished.Inc()
		p.logger.Trace("published %s", event.String())
	}
}

func (p *Publisher) send(event internal.ChangeEvent) error {
	buf, err := msgpack.Marshal(&event)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}
	msg := nats.NewMsg(event.Subject())
	msg.Data = buf
	msg.Header.Set("content-encoding", "msgpack")
	msgID := event.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	msg.Header.Set(nats.MsgIdHdr, msgID)
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("error publishing to %s: %w", msg.Subject, err)
	}
	return nil
}
