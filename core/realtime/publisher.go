package realtime

import (
	"sync"

	"github.com/artpar/plume/core/service"
	"github.com/rs/zerolog"
)

// Resolver maps one emitted event to the channels that should receive it.
// It is invoked once per successful mutating call with that call's context.
type Resolver func(hc *service.Context) []string

// Serializer re-shapes the payload sent to one recipient. It runs with the
// recipient's own identity, so the payload each member receives may differ
// from what the original caller got back synchronously. Returning ok=false
// withholds the event from that recipient.
type Serializer func(hc *service.Context, recipient *Connection) (payload any, ok bool)

// PublishObserver is notified about every fan-out (metrics).
type PublishObserver interface {
	ObservePublish(event string, recipients int)
}

// Publisher turns successful mutating calls into channel fan-outs.
// It implements service.Publisher.
type Publisher struct {
	reg *Registry

	mu          sync.RWMutex
	resolvers   map[string]Resolver
	serializers map[string]Serializer
	fallback    Resolver

	observer PublishObserver
	logger   zerolog.Logger
}

// NewPublisher creates a publisher over the registry. The default policy
// broadcasts every event to the Everybody channel.
func NewPublisher(reg *Registry, logger zerolog.Logger) *Publisher {
	return &Publisher{
		reg:         reg,
		resolvers:   make(map[string]Resolver),
		serializers: make(map[string]Serializer),
		fallback: func(*service.Context) []string {
			return []string{Everybody}
		},
		logger: logger,
	}
}

// Resolve installs a per-service resolver. Registered at startup.
func (p *Publisher) Resolve(servicePath string, r Resolver) {
	p.mu.Lock()
	p.resolvers[servicePath] = r
	p.mu.Unlock()
}

// ResolveDefault replaces the fallback resolver used by services without
// their own.
func (p *Publisher) ResolveDefault(r Resolver) {
	p.mu.Lock()
	p.fallback = r
	p.mu.Unlock()
}

// Serialize installs a per-service recipient serializer. Without one the
// after-phase result is sent as-is.
func (p *Publisher) Serialize(servicePath string, s Serializer) {
	p.mu.Lock()
	p.serializers[servicePath] = s
	p.mu.Unlock()
}

// SetObserver wires the metrics collector.
func (p *Publisher) SetObserver(o PublishObserver) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// Publish fans a mutating call's event out to the resolved channels.
// Delivery is best-effort: a member that disconnects or whose emitter
// fails mid-fan-out is skipped; fan-out order across members is
// unspecified.
func (p *Publisher) Publish(hc *service.Context) {
	suffix := hc.Method.EventName()
	if suffix == "" {
		return
	}
	event := hc.Service + " " + suffix

	p.mu.RLock()
	resolver, ok := p.resolvers[hc.Service]
	if !ok {
		resolver = p.fallback
	}
	serializer := p.serializers[hc.Service]
	observer := p.observer
	p.mu.RUnlock()

	channels := resolver(hc)

	// A connection in several selected channels receives the event once.
	seen := make(map[string]struct{})
	sent := 0
	for _, channel := range channels {
		for _, c := range p.reg.Members(channel) {
			if _, dup := seen[c.ID()]; dup {
				continue
			}
			seen[c.ID()] = struct{}{}

			payload := hc.Result
			if serializer != nil {
				shaped, ok := serializer(hc, c)
				if !ok {
					continue
				}
				payload = shaped
			}

			if err := c.Emit(event, payload); err != nil {
				p.logger.Debug().
					Err(err).
					Str("event", event).
					Str("connection", c.ID()).
					Msg("emit failed, member skipped")
				continue
			}
			sent++
		}
	}

	p.logger.Debug().
		Str("event", event).
		Int("recipients", sent).
		Msg("event published")

	if observer != nil {
		observer.ObservePublish(event, sent)
	}
}
