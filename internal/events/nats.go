package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// connect dials NATS and keeps reconnecting forever, so a broker restart
// never takes a server or a watching device down with it.
func connect(url, name string, opts []nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes JSON events on owner-scoped subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, "confsync-server", opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic, owner string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", topic, err)
	}
	return p.conn.Publish(Subject(topic, owner), data)
}

// Flush waits until the broker has every published event.
func (p *NATSPublisher) Flush() error { return p.conn.Flush() }

// Close sends any buffered events, waiting at most a second, and
// disconnects.
func (p *NATSPublisher) Close() error {
	_ = p.conn.FlushTimeout(time.Second)
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers events from NATS. Extra options, such as
// disconnect and reconnect handlers, are applied on top of the defaults.
type NATSSubscriber struct {
	conn *nats.Conn
}

func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "confsync-device", opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe registers subject with the broker before returning, so events
// published afterwards on any connection are delivered. A consumer that
// falls more than subscriptionBuffer messages behind loses the excess;
// the NATS client reports it as a slow consumer.
func (s *NATSSubscriber) Subscribe(subject string) (<-chan Message, func(), error) {
	in := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := s.conn.ChanSubscribe(subject, in)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("registering %s: %w", subject, err)
	}

	out := make(chan Message)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case m := <-in:
				select {
				case out <- Message{Subject: m.Subject, Data: m.Data}:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(done)
		})
	}
	return out, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

const subscriptionBuffer = 64
