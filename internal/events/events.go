// Package events announces blob store changes so devices can sync without
// polling.
//
// Every event is published on a subject scoped to one owner:
// the topic followed by an encoded owner token, e.g.
// "confsync.blob.pushed.YWxpY2U". A device watching its own configs
// subscribes to its owners' subjects only and never sees anyone else's
// traffic.
package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
)

// Topics. The NATS subject is the topic plus an owner token; see Subject.
const (
	TopicBlobPushed    = "confsync.blob.pushed"
	TopicBlobCompacted = "confsync.blob.compacted"
	TopicBlobsRemoved  = "confsync.blob.removed"

	// TopicAll matches every confsync subject.
	TopicAll = "confsync.>"
)

// Subject returns the subject an event for owner is published on.
func Subject(topic, owner string) string {
	return topic + "." + ownerToken(owner)
}

// OwnerSubjects returns a wildcard subject matching every topic for owner.
func OwnerSubjects(owner string) string {
	return "confsync.blob.*." + ownerToken(owner)
}

// ownerToken encodes owner as a single subject token. Owners may contain
// dots, which NATS would read as token separators.
func ownerToken(owner string) string {
	if owner == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(owner))
}

type BlobPushed struct {
	ID        string `json:"id"`
	Namespace int16  `json:"namespace"`
	Owner     string `json:"owner"`
	Device    string `json:"device,omitempty"`
	Size      int    `json:"size"`
}

type BlobCompacted struct {
	ID        string `json:"id"`
	Namespace int16  `json:"namespace"`
	Owner     string `json:"owner"`
	Device    string `json:"device,omitempty"`
}

type BlobsRemoved struct {
	Namespace int16  `json:"namespace"`
	Owner     string `json:"owner"`
	Count     int    `json:"count"`
}

// Publisher emits events for one owner.
type Publisher interface {
	Publish(ctx context.Context, topic, owner string, event any) error
	Close() error
}

// NoopPublisher drops every event. The server uses it when no event bus is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }

// Message is one delivered event.
type Message struct {
	Subject string
	Data    []byte
}

// Topic returns the topic part of the message subject.
func (m Message) Topic() string {
	if i := strings.LastIndexByte(m.Subject, '.'); i >= 0 {
		return m.Subject[:i]
	}
	return m.Subject
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers messages on subject, which may use wildcards.
	// The returned cancel unsubscribes and closes the channel.
	Subscribe(subject string) (<-chan Message, func(), error)
}

// Change is the part of a push or compaction a watching device needs to
// decide whether to sync.
type Change struct {
	Topic     string `json:"-"`
	Namespace int16  `json:"namespace"`
	Owner     string `json:"owner"`
	Device    string `json:"device,omitempty"`
}

// WatchChanges subscribes to every event for owner and delivers the ones
// that came from a device other than self. Payloads that do not decode are
// logged and dropped. Delivery never blocks: when a change is already
// waiting, later ones are coalesced into it. Call cancel to stop.
func WatchChanges(sub Subscriber, owner, self string, logger *slog.Logger) (<-chan Change, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	msgs, cancel, err := sub.Subscribe(OwnerSubjects(owner))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Change, 1)
	go func() {
		defer close(out)
		for m := range msgs {
			var c Change
			if err := json.Unmarshal(m.Data, &c); err != nil {
				logger.Warn("dropping undecodable event", "subject", m.Subject, "error", err)
				continue
			}
			if self != "" && strings.EqualFold(c.Device, self) {
				continue
			}
			c.Topic = m.Topic()
			select {
			case out <- c:
			default:
			}
		}
	}()
	return out, cancel, nil
}
