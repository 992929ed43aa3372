package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-proc-requisitions/internal/logger"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

// MsgPublisher is the part of *nats.Conn the publisher needs.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NotificationPublisher publishes requisition change events to NATS for the
// notification service and dashboards in other processes.
//
// Subject convention: <prefix>.<department>.<event_type>
//
// The message ID header carries the event ID so JetStream streams bound to
// these subjects deduplicate redeliveries.
type NotificationPublisher struct {
	conn   MsgPublisher
	prefix string
	log    *logger.Logger
}

// NewNotificationPublisher creates a publisher on conn. A nil conn disables
// publishing.
func NewNotificationPublisher(conn MsgPublisher, prefix string, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		log:    log.Component("nats_publisher"),
	}
}

// Publish sends one event. Errors are returned for the caller to log; they
// never affect the committed change.
func (p *NotificationPublisher) Publish(_ context.Context, event *repository.ChangeEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.Subject(event),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Header.Set("Requisition-Id", event.RequisitionID)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	p.log.Debug().
		Str("subject", msg.Subject).
		Str("requisition_id", event.RequisitionID).
		Str("event_id", event.ID).
		Msg("notification: event published")
	return nil
}

// Subject returns the subject an event is published on.
func (p *NotificationPublisher) Subject(event *repository.ChangeEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(event.Department), subjectToken(string(event.Type)))
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
