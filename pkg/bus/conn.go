// Package bus bridges host events over NATS core subjects. Events travel as
// events.Envelope JSON on "<prefix>.<event name>".
package bus

import (
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured
const DefaultSubjectPrefix = "comfy.events"

// Conn is the minimal subset of NATS operations the bus depends on.
// This allows tests to provide a fake without requiring a running NATS server.
type Conn interface {
	Subscribe(subj string, cb nats.MsgHandler) (Subscription, error)
	Publish(subj string, data []byte) error
}

// Subscription abstracts the subscription operations used by the bridge
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// WrapConn adapts a *nats.Conn to the Conn interface
func WrapConn(nc *nats.Conn) Conn {
	return &natsConnAdapter{nc: nc}
}

type natsConnAdapter struct {
	nc *nats.Conn
}

func (a *natsConnAdapter) Subscribe(subj string, cb nats.MsgHandler) (Subscription, error) {
	sub, err := a.nc.Subscribe(subj, cb)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *natsConnAdapter) Publish(subj string, data []byte) error {
	return a.nc.Publish(subj, data)
}

// Subject returns the subject an event name is carried on
func Subject(prefix, eventName string) string {
	return normalizePrefix(prefix) + "." + eventName
}

// eventNameFromSubject returns the part of subject following prefix
func eventNameFromSubject(prefix, subject string) string {
	return strings.TrimPrefix(subject, normalizePrefix(prefix)+".")
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}
