package core

import "pkt.systems/moneta/schema"

// EventSink receives state-change notifications from the service. The
// service calls sink methods outside its own lock; implementations may
// block briefly but should hand off to a queue quickly.
type EventSink interface {
	OnTabEvent(ev schema.TabEvent)
	OnMessageEvent(ev schema.MessageEvent)
}

type nopSink struct{}

func (nopSink) OnTabEvent(schema.TabEvent)         {}
func (nopSink) OnMessageEvent(schema.MessageEvent) {}
