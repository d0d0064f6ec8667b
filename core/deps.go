package core

import (
	"pkt.systems/pslog"

	"pkt.systems/moneta/internal/persist"
)

// ServiceDeps carries the collaborators a Service needs. Chat may be nil in
// tests that never reach the upstream API; operations that would need it
// return schema.ErrChatAPIUnavailable. EventSink and KV may be nil.
type ServiceDeps struct {
	Chat      ChatAPI
	EventSink EventSink
	KV        persist.KV
	Logger    pslog.Logger
}
