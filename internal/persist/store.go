package persist

import (
	"encoding/json"
	"strconv"
	"time"

	"pkt.systems/moneta/schema"
	"pkt.systems/pslog"
)

// Storage keys. Each key is removed, not blanked, when its value
// becomes empty.
const (
	keyTabs                = "tabs"
	keyActiveTab           = "active_tab"
	keyCurrentConversation = "current_conversation"
)

// TabRecord is the durable part of a tab. Transient state (messages,
// flags, drafts) is rebuilt after a restart.
type TabRecord struct {
	ID             schema.TabID          `json:"id"`
	ConversationID schema.ConversationID `json:"conversation_id,omitempty"`
	Title          string                `json:"title"`
	CreatedAt      time.Time             `json:"created_at"`
}

// SessionSnapshot is the persisted session shape: tab layout, active
// selection, and the current conversation pointer.
type SessionSnapshot struct {
	Tabs         []TabRecord
	ActiveTab    schema.TabID
	Conversation schema.ConversationID
}

// Store persists session snapshots through a KV.
type Store struct {
	kv  KV
	log pslog.Logger
}

// NewStore constructs a session store over the given KV.
func NewStore(kv KV, logger pslog.Logger) *Store {
	return &Store{kv: kv, log: logger}
}

// Load reads the persisted session. The boolean reports whether any
// tab layout was found.
func (s *Store) Load() (SessionSnapshot, bool, error) {
	var snapshot SessionSnapshot
	data, ok, err := s.kv.Get(keyTabs)
	if err != nil {
		if s.log != nil {
			s.log.Warn("session load failed", "err", err)
		}
		return SessionSnapshot{}, false, err
	}
	if !ok {
		if s.log != nil {
			s.log.Debug("session load miss")
		}
		return SessionSnapshot{}, false, nil
	}
	if err := json.Unmarshal(data, &snapshot.Tabs); err != nil {
		if s.log != nil {
			s.log.Warn("session load failed", "err", err)
		}
		return SessionSnapshot{}, false, err
	}
	if data, ok, err := s.kv.Get(keyActiveTab); err != nil {
		return SessionSnapshot{}, false, err
	} else if ok {
		snapshot.ActiveTab = schema.TabID(data)
	}
	if data, ok, err := s.kv.Get(keyCurrentConversation); err != nil {
		return SessionSnapshot{}, false, err
	} else if ok {
		id, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			if s.log != nil {
				s.log.Warn("session load failed", "key", keyCurrentConversation, "err", err)
			}
		} else {
			snapshot.Conversation = schema.ConversationID(id)
		}
	}
	if s.log != nil {
		s.log.Debug("session load ok", "tabs", len(snapshot.Tabs))
	}
	return snapshot, true, nil
}

// Save writes the session snapshot, removing keys whose values are
// empty.
func (s *Store) Save(snapshot SessionSnapshot) error {
	if len(snapshot.Tabs) == 0 {
		if err := s.kv.Delete(keyTabs); err != nil {
			return err
		}
	} else {
		data, err := json.Marshal(snapshot.Tabs)
		if err != nil {
			return err
		}
		if err := s.kv.Put(keyTabs, data); err != nil {
			if s.log != nil {
				s.log.Warn("session save failed", "err", err)
			}
			return err
		}
	}
	if snapshot.ActiveTab == "" {
		if err := s.kv.Delete(keyActiveTab); err != nil {
			return err
		}
	} else if err := s.kv.Put(keyActiveTab, []byte(snapshot.ActiveTab)); err != nil {
		return err
	}
	if snapshot.Conversation == 0 {
		if err := s.kv.Delete(keyCurrentConversation); err != nil {
			return err
		}
	} else if err := s.kv.Put(keyCurrentConversation, []byte(strconv.FormatInt(int64(snapshot.Conversation), 10))); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Trace("session save ok", "tabs", len(snapshot.Tabs))
	}
	return nil
}
