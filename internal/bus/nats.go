package bus

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/logger"
)

// NATS carries bus messages as JSON on <root>.<Type> subjects.
type NATS struct {
	conn *nats.Conn
	root string

	mu   sync.Mutex
	subs []*nats.Subscription
}

// DialNATS connects to the server at url.
func DialNATS(url, root string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("telemos"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.New(errors.ErrCodeMessageBus, "DialNATS", "connect "+url, err)
	}
	return NewNATS(conn, root), nil
}

// NewNATS wraps an existing connection.
func NewNATS(conn *nats.Conn, root string) *NATS {
	return &NATS{conn: conn, root: root}
}

// Subject returns the NATS subject used for t.
func (n *NATS) Subject(t Type) string {
	return n.root + "." + string(t)
}

func (n *NATS) Publish(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.New(errors.ErrCodeMessageBus, "Publish", "encode "+string(msg.Type), err)
	}
	if err := n.conn.Publish(n.Subject(msg.Type), data); err != nil {
		return errors.New(errors.ErrCodeMessageBus, "Publish", string(msg.Type), err)
	}
	return nil
}

type natsSub struct {
	n   *NATS
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() {
	_ = s.sub.Unsubscribe()
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	for i, sub := range s.n.subs {
		if sub == s.sub {
			s.n.subs = append(s.n.subs[:i:i], s.n.subs[i+1:]...)
			break
		}
	}
}

func (n *NATS) Subscribe(t Type, h Handler) (Subscription, error) {
	sub, err := n.conn.Subscribe(n.Subject(t), func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			logger.Component("bus").Warn("Dropping undecodable message", "subject", m.Subject, "err", err)
			return
		}
		h(msg)
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeMessageBus, "Subscribe", string(t), err)
	}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	return &natsSub{n: n, sub: sub}, nil
}

func (n *NATS) ClearAllQueuedMessages() error {
	if err := n.conn.Flush(); err != nil {
		return errors.New(errors.ErrCodeMessageBus, "ClearAllQueuedMessages", "flush", err)
	}
	return nil
}

func (n *NATS) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, sub := range n.subs {
		if msgs, _, err := sub.Pending(); err == nil {
			total += msgs
		}
	}
	return total
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
	return nil
}

// Personal.AI order the ending
