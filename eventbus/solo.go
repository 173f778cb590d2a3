package eventbus

import (
	"context"
	"sync"
)

// SoloBus is an in-process Bus for tests and single-process embedding.
type SoloBus struct {
	mu   sync.Mutex
	subs map[string][]chan Change
}

func NewSolo() *SoloBus {
	return &SoloBus{subs: make(map[string][]chan Change)}
}

func (s *SoloBus) Publish(ctx context.Context, collectionPath string, c Change) error {
	s.dispatch(CollectionChannel(c.WorkspaceID, collectionPath), c)
	s.dispatch(DocumentChannel(c.WorkspaceID, c.Path), c)
	return nil
}

func (s *SoloBus) dispatch(channel string, c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *SoloBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ch := make(chan Change, 64)

	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], ch)
	s.mu.Unlock()

	sub := &soloSubscription{bus: s, channel: channel, ch: ch}
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

func (s *SoloBus) Close() error { return nil }

func (s *SoloBus) remove(channel string, ch chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[channel]
	for i, c := range subs {
		if c == ch {
			s.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

type soloSubscription struct {
	bus     *SoloBus
	channel string
	ch      chan Change
	once    sync.Once
}

func (s *soloSubscription) Changes() <-chan Change { return s.ch }

func (s *soloSubscription) Close() error {
	s.once.Do(func() { s.bus.remove(s.channel, s.ch) })
	return nil
}
