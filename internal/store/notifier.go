package store

import "sync"

// TopicSessions is the watch topic covering the session list.
const TopicSessions = "sessions"

// TopicMessages returns the watch topic covering one session's message log.
func TopicMessages(sessionID string) string { return "messages/" + sessionID }

// notifier fans write notifications out to live-query subscribers. Each
// subscriber holds a buffered channel; pending notifications coalesce, so a
// slow reader sees at least one signal per burst of writes and re-queries.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[int]chan struct{})}
}

func (n *notifier) subscribe(topic string) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++

	ch := make(chan struct{}, 1)
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[int]chan struct{})
	}
	n.subs[topic][id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.subs[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(n.subs, topic)
			}
		}
	}
	return ch, cancel
}

func (n *notifier) publish(topic string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
