package conversation

// Subscribe registers an observer. Events arrive in mutation order on the
// returned channel. An observer that lets its buffer fill up is dropped and
// its channel closed; it should resynchronise from Snapshot. The returned
// func unsubscribes and is safe to call more than once.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() { s.unsubscribe(id) }
}

// Observers returns the number of live subscriptions.
func (s *Store) Observers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// CloseObservers closes every subscription channel.
func (s *Store) CloseObservers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Store) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(s.subs, id)
		}
	}
}
