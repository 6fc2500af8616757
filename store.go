package rollcore

// Attr is one name/value pair of a host's attribute dump.
type Attr struct {
	Name  string
	Value any
}

// store is an insertion-ordered attribute map. Hosts are not shared between
// goroutines during a solve, so no locking happens here.
type store struct {
	keys []string
	data map[string]any
}

func newStore() *store {
	return &store{data: make(map[string]any)}
}

func (s *store) Load(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

func (s *store) Has(key string) bool {
	_, ok := s.data[key]
	return ok
}

func (s *store) Store(key string, value any) {
	if _, ok := s.data[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.data[key] = value
}

func (s *store) Delete(key string) bool {
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

func (s *store) Range(fn func(key string, value any) bool) {
	for _, k := range s.keys {
		if !fn(k, s.data[k]) {
			return
		}
	}
}

func (s *store) Len() int {
	return len(s.keys)
}

func (s *store) Clear() {
	s.keys = nil
	s.data = make(map[string]any)
}
