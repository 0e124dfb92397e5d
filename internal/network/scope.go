package network

// Scope journals the inverse of every mutation applied to a network while it
// is open. Restore replays the journal in reverse, returning the network to
// the state it had when the scope was opened. Scopes nest: restoring an outer
// scope first restores any inner scope still open.
type Scope struct {
	net    *Network
	undo   []func()
	closed bool
}

// Scope opens a mutation scope on the network. Callers release it with
// `defer scope.Restore()`.
func (n *Network) Scope() *Scope {
	s := &Scope{net: n}
	n.scopes = append(n.scopes, s)
	return s
}

// Depth returns the number of open scopes.
func (n *Network) Depth() int { return len(n.scopes) }

// WithScope runs fn inside a scope that is always restored, including when fn
// returns an error or panics.
func (n *Network) WithScope(fn func() error) error {
	scope := n.Scope()
	defer scope.Restore()
	return fn()
}

// Restore reverts every mutation recorded since the scope was opened. It is
// safe to call more than once.
func (s *Scope) Restore() {
	if s == nil || s.closed {
		return
	}
	n := s.net
	idx := -1
	for i, open := range n.scopes {
		if open == s {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.closed = true
		return
	}
	for i := len(n.scopes) - 1; i > idx; i-- {
		n.scopes[i].Restore()
	}
	n.replaying = true
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	n.replaying = false
	s.undo = nil
	s.closed = true
	n.scopes = n.scopes[:idx]
}

// Changes returns the number of mutations journaled by the scope.
func (s *Scope) Changes() int { return len(s.undo) }

func (n *Network) record(inverse func()) {
	if n.replaying || len(n.scopes) == 0 {
		return
	}
	top := n.scopes[len(n.scopes)-1]
	top.undo = append(top.undo, inverse)
}
