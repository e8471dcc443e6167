package dbexec

import "sync"

// Scope holds the shared transaction of one mutation.
type Scope struct {
	tx        TxExecutor
	hasError  bool
	finalized bool
	mu        sync.Mutex
}

func NewScope(tx TxExecutor) *Scope {
	return &Scope{tx: tx}
}

func (s *Scope) Tx() TxExecutor {
	return s.tx
}

func (s *Scope) MarkError() {
	s.mu.Lock()
	s.hasError = true
	s.mu.Unlock()
}

// Finalize commits or rolls back the transaction based on the error state.
// It holds the lock through the entire operation so MarkError cannot slip in
// between checking hasError and committing.
func (s *Scope) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil
	}
	s.finalized = true

	if s.hasError {
		return s.tx.Rollback()
	}
	return s.tx.Commit()
}
