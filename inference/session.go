// Package inference - Inference sessions.
package inference

import (
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session is a loaded onnxruntime model. It implements Handle.
type Session struct {
	kind      ModelKind
	signature Signature
	location  string

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// Kind returns the model kind the session was loaded for.
func (s *Session) Kind() ModelKind {
	return s.kind
}

// Location returns where the artifact was loaded from.
func (s *Session) Location() string {
	return s.location
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

// run executes the session. onnxruntime sessions are not reentrant per handle here; calls are
// serialized on the session lock.
func (s *Session) run(inputs, outputs []ort.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrInvalidHandle
	}

	return s.session.Run(inputs, outputs)
}
