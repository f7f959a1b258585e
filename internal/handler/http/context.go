package http

import (
	"context"
	"sync"

	"github.com/utafrali/storefront/internal/visitor"
)

// boundSession is the visitor a request is served for. Login rebinds it to
// the client issued under a fresh visitor ID.
type boundSession struct {
	mu     sync.Mutex
	client *visitor.Client
	// issue is set when the visitor cookie must be (re)sent.
	issue bool
}

func (s *boundSession) get() (*visitor.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.issue
}

func (s *boundSession) rebind(c *visitor.Client) {
	s.mu.Lock()
	s.client = c
	s.issue = true
	s.mu.Unlock()
}

type sessionKey struct{}

func withSession(ctx context.Context, s *boundSession) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFromContext(ctx context.Context) (*boundSession, bool) {
	s, ok := ctx.Value(sessionKey{}).(*boundSession)
	return s, ok && s != nil
}

// ClientFromContext returns the visitor client attached by SessionMiddleware.
func ClientFromContext(ctx context.Context) (*visitor.Client, bool) {
	s, ok := sessionFromContext(ctx)
	if !ok {
		return nil, false
	}
	c, _ := s.get()
	return c, c != nil
}
