package cache

import (
	"context"
)

// Response is an upstream body kept verbatim with its content type
type Response struct {
	ContentType string
	Body        []byte
}

// ResponseStore memoizes raw service responses by full request signature.
type ResponseStore interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Set(ctx context.Context, key string, r Response) error
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}

type memoryResponses struct {
	s Store[Response]
}

func NewMemoryResponses() ResponseStore {
	return &memoryResponses{s: NewMap[Response]()}
}

func (m *memoryResponses) Get(_ context.Context, key string) (Response, bool, error) {
	r, ok := m.s.Get(key)
	return r, ok, nil
}

func (m *memoryResponses) Set(_ context.Context, key string, r Response) error {
	m.s.Set(key, r)
	return nil
}

func (m *memoryResponses) DeletePrefix(_ context.Context, prefix string) error {
	m.s.DeletePrefix(prefix)
	return nil
}

func (m *memoryResponses) Clear(_ context.Context) error {
	m.s.Clear()
	return nil
}
