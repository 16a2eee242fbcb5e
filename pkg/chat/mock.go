package chat

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage records one Send call observed by the mock.
type SentMessage struct {
	ChannelID string
	Message   Message
	Ref       Ref
}

// EditedMessage records one Edit call observed by the mock.
type EditedMessage struct {
	Ref     Ref
	Message Message
}

// MockClient is a mock chat client for testing. It records every send and
// edit and hands out sequential message ids.
type MockClient struct {
	mu      sync.Mutex
	nextID  int
	sendErr error
	editErr error

	Sent   []SentMessage
	Edited []EditedMessage
}

// MockOption configures the mock client
type MockOption func(*MockClient)

// WithSendError sets an error to return from Send
func WithSendError(err error) MockOption {
	return func(m *MockClient) {
		m.sendErr = err
	}
}

// WithEditError sets an error to return from Edit
func WithEditError(err error) MockOption {
	return func(m *MockClient) {
		m.editErr = err
	}
}

// NewMockClient creates a new mock chat client
func NewMockClient(opts ...MockOption) *MockClient {
	m := &MockClient{nextID: 1000}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send records the message and returns a fresh tracking ref
func (m *MockClient) Send(ctx context.Context, channelID string, msg Message) (Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return Ref{}, m.sendErr
	}
	m.nextID++
	ref := Ref{ChannelID: channelID, MessageID: fmt.Sprintf("%d", m.nextID)}
	m.Sent = append(m.Sent, SentMessage{ChannelID: channelID, Message: msg, Ref: ref})
	return ref, nil
}

// Edit records the edit
func (m *MockClient) Edit(ctx context.Context, ref Ref, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.Edited = append(m.Edited, EditedMessage{Ref: ref, Message: msg})
	return nil
}

// LastSent returns the most recent sent message, or nil when none exist.
func (m *MockClient) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)
