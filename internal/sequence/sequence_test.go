package sequence

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/craigcoenttec/assistbridge/internal/registry"
	"github.com/craigcoenttec/assistbridge/internal/types"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type joinCall struct {
	conversationID string
	profileID      string
	name           string
	email          string
	phone          string
}

type fakeOps struct {
	mu            sync.Mutex
	authenticated bool
	currentID     string
	joinDelay     time.Duration

	transcriptions []string
	joins          []joinCall
	activations    []string
}

func (f *fakeOps) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeOps) ConnectTranscription(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcriptions = append(f.transcriptions, conversationID)
	return nil
}

func (f *fakeOps) JoinConversation(conversationID, profileID, name, email, phone string) {
	f.mu.Lock()
	f.joins = append(f.joins, joinCall{conversationID, profileID, name, email, phone})
	delay := f.joinDelay
	f.mu.Unlock()

	// Simulate the panel confirming the join after a delay.
	go func() {
		time.Sleep(delay)
		f.mu.Lock()
		f.currentID = "assist-" + conversationID
		f.mu.Unlock()
	}()
}

func (f *fakeOps) CurrentConversationID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentID
}

func (f *fakeOps) ActivateConversation(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations = append(f.activations, conversationID)
}

func (f *fakeOps) snapshot() (transcriptions []string, joins []joinCall, activations []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transcriptions...),
		append([]joinCall(nil), f.joins...),
		append([]string(nil), f.activations...)
}

func fastController(ops Operations, profileID string, enabled func() bool) *Controller {
	c := New(testLogger(), ops, profileID, enabled)
	c.triggerDelay = time.Millisecond
	c.joinPoll = 2 * time.Millisecond
	c.joinTimeout = 100 * time.Millisecond
	return c
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return !c.InProgress() }, 2*time.Second, time.Millisecond)
}

func connectedConversation() registry.Conversation {
	return registry.Conversation{
		ID:           "gc-1",
		CurrentState: "connected",
		CustomerName: "Jamie Doe",
		Participants: []types.Participant{
			{Purpose: "customer", Name: "Jamie Doe", Address: "tel:+1 (555) 867-5309"},
		},
	}
}

func TestSequenceHappyPath(t *testing.T) {
	ops := &fakeOps{authenticated: true, joinDelay: time.Millisecond}
	c := fastController(ops, "profile-1", nil)
	c.triggerDelay = 50 * time.Millisecond

	c.Trigger(context.Background(), connectedConversation())
	// Flag is raised synchronously on trigger.
	require.True(t, c.InProgress())
	waitDone(t, c)

	transcriptions, joins, activations := ops.snapshot()
	require.Equal(t, []string{"gc-1"}, transcriptions)
	require.Len(t, joins, 1)
	require.Equal(t, "profile-1", joins[0].profileID)
	require.Equal(t, "Jamie Doe", joins[0].name)
	require.Equal(t, "auto@example.com", joins[0].email)
	require.Equal(t, "5558675309", joins[0].phone)
	require.Len(t, joins[0].conversationID, 16)
	require.Equal(t, []string{"assist-" + joins[0].conversationID}, activations)
}

func TestSequenceSkipsTranscriptionWhenUnauthenticated(t *testing.T) {
	ops := &fakeOps{authenticated: false, joinDelay: time.Millisecond}
	c := fastController(ops, "", nil)

	c.Trigger(context.Background(), connectedConversation())
	waitDone(t, c)

	transcriptions, joins, _ := ops.snapshot()
	require.Empty(t, transcriptions)
	require.Len(t, joins, 1)
	require.Equal(t, defaultProfileID, joins[0].profileID)
}

func TestSequenceSingleFlight(t *testing.T) {
	ops := &fakeOps{authenticated: true, joinDelay: 20 * time.Millisecond}
	c := fastController(ops, "profile-1", nil)

	ctx := context.Background()
	c.Trigger(ctx, connectedConversation())
	c.Trigger(ctx, connectedConversation())
	waitDone(t, c)

	_, joins, _ := ops.snapshot()
	require.Len(t, joins, 1)
}

func TestSequenceDisabled(t *testing.T) {
	ops := &fakeOps{authenticated: true}
	c := fastController(ops, "profile-1", func() bool { return false })

	c.Trigger(context.Background(), connectedConversation())
	require.False(t, c.InProgress())

	_, joins, _ := ops.snapshot()
	require.Empty(t, joins)
}

func TestSequenceJoinTimeout(t *testing.T) {
	ops := &fakeOps{authenticated: true, joinDelay: time.Hour}
	c := fastController(ops, "profile-1", nil)

	c.Trigger(context.Background(), connectedConversation())
	waitDone(t, c)

	_, joins, activations := ops.snapshot()
	require.Len(t, joins, 1)
	require.Empty(t, activations)
	// The controller is free for the next call after a failure.
	require.False(t, c.InProgress())
}

func TestPhoneFromConversation(t *testing.T) {
	cases := []struct {
		name string
		conv registry.Conversation
		want string
	}{
		{
			name: "strips formatting and keeps last ten digits",
			conv: registry.Conversation{Participants: []types.Participant{
				{Purpose: "customer", Address: "tel:+1 (555) 867-5309"},
			}},
			want: "5558675309",
		},
		{
			name: "short numbers pass through",
			conv: registry.Conversation{Participants: []types.Participant{
				{Purpose: "customer", Address: "867-5309"},
			}},
			want: "8675309",
		},
		{
			name: "no customer participant",
			conv: registry.Conversation{Participants: []types.Participant{
				{Purpose: "agent", Address: "sip:agent@example.com"},
			}},
			want: "5551112222",
		},
		{
			name: "address with no digits",
			conv: registry.Conversation{Participants: []types.Participant{
				{Purpose: "customer", Address: "anonymous"},
			}},
			want: "5551112222",
		},
		{
			name: "empty conversation",
			conv: registry.Conversation{},
			want: "5551112222",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, PhoneFromConversation(tc.conv))
		})
	}
}
