// Package sequence drives the automated handling of a newly connected call:
// connect transcription, join a fresh assist conversation with the caller's
// contact details, wait for the join to land, then activate it.
package sequence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craigcoenttec/assistbridge/internal/ids"
	"github.com/craigcoenttec/assistbridge/internal/registry"
	"github.com/craigcoenttec/assistbridge/internal/types"
)

// ErrJoinTimeout is returned when the panel never confirms the join.
var ErrJoinTimeout = errors.New("timeout waiting for conversation join")

const (
	triggerDelay = 100 * time.Millisecond
	joinPoll     = 500 * time.Millisecond
	joinTimeout  = 10 * time.Second

	defaultContactName  = "Auto Customer"
	defaultContactEmail = "auto@example.com"
	defaultContactPhone = "5551112222"

	defaultProfileID = "0198e667-6540-727d-b6b0-d8f4de9db1c6"
)

// Operations is the slice of the session the controller drives.
type Operations interface {
	Authenticated() bool
	ConnectTranscription(ctx context.Context, conversationID string) error
	JoinConversation(conversationID, profileID, contactName, contactEmail, contactPhone string)
	CurrentConversationID() string
	ActivateConversation(conversationID string)
}

// Controller runs at most one automated call sequence at a time. A trigger
// arriving while a sequence is in flight is dropped, not queued.
type Controller struct {
	logger *logrus.Entry
	ops    Operations

	profileID string
	enabled   func() bool

	mu         sync.Mutex
	inProgress bool

	// test seams
	triggerDelay time.Duration
	joinPoll     time.Duration
	joinTimeout  time.Duration
}

// New builds a Controller. enabled is consulted at trigger time; a nil func
// means always enabled. An empty profileID falls back to the stock profile.
func New(logger *logrus.Entry, ops Operations, profileID string, enabled func() bool) *Controller {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if profileID == "" {
		profileID = defaultProfileID
	}
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Controller{
		logger:       logger,
		ops:          ops,
		profileID:    profileID,
		enabled:      enabled,
		triggerDelay: triggerDelay,
		joinPoll:     joinPoll,
		joinTimeout:  joinTimeout,
	}
}

// Trigger starts the sequence for a conversation that just connected. It
// returns immediately; the sequence runs on its own goroutine after a short
// delay so the triggering event finishes processing first.
func (c *Controller) Trigger(ctx context.Context, conv registry.Conversation) {
	if !c.enabled() {
		c.logger.Debug("automatic call handling disabled, skipping sequence")
		return
	}

	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		c.logger.WithField("conversation_id", conv.ID).Info("call sequence already in progress, skipping")
		return
	}
	c.inProgress = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.inProgress = false
			c.mu.Unlock()
		}()

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.triggerDelay):
		}

		if err := c.run(ctx, conv); err != nil {
			c.logger.WithError(err).WithField("conversation_id", conv.ID).Error("automated call sequence failed")
			return
		}
		c.logger.WithField("conversation_id", conv.ID).Info("automated call sequence completed")
	}()
}

// InProgress reports whether a sequence is currently running.
func (c *Controller) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

func (c *Controller) run(ctx context.Context, conv registry.Conversation) error {
	log := c.logger.WithField("conversation_id", conv.ID)
	log.Info("starting automated call sequence")

	if c.ops.Authenticated() {
		if err := c.ops.ConnectTranscription(ctx, conv.ID); err != nil {
			log.WithError(err).Warn("transcription connect failed, continuing sequence")
		}
	} else {
		log.Info("skipping transcription, not authenticated")
	}

	localID := ids.NewConversationID()
	log.WithField("local_id", localID).Info("joining assist conversation")

	contactName := conv.CustomerName
	if contactName == "" {
		contactName = defaultContactName
	}
	c.ops.JoinConversation(localID, c.profileID, contactName, defaultContactEmail, PhoneFromConversation(conv))

	if err := c.waitForJoin(ctx); err != nil {
		return err
	}

	joined := c.ops.CurrentConversationID()
	if joined == "" {
		log.Warn("no conversation id after join, skipping activation")
		return nil
	}
	c.ops.ActivateConversation(joined)
	return nil
}

// waitForJoin polls the session until a conversation id appears.
func (c *Controller) waitForJoin(ctx context.Context) error {
	deadline := time.NewTimer(c.joinTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.joinPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrJoinTimeout
		case <-tick.C:
			if c.ops.CurrentConversationID() != "" {
				return nil
			}
		}
	}
}

// PhoneFromConversation pulls a dialable number from the customer
// participant's address: digits only, last ten, with a fixed fallback.
func PhoneFromConversation(conv registry.Conversation) string {
	customer, ok := types.FindByPurpose(conv.Participants, types.PurposeCustomer)
	if !ok || customer.Address == "" {
		return defaultContactPhone
	}
	var digits strings.Builder
	for _, r := range customer.Address {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()
	if len(number) > 10 {
		number = number[len(number)-10:]
	}
	if number == "" {
		return defaultContactPhone
	}
	return number
}
