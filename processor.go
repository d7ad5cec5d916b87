/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package msglimit

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/lrucache"
)

// DefaultBacklogTimeout determines the default timeout for backlog processing.
const DefaultBacklogTimeout = time.Second * 5

// UserIDLogFieldName is a logged field that contains the user identifier of the processed message.
const UserIDLogFieldName = "user_id"

// backlogSlotsProvider provides backlog slots for message admission.
type backlogSlotsProvider func(userID string) chan struct{}

// Params contains common data that relates to the message admission procedure.
type Params struct {
	UserID              string
	MessageBacklogged   bool
	EstimatedRetryAfter time.Duration
}

// MessageHandler abstracts a single incoming message for the processor.
// It deliberately knows nothing about the transport that carried the message.
type MessageHandler interface {
	// GetContext returns the message context.
	GetContext() context.Context

	// GetUserID extracts the sender's identifier from the message.
	// Returns userID, bypass (whether to bypass rate limiting), and error.
	GetUserID() (userID string, bypass bool, err error)

	// Deliver processes the actual message.
	Deliver() error

	// OnReject handles message rejection when the rate limit is exceeded.
	OnReject(params Params) error

	// OnError handles errors that occur during admission.
	OnError(params Params, err error) error
}

// ProcessorOpts represents options for MessageProcessor.
type ProcessorOpts struct {
	// BacklogLimit is the number of messages per user that may wait for admission
	// instead of being rejected immediately. 0 disables backlogging.
	BacklogLimit int

	// BacklogMaxKeys bounds the number of per-user backlog zones (LRU eviction), 0 means unbounded.
	BacklogMaxKeys int

	// BacklogTimeout is the maximum time a message may spend in the backlog.
	// DefaultBacklogTimeout is used if not specified.
	BacklogTimeout time.Duration

	// Logger is used for logging backlog waits and rejections. Disabled if not specified.
	Logger log.FieldLogger

	// Metrics collects admission decision counters. Disabled if not specified.
	Metrics *MetricsCollector
}

// MessageProcessor applies a MessageLimiter's admission decisions to incoming messages,
// optionally holding rejected messages in a per-user backlog until a slot frees
// or the backlog timeout elapses.
type MessageProcessor struct {
	limiter         MessageLimiter
	getBacklogSlots backlogSlotsProvider
	backlogTimeout  time.Duration
	logger          log.FieldLogger
	metrics         *MetricsCollector
	alg             string
}

// NewMessageProcessor creates a new message processor on top of the passed limiter.
func NewMessageProcessor(limiter MessageLimiter, opts ProcessorOpts) (*MessageProcessor, error) {
	if opts.BacklogLimit < 0 {
		return nil, fmt.Errorf("backlog limit should not be negative, got %d", opts.BacklogLimit)
	}
	if opts.BacklogMaxKeys < 0 {
		return nil, fmt.Errorf("max keys for backlog should not be negative, got %d", opts.BacklogMaxKeys)
	}

	var getBacklogSlots backlogSlotsProvider
	if opts.BacklogLimit > 0 {
		var err error
		if getBacklogSlots, err = newBacklogSlotsProvider(opts.BacklogLimit, opts.BacklogMaxKeys); err != nil {
			return nil, err
		}
	}

	if opts.BacklogTimeout == 0 {
		opts.BacklogTimeout = DefaultBacklogTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}

	alg := "custom"
	if namer, ok := limiter.(algorithmNamer); ok {
		alg = namer.algName()
	}

	return &MessageProcessor{
		limiter:         limiter,
		getBacklogSlots: getBacklogSlots,
		backlogTimeout:  opts.BacklogTimeout,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		alg:             alg,
	}, nil
}

// ProcessMessage admits the message right away, backlogs it, or rejects it.
func (p *MessageProcessor) ProcessMessage(mh MessageHandler) error {
	userID, bypass, err := mh.GetUserID()
	if err != nil {
		return mh.OnError(Params{UserID: userID}, fmt.Errorf("get user ID for admission: %w", err))
	}
	if bypass { // Rate limiting is bypassed for this message.
		return mh.Deliver()
	}

	if p.limiter.Record(userID) {
		p.observeAdmitted()
		return mh.Deliver()
	}
	retryAfter := p.limiter.TimeUntilNextAllowed(userID)

	if p.getBacklogSlots == nil { // Backlogging is disabled.
		p.observeRejected(false)
		return mh.OnReject(Params{
			UserID:              userID,
			MessageBacklogged:   false,
			EstimatedRetryAfter: retryAfter,
		})
	}

	return p.processBacklog(mh, userID, retryAfter)
}

func (p *MessageProcessor) processBacklog(mh MessageHandler, userID string, retryAfter time.Duration) error {
	ctx := mh.GetContext()

	backlogSlots := p.getBacklogSlots(userID)
	backlogged := false
	select {
	case backlogSlots <- struct{}{}:
		backlogged = true
	default:
		// There are no free slots in the backlog, reject the message immediately.
		p.observeRejected(backlogged)
		return mh.OnReject(Params{
			UserID:              userID,
			MessageBacklogged:   backlogged,
			EstimatedRetryAfter: retryAfter,
		})
	}

	p.logger.Debug("message backlogged, waiting for admission",
		log.String(UserIDLogFieldName, userID), log.Duration("estimated_retry_after", retryAfter))

	freeBacklogSlotIfNeeded := func() {
		if backlogged {
			select {
			case <-backlogSlots:
				backlogged = false
			default:
			}
		}
	}

	defer freeBacklogSlotIfNeeded()

	backlogTimeoutTimer := time.NewTimer(p.backlogTimeout)
	defer backlogTimeoutTimer.Stop()

	retryTimer := time.NewTimer(retryAfter)
	defer retryTimer.Stop()

	for {
		select {
		case <-retryTimer.C:
			// Will do another admission attempt.
		case <-backlogTimeoutTimer.C:
			freeBacklogSlotIfNeeded()
			p.logger.Debug("message rejected, backlog timeout elapsed",
				log.String(UserIDLogFieldName, userID), log.Duration("backlog_timeout", p.backlogTimeout))
			p.observeRejected(backlogged)
			return mh.OnReject(Params{
				UserID:              userID,
				MessageBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			})
		case <-ctx.Done():
			freeBacklogSlotIfNeeded()
			return mh.OnError(Params{
				UserID:              userID,
				MessageBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			}, ctx.Err())
		}

		if p.limiter.Record(userID) {
			freeBacklogSlotIfNeeded()
			p.observeAdmitted()
			return mh.Deliver()
		}
		retryAfter = p.limiter.TimeUntilNextAllowed(userID)

		if !retryTimer.Stop() {
			select {
			case <-retryTimer.C:
			default:
			}
		}
		retryTimer.Reset(retryAfter)
	}
}

func (p *MessageProcessor) observeAdmitted() {
	if p.metrics == nil {
		return
	}
	p.metrics.AdmittedMessages.With(makePromLabelsForAdmit(p.alg)).Inc()
}

func (p *MessageProcessor) observeRejected(backlogged bool) {
	if p.metrics == nil {
		return
	}
	p.metrics.RejectedMessages.With(makePromLabelsForReject(p.alg, backlogged)).Inc()
}

// newBacklogSlotsProvider creates a new backlog slots provider.
func newBacklogSlotsProvider(backlogLimit, maxKeys int) (backlogSlotsProvider, error) {
	if maxKeys == 0 {
		backlogSlots := make(chan struct{}, backlogLimit)
		return func(userID string) chan struct{} {
			return backlogSlots
		}, nil
	}
	usersZone, err := lrucache.New[string, chan struct{}](maxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for backlog slots: %w", err)
	}
	return func(userID string) chan struct{} {
		backlogSlots, _ := usersZone.GetOrAdd(userID, func() chan struct{} {
			return make(chan struct{}, backlogLimit)
		})
		return backlogSlots
	}, nil
}
