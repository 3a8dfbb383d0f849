package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/ClareAI/astra-dialout-service/pkg/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CallStarter is the slice of the orchestrator a campaign needs
type CallStarter interface {
	StartCall(ctx context.Context, req domain.CallRequest) (*domain.CallRecord, error)
	GetCall(callID string) (*domain.CallRecord, error)
}

type campaignState struct {
	mu           sync.Mutex
	record       *domain.CampaignRecord
	cancel       context.CancelFunc
	dialFailures int
}

// snapshot copies the record, dropping slots whose dial has not produced a
// call ID (still in flight, or failed before a record existed).
func (s *campaignState) snapshot() *domain.CampaignRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.record
	cp.CallIDs = make([]string, 0, len(s.record.CallIDs))
	for _, id := range s.record.CallIDs {
		if id != "" {
			cp.CallIDs = append(cp.CallIDs, id)
		}
	}
	return &cp
}

// Coordinator paces bulk campaigns. Each origination is launched in its own
// goroutine, so the inter-call delay is measured between launches and a slow
// or failing dial never stalls the rest of the campaign.
type Coordinator struct {
	starter  CallStarter
	redisSvc redis.RedisServiceInterface

	mu        sync.RWMutex
	campaigns map[string]*campaignState
}

func NewCoordinator(starter CallStarter, redisSvc redis.RedisServiceInterface) *Coordinator {
	return &Coordinator{
		starter:   starter,
		redisSvc:  redisSvc,
		campaigns: make(map[string]*campaignState),
	}
}

// Start launches a campaign over the given recipients with the given
// inter-call delay and returns immediately with its record.
func (c *Coordinator) Start(recipients []domain.Recipient, delay time.Duration) (*domain.CampaignRecord, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: campaign has no recipients", domain.ErrInvalidRequest)
	}
	if delay <= 0 {
		return nil, fmt.Errorf("%w: campaign delay must be positive", domain.ErrInvalidRequest)
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &campaignState{
		record: &domain.CampaignRecord{
			CampaignID:   uuid.New().String(),
			CallIDs:      make([]string, 0, len(recipients)),
			DelaySeconds: int(delay / time.Second),
			StartedAt:    time.Now(),
			TotalPlanned: len(recipients),
		},
		cancel: cancel,
	}

	c.mu.Lock()
	c.campaigns[state.record.CampaignID] = state
	c.mu.Unlock()

	logger.Base().Info("Campaign started",
		zap.String("campaign_id", state.record.CampaignID),
		zap.Int("recipients", len(recipients)),
		zap.Duration("delay", delay))

	go c.run(ctx, state, recipients, delay)

	return state.snapshot(), nil
}

// run paces the launches. Cancellation stops future originations only; calls
// already launched run to their natural end.
func (c *Coordinator) run(ctx context.Context, state *campaignState, recipients []domain.Recipient, delay time.Duration) {
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	var wg sync.WaitGroup

	for i, recipient := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			logger.Base().Info("Campaign pacing stopped",
				zap.String("campaign_id", state.record.CampaignID),
				zap.Int("launched", i),
				zap.Int("planned", len(recipients)))
			break
		}

		// Reserve the call ID slot in launch order so a slow dial cannot
		// file its ID behind later recipients.
		state.mu.Lock()
		slot := len(state.record.CallIDs)
		state.record.CallIDs = append(state.record.CallIDs, "")
		state.mu.Unlock()

		wg.Add(1)
		go func(slot int, r domain.Recipient) {
			defer wg.Done()
			c.dispatch(state, slot, r)
		}(slot, recipient)
	}

	wg.Wait()

	state.mu.Lock()
	if state.record.CancelledAt == nil {
		now := time.Now()
		state.record.CompletedAt = &now
	}
	state.mu.Unlock()

	c.publishProgress(state)
	logger.Base().Info("Campaign dispatch finished", zap.String("campaign_id", state.record.CampaignID))
}

func (c *Coordinator) dispatch(state *campaignState, slot int, recipient domain.Recipient) {
	req := domain.CallRequest{
		PhoneNumber:  recipient.PhoneNumber,
		CustomerName: recipient.Name,
	}
	if recipient.Company != "" || recipient.Notes != "" {
		req.CustomInstructions = fmt.Sprintf("Company: %s. Notes: %s", recipient.Company, recipient.Notes)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rec, err := c.starter.StartCall(ctx, req)

	state.mu.Lock()
	if rec != nil {
		state.record.CallIDs[slot] = rec.CallID
	}
	if err != nil {
		state.dialFailures++
	}
	state.mu.Unlock()

	if err != nil {
		logger.Base().Warn("Campaign call failed",
			zap.String("campaign_id", state.record.CampaignID),
			zap.String("phone_number", recipient.PhoneNumber),
			zap.Error(err))
	}
	c.publishProgress(state)
}

// Get returns the campaign record snapshot
func (c *Coordinator) Get(campaignID string) (*domain.CampaignRecord, error) {
	state, err := c.lookup(campaignID)
	if err != nil {
		return nil, err
	}
	return state.snapshot(), nil
}

// Cancel stops future originations of a running campaign. Idempotent.
func (c *Coordinator) Cancel(campaignID string) (*domain.CampaignRecord, error) {
	state, err := c.lookup(campaignID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	if state.record.CancelledAt == nil && state.record.CompletedAt == nil {
		now := time.Now()
		state.record.CancelledAt = &now
	}
	state.mu.Unlock()

	state.cancel()
	logger.Base().Info("Campaign cancelled", zap.String("campaign_id", campaignID))
	return state.snapshot(), nil
}

// Summary derives campaign progress from the current call records. A call
// counts as successful when it reached the agent: connected now, or completed
// after having been connected.
func (c *Coordinator) Summary(campaignID string) (*domain.CampaignSummary, error) {
	state, err := c.lookup(campaignID)
	if err != nil {
		return nil, err
	}
	rec := state.snapshot()

	state.mu.Lock()
	dialFailures := state.dialFailures
	state.mu.Unlock()

	summary := &domain.CampaignSummary{
		CampaignID:   campaignID,
		Attempted:    len(rec.CallIDs),
		StatusCounts: make(map[domain.CallStatus]int),
		DialFailures: dialFailures,
		GeneratedAt:  time.Now(),
	}

	for _, callID := range rec.CallIDs {
		call, err := c.starter.GetCall(callID)
		if err != nil {
			continue
		}
		summary.StatusCounts[call.Status]++
		if call.Status == domain.CallStatusConnected || call.Status == domain.CallStatusCompleted {
			summary.Successful++
		}
	}
	if summary.Attempted > 0 {
		summary.SuccessRate = float64(summary.Successful) / float64(summary.Attempted)
	}
	return summary, nil
}

// List returns snapshots of all known campaigns
func (c *Coordinator) List() []*domain.CampaignRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.CampaignRecord, 0, len(c.campaigns))
	for _, state := range c.campaigns {
		out = append(out, state.snapshot())
	}
	return out
}

func (c *Coordinator) lookup(campaignID string) (*campaignState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.campaigns[campaignID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return state, nil
}

// publishProgress mirrors campaign progress into redis so other pods can
// report on it
func (c *Coordinator) publishProgress(state *campaignState) {
	if c.redisSvc == nil {
		return
	}
	snapshot := state.snapshot()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := c.redisSvc.GenerateKey(redis.CAMPAIGN_PROGRESS, snapshot.CampaignID)
	if err := c.redisSvc.SetValue(ctx, key, string(payload), 24*time.Hour); err != nil {
		logger.Base().Warn("Failed to publish campaign progress",
			zap.String("campaign_id", snapshot.CampaignID), zap.Error(err))
	}
}
