// Package reflection implements the durable scheduler for proactive actions.
//
// After each successful ingest the coordinator hands the conversation batch
// and the freshly recalled memories to Observe, which asks the LLM whether a
// time-delayed follow-up should be scheduled. Actions persist write-through to
// a single JSON file and fire at most once: Poll flips the fired bit before
// returning an action, and only MarkFailed re-arms it.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tiermem/tiermem-go/pkg/llm"
	"github.com/tiermem/tiermem-go/pkg/logging"
)

// DefaultFileName is the action journal file name inside the data directory.
const DefaultFileName = "mem0-actions.json"

// PendingAction is one scheduled proactive message.
//
// Lifecycle: queued (fired=false) until TriggerAt passes, then returned once
// by Poll with fired=true. A failed delivery re-queues it via MarkFailed;
// entries older than the TTL are pruned regardless of state.
type PendingAction struct {
	// ID is the unique action identifier ("action_{unix_ms}_{suffix}").
	ID string `json:"id"`

	// Message is the text to deliver to the user.
	Message string `json:"message"`

	// CreatedAt is when the action was scheduled.
	CreatedAt time.Time `json:"created_at"`

	// TriggerAt is the earliest instant the action may fire. Never before
	// CreatedAt.
	TriggerAt time.Time `json:"trigger_at"`

	// Fired is the at-most-once bit: set by Poll, cleared by MarkFailed.
	Fired bool `json:"fired"`

	// DeliveryAttempts counts failed deliveries.
	DeliveryAttempts int `json:"delivery_attempts"`
}

// Message is one conversation turn observed by the scheduler.
type Message struct {
	Role string
	Text string
}

// Config contains configuration for the scheduler.
type Config struct {
	// DataDir is the directory holding the action journal.
	DataDir string

	// MaxPendingActions caps unfired entries; Observe refuses beyond it.
	MaxPendingActions int

	// ActionTTL is how long an entry survives from creation, fired or not.
	ActionTTL time.Duration
}

// Scheduler owns the pending-action list and its persistence file.
//
// All state transitions run under one mutex, making Observe, Poll and
// MarkFailed linearizable with respect to each other.
type Scheduler struct {
	mu      sync.Mutex
	path    string
	llm     llm.Provider
	actions []*PendingAction

	maxPending int
	ttl        time.Duration

	now    func() time.Time
	rnd    *rand.Rand
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduler's time source. Tests use this to step
// through trigger and TTL windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger for persistence and parse warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a scheduler over the data directory, loading any previously
// persisted actions. A corrupt or missing journal yields an empty list with a
// warning rather than an error. The provider may be nil; Observe is then a
// silent no-op while Poll and MarkFailed keep serving persisted actions.
func New(cfg *Config, provider llm.Provider, opts ...Option) *Scheduler {
	s := &Scheduler{
		path:       filepath.Join(cfg.DataDir, DefaultFileName),
		llm:        provider,
		maxPending: cfg.MaxPendingActions,
		ttl:        cfg.ActionTTL,
		now:        time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

// Path returns the action journal location.
func (s *Scheduler) Path() string {
	return s.path
}

// observeInstruction is the fixed system prompt for intent analysis. The
// model must answer with a single JSON object; anything else is treated as
// "no action".
const observeInstruction = `You review a recent conversation between a user and an assistant, together with the user's stored memories, and decide whether a proactive follow-up message should be scheduled.

Look for latent intent: reminders the user asked for, follow-ups they expect, deadlines, appointments or plans they mentioned.

Respond with a single JSON object:
{"should_act": <boolean>, "message": "<follow-up message written to the user>", "delay_minutes": <minutes from now to deliver, 0 for the next turn>}

Set should_act to false when nothing needs a follow-up. Never invent obligations the conversation does not support.`

// observation is the JSON shape the reflection prompt requests.
type observation struct {
	ShouldAct    bool    `json:"should_act"`
	Message      string  `json:"message"`
	DelayMinutes float64 `json:"delay_minutes"`
}

// Observe analyzes a conversation batch for latent intent and schedules a
// proactive action when the model finds one.
//
// Returns the scheduled action, or nil when no provider is configured, the
// unfired cap is reached, the model declines, or its output cannot be parsed.
// Only transport failures surface as errors; the caller logs and moves on.
func (s *Scheduler) Observe(ctx context.Context, messages []Message, memories []string) (*PendingAction, error) {
	if s.llm == nil {
		return nil, nil
	}

	s.mu.Lock()
	unfired := 0
	for _, a := range s.actions {
		if !a.Fired {
			unfired++
		}
	}
	s.mu.Unlock()
	if unfired >= s.maxPending {
		s.logger.Debug("pending action cap reached, skipping reflection", "cap", s.maxPending)
		return nil, nil
	}

	response, err := s.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: "system", Content: observeInstruction},
		{Role: "user", Content: formatObservation(messages, memories)},
	},
		llm.WithJSONMode(),
		llm.WithTemperature(0.3),
		llm.WithMaxTokens(200),
	)
	if err != nil {
		return nil, fmt.Errorf("reflection observe: %w", err)
	}

	var obs observation
	if err := json.Unmarshal([]byte(llm.CleanJSONResponse(response)), &obs); err != nil {
		s.logger.Debug("unparsable reflection response", "response", response)
		return nil, nil
	}
	obs.Message = strings.TrimSpace(obs.Message)
	if !obs.ShouldAct || obs.Message == "" {
		return nil, nil
	}

	delay := obs.DelayMinutes
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	action := &PendingAction{
		ID:        fmt.Sprintf("action_%d_%s", now.UnixMilli(), s.randomSuffix()),
		Message:   obs.Message,
		CreatedAt: now,
		TriggerAt: now.Add(time.Duration(delay * float64(time.Minute))),
	}
	s.actions = append(s.actions, action)
	s.persistLocked()

	copied := *action
	return &copied, nil
}

// Poll prunes expired entries and returns the first due unfired action,
// marking it fired before handing it out. Returns nil when nothing is due.
func (s *Scheduler) Poll() *PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	changed := s.pruneLocked(now)

	var due *PendingAction
	for _, action := range s.actions {
		if !action.Fired && !action.TriggerAt.After(now) {
			action.Fired = true
			due = action
			changed = true
			break
		}
	}

	if changed {
		s.persistLocked()
	}
	if due == nil {
		return nil
	}
	copied := *due
	return &copied
}

// MarkFailed re-queues an action after a failed delivery: the fired bit is
// cleared and the attempt counter incremented, so a later Poll returns it
// again. Unknown ids are ignored.
func (s *Scheduler) MarkFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, action := range s.actions {
		if action.ID == id {
			action.Fired = false
			action.DeliveryAttempts++
			s.persistLocked()
			return
		}
	}
}

// Pending returns a copy of every tracked action in insertion order, fired
// entries included.
func (s *Scheduler) Pending() []PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PendingAction, len(s.actions))
	for i, action := range s.actions {
		out[i] = *action
	}
	return out
}

// pruneLocked drops entries older than the TTL, fired or not. Fired entries
// below the TTL are kept so MarkFailed can still re-arm them after a failed
// delivery.
func (s *Scheduler) pruneLocked(now time.Time) bool {
	kept := s.actions[:0]
	for _, action := range s.actions {
		if now.Sub(action.CreatedAt) >= s.ttl {
			continue
		}
		kept = append(kept, action)
	}
	changed := len(kept) != len(s.actions)
	s.actions = kept
	return changed
}

// load reads the persisted journal. Missing and corrupt files both start the
// scheduler empty; corruption is logged since it loses scheduled actions.
func (s *Scheduler) load() {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.logger.Warn("failed to read action journal, starting empty", "path", s.path, "error", err)
		return
	}

	var actions []*PendingAction
	if err := json.Unmarshal(data, &actions); err != nil {
		s.logger.Warn("corrupt action journal, starting empty", "path", s.path, "error", err)
		return
	}
	s.actions = actions
}

// persistLocked writes the full action list atomically (temp file + rename).
// Persistence failures are logged, not returned: the in-memory state stays
// authoritative and the next mutation retries the write.
func (s *Scheduler) persistLocked() {
	data, err := json.MarshalIndent(s.actions, "", "  ")
	if err != nil {
		s.logger.Warn("failed to marshal action journal", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		s.logger.Warn("failed to create data directory for action journal", "error", err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.logger.Warn("failed to write action journal", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Warn("failed to replace action journal", "path", s.path, "error", err)
	}
}

// randomSuffix returns six base36 characters. Called under the mutex.
func (s *Scheduler) randomSuffix() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[s.rnd.Intn(len(alphabet))]
	}
	return string(b)
}

// formatObservation renders the conversation and memories for the prompt.
func formatObservation(messages []Message, memories []string) string {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	for _, msg := range messages {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Text)
	}

	sb.WriteString("\nRelevant memories:\n")
	if len(memories) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, memory := range memories {
		fmt.Fprintf(&sb, "- %s\n", memory)
	}
	return sb.String()
}
