package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"typhonrelay/internal/completion"
	"typhonrelay/internal/logging"
	"typhonrelay/internal/models"
	"typhonrelay/internal/session"
)

// ValidationError reports a malformed submit before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Recorder persists finished exchanges. Implementations are best-effort:
// errors are logged by the orchestrator and never reach the caller.
type Recorder interface {
	Record(ctx context.Context, exchange models.Exchange) error
}

// Orchestrator runs conversation turns against a completion client.
type Orchestrator struct {
	store        *session.Store
	client       completion.Client
	recorder     Recorder
	extractors   []Extractor
	defaultModel string
	now          func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the transcript recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithExtractors replaces the reply extraction chain.
func WithExtractors(extractors ...Extractor) Option {
	return func(o *Orchestrator) { o.extractors = extractors }
}

// WithDefaultModel sets the model used when a submit does not name one.
func WithDefaultModel(model string) Option {
	return func(o *Orchestrator) { o.defaultModel = model }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires a store and completion client.
func NewOrchestrator(store *session.Store, client completion.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		client:     client,
		extractors: DefaultExtractors,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubmitInput is one message sent into a session.
type SubmitInput struct {
	User      *models.Player
	SessionID string
	Content   string
	Role      models.Role
	System    string
	Params    completion.Params
}

// Reply is the outcome of a successful submit.
type Reply struct {
	Reply       string
	SessionKey  string
	HistorySize int
	PathUsed    string
	Raw         json.RawMessage
}

// Submit appends the message to the session, asks the provider for a reply using the
// whole history, and records the assistant turn when one is returned.
// On upstream failure the user turn stays in the history.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (*Reply, error) {
	if in.Content == "" {
		return nil, &ValidationError{Field: "content", Message: "content is required (string)"}
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, &ValidationError{Field: "sessionId", Message: "session id is required"}
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("role %q is not allowed, use system for system prompts", role)}
	}

	userKey := session.UserKey(in.User)
	key := session.Key(in.SessionID, in.User)
	ctx = logging.WithSession(ctx, key, userKey)
	log := logging.WithCtx(ctx)

	userSentAt := o.now().UTC()
	turn := o.store.Acquire(key)
	defer turn.Release()

	if in.System != "" {
		turn.EnsureSystem(in.System)
	}
	turn.Append(models.Message{Role: role, Content: in.Content})

	params := in.Params
	if params.Model == "" {
		params.Model = o.defaultModel
	}
	req := completion.NewRequest(turn.Messages(), params)

	result, err := o.client.Complete(ctx, req)
	if err != nil {
		log.Error("completion failed", zap.Error(err), zap.Int("history_size", turn.Len()))
		return nil, err
	}

	reply := ExtractReply(result.Data, o.extractors)
	if reply != "" {
		turn.Append(models.Message{Role: models.RoleAssistant, Content: reply})
	} else {
		log.Warn("completion returned no extractable reply", zap.String("path_used", result.PathUsed))
	}
	historySize := turn.Len()
	turn.Release()

	out := &Reply{
		Reply:       reply,
		SessionKey:  key,
		HistorySize: historySize,
		PathUsed:    result.PathUsed,
		Raw:         result.Data,
	}

	o.record(ctx, in, role, params.Model, userSentAt, out)
	return out, nil
}

func (o *Orchestrator) record(ctx context.Context, in SubmitInput, role models.Role, modelUsed string, userSentAt time.Time, out *Reply) {
	if o.recorder == nil {
		return
	}
	repliedAt := o.now().UTC()
	userID := in.User.LogID()
	exchange := models.Exchange{
		ID:         uuid.NewString(),
		SessionKey: out.SessionKey,
		Entries: []models.TranscriptEntry{
			{
				ID:        uuid.NewString(),
				Timestamp: userSentAt,
				SessionID: in.SessionID,
				UserID:    userID,
				Role:      role,
				Content:   in.Content,
				Model:     modelUsed,
				PathUsed:  out.PathUsed,
			},
			{
				ID:        uuid.NewString(),
				Timestamp: repliedAt,
				SessionID: in.SessionID,
				UserID:    userID,
				Role:      models.RoleAssistant,
				Content:   out.Reply,
				Model:     modelUsed,
				PathUsed:  out.PathUsed,
			},
		},
		Pair: &models.ChatPair{
			PlayerName:   in.User.DisplayName(),
			UserMessage:  in.Content,
			UserSentAt:   userSentAt,
			BotReply:     out.Reply,
			BotRepliedAt: repliedAt,
		},
	}
	// The request context may be cancelled as soon as the response is written.
	if err := o.recorder.Record(context.WithoutCancel(ctx), exchange); err != nil {
		logging.WithCtx(ctx).Warn("failed to record chat exchange", zap.Error(err), zap.String("exchange_id", exchange.ID))
	}
}

// History returns the session key and a copy of its messages, creating the session if absent.
func (o *Orchestrator) History(user *models.Player, sessionID string) (string, []models.Message) {
	key := session.Key(sessionID, user)
	return key, o.store.Get(key)
}

// Clear drops the session and reports whether it existed.
func (o *Orchestrator) Clear(user *models.Player, sessionID string) (string, bool) {
	key := session.Key(sessionID, user)
	return key, o.store.Clear(key)
}

// DefaultModel reports the model used when a submit does not name one.
func (o *Orchestrator) DefaultModel() string {
	return o.defaultModel
}

// Sessions reports how many sessions are held in memory.
func (o *Orchestrator) Sessions() int {
	return o.store.Len()
}
