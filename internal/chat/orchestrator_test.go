package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typhonrelay/internal/completion"
	"typhonrelay/internal/models"
	"typhonrelay/internal/session"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []*completion.Request
	seen     [][]models.Message
	respond  func(req *completion.Request) (*completion.Result, error)
}

func (f *fakeClient) Complete(ctx context.Context, req *completion.Request) (*completion.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	msgs := make([]models.Message, len(req.Messages))
	copy(msgs, req.Messages)
	f.seen = append(f.seen, msgs)
	f.mu.Unlock()
	return f.respond(req)
}

func replyWith(text string) func(*completion.Request) (*completion.Result, error) {
	return func(*completion.Request) (*completion.Result, error) {
		data, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": text}}},
		})
		return &completion.Result{Data: data, PathUsed: "/v1/chat/completions"}, nil
	}
}

type fakeRecorder struct {
	mu        sync.Mutex
	exchanges []models.Exchange
	err       error
}

func (f *fakeRecorder) Record(ctx context.Context, ex models.Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, ex)
	return f.err
}

var alice = &models.Player{ID: "7", Name: "Alice", PIN: "123456"}

func TestSubmitWithSystemPrompt(t *testing.T) {
	client := &fakeClient{respond: replyWith("Hi Alice")}
	rec := &fakeRecorder{}
	o := NewOrchestrator(session.NewStore(0), client, WithRecorder(rec), WithDefaultModel("typhoon-default"))

	out, err := o.Submit(context.Background(), SubmitInput{
		User: alice, SessionID: "s1", Content: "Hello", System: "You are helpful",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Alice", out.Reply)
	assert.Equal(t, "s1::Alice", out.SessionKey)
	assert.Equal(t, 3, out.HistorySize)
	assert.Equal(t, "/v1/chat/completions", out.PathUsed)

	require.Len(t, client.seen, 1)
	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: "You are helpful"},
		{Role: models.RoleUser, Content: "Hello"},
	}, client.seen[0])
	assert.Equal(t, "typhoon-default", client.requests[0].Model)

	_, history := o.History(alice, "s1")
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleAssistant, history[2].Role)

	require.Len(t, rec.exchanges, 1)
	ex := rec.exchanges[0]
	require.Len(t, ex.Entries, 2)
	assert.Equal(t, "7", ex.Entries[0].UserID)
	assert.Equal(t, models.RoleUser, ex.Entries[0].Role)
	assert.Equal(t, "Hi Alice", ex.Entries[1].Content)
	assert.Equal(t, "typhoon-default", ex.Entries[1].Model)
	require.NotNil(t, ex.Pair)
	assert.Equal(t, "Alice", ex.Pair.PlayerName)
	assert.Equal(t, "Hello", ex.Pair.UserMessage)
}

func TestSubmitSecondSystemPromptNotDuplicated(t *testing.T) {
	client := &fakeClient{respond: replyWith("ok")}
	o := NewOrchestrator(session.NewStore(0), client)

	_, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "one", System: "first"})
	require.NoError(t, err)
	out, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "two", System: "second"})
	require.NoError(t, err)
	assert.Equal(t, 5, out.HistorySize)

	_, history := o.History(alice, "s1")
	systems := 0
	for _, m := range history {
		if m.Role == models.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
	assert.Equal(t, models.Message{Role: models.RoleSystem, Content: "first"}, history[0])
	assert.Len(t, client.seen[1], 4, "second request carries the full history")
}

func TestSubmitHistorySizeNonDecreasing(t *testing.T) {
	replies := []string{"a", "", "c"}
	i := 0
	client := &fakeClient{respond: func(req *completion.Request) (*completion.Result, error) {
		r := replies[i]
		i++
		return replyWith(r)(req)
	}}
	o := NewOrchestrator(session.NewStore(0), client)

	prev := 0
	want := []int{2, 3, 5}
	for n, w := range want {
		out, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s", Content: "msg"})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out.HistorySize, prev)
		assert.Equal(t, w, out.HistorySize, "submit %d", n)
		prev = out.HistorySize
	}
}

func TestSubmitUpstreamFailureKeepsUserTurn(t *testing.T) {
	client := &fakeClient{respond: func(*completion.Request) (*completion.Result, error) {
		return nil, &completion.UpstreamError{Status: 429, Message: "rate limited"}
	}}
	rec := &fakeRecorder{}
	o := NewOrchestrator(session.NewStore(0), client, WithRecorder(rec))

	_, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "Hello"})
	upErr, ok := completion.IsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, 429, upErr.HTTPStatus())

	_, history := o.History(alice, "s1")
	assert.Equal(t, []models.Message{{Role: models.RoleUser, Content: "Hello"}}, history)
	assert.Empty(t, rec.exchanges)
}

func TestSubmitRecorderFailureIsSwallowed(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("sheets down")}
	o := NewOrchestrator(session.NewStore(0), &fakeClient{respond: replyWith("fine")}, WithRecorder(rec))

	out, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "fine", out.Reply)
	assert.Len(t, rec.exchanges, 1)
}

func TestSubmitValidation(t *testing.T) {
	client := &fakeClient{respond: replyWith("x")}
	store := session.NewStore(0)
	o := NewOrchestrator(store, client)

	cases := []SubmitInput{
		{User: alice, SessionID: "s1", Content: ""},
		{User: alice, SessionID: " ", Content: "hi"},
		{User: alice, SessionID: "s1", Content: "hi", Role: models.RoleSystem},
		{User: alice, SessionID: "s1", Content: "hi", Role: "tool"},
	}
	for _, in := range cases {
		_, err := o.Submit(context.Background(), in)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
	}
	assert.Empty(t, client.requests)
	assert.Equal(t, 0, store.Len(), "validation happens before any state mutation")
}

func TestUsersAreIsolated(t *testing.T) {
	o := NewOrchestrator(session.NewStore(0), &fakeClient{respond: replyWith("r")})
	bob := &models.Player{Name: "Bob"}

	_, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "shared", Content: "alice secret"})
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), SubmitInput{User: bob, SessionID: "shared", Content: "bob hi"})
	require.NoError(t, err)

	aliceKey, aliceHistory := o.History(alice, "shared")
	bobKey, bobHistory := o.History(bob, "shared")
	assert.NotEqual(t, aliceKey, bobKey)
	for _, m := range bobHistory {
		assert.NotEqual(t, "alice secret", m.Content)
	}
	assert.Len(t, aliceHistory, 2)
	assert.Len(t, bobHistory, 2)
}

func TestClearThenHistoryIsEmpty(t *testing.T) {
	o := NewOrchestrator(session.NewStore(0), &fakeClient{respond: replyWith("r")})
	_, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "hi"})
	require.NoError(t, err)

	key, existed := o.Clear(alice, "s1")
	assert.True(t, existed)
	assert.Equal(t, "s1::Alice", key)
	_, history := o.History(alice, "s1")
	assert.Empty(t, history)

	_, existed = o.Clear(alice, "never")
	assert.False(t, existed)
}

func TestConcurrentSubmitsStayPaired(t *testing.T) {
	client := &fakeClient{respond: func(req *completion.Request) (*completion.Result, error) {
		time.Sleep(2 * time.Millisecond)
		last := req.Messages[len(req.Messages)-1]
		return replyWith("re:" + last.Content)(req)
	}}
	o := NewOrchestrator(session.NewStore(0), client)

	var wg sync.WaitGroup
	for _, content := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(content string) {
			defer wg.Done()
			_, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s", Content: content})
			assert.NoError(t, err)
		}(content)
	}
	wg.Wait()

	_, history := o.History(alice, "s")
	require.Len(t, history, 8)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, "re:"+history[i].Content, history[i+1].Content)
	}
}

func TestSubmitTightBoundStillSendsUserTurn(t *testing.T) {
	client := &fakeClient{respond: replyWith("hi")}
	o := NewOrchestrator(session.NewStore(1), client)

	_, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "Hello", System: "sys"})
	require.NoError(t, err)

	require.Len(t, client.seen, 1)
	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "Hello"},
	}, client.seen[0])
}

func TestClearWaitsForInFlightSubmit(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClient{respond: func(req *completion.Request) (*completion.Result, error) {
		close(started)
		<-release
		return replyWith("re:slow")(req)
	}}
	o := NewOrchestrator(session.NewStore(0), client)

	submitted := make(chan *Reply, 1)
	go func() {
		out, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "slow"})
		assert.NoError(t, err)
		submitted <- out
	}()
	<-started

	cleared := make(chan bool, 1)
	go func() {
		_, existed := o.Clear(alice, "s1")
		cleared <- existed
	}()
	select {
	case <-cleared:
		t.Fatalf("clear finished before the in-flight submit")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	out := <-submitted
	assert.Equal(t, 2, out.HistorySize)
	assert.True(t, <-cleared)

	_, history := o.History(alice, "s1")
	assert.Empty(t, history)
}

func TestWithExtractorsAppendsProviderShape(t *testing.T) {
	client := &fakeClient{respond: func(*completion.Request) (*completion.Result, error) {
		return &completion.Result{Data: json.RawMessage(`{"candidates":[{"text":"from candidates"}]}`)}, nil
	}}
	candidates := func(raw json.RawMessage) (string, bool) {
		var body struct {
			Candidates []struct {
				Text string `json:"text"`
			} `json:"candidates"`
		}
		if err := json.Unmarshal(raw, &body); err != nil || len(body.Candidates) == 0 {
			return "", false
		}
		return body.Candidates[0].Text, true
	}
	chain := append(append([]Extractor{}, DefaultExtractors...), candidates)
	o := NewOrchestrator(session.NewStore(0), client, WithExtractors(chain...))

	out, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from candidates", out.Reply)
	assert.Equal(t, 2, out.HistorySize)
}

func TestRecordedTimestampsUseClock(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &fakeRecorder{}
	o := NewOrchestrator(session.NewStore(0), &fakeClient{respond: replyWith("ok")},
		WithRecorder(rec),
		WithClock(func() time.Time { return at }),
	)

	_, err := o.Submit(context.Background(), SubmitInput{User: alice, SessionID: "s1", Content: "hi"})
	require.NoError(t, err)
	require.Len(t, rec.exchanges, 1)
	ex := rec.exchanges[0]
	assert.Equal(t, at, ex.Entries[0].Timestamp)
	assert.Equal(t, at, ex.Entries[1].Timestamp)
	assert.Equal(t, at, ex.Pair.UserSentAt)
	assert.Equal(t, at, ex.Pair.BotRepliedAt)
}
