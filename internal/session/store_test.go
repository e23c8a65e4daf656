package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typhonrelay/internal/models"
)

func TestUserKeyPriority(t *testing.T) {
	assert.Equal(t, "Alice", UserKey(&models.Player{Name: "Alice", ID: "1", PIN: "123456"}))
	assert.Equal(t, "1", UserKey(&models.Player{ID: "1", PIN: "123456"}))
	assert.Equal(t, "PIN-123456", UserKey(&models.Player{PIN: "123456"}))
	assert.Equal(t, "anonymous", UserKey(&models.Player{}))
	assert.Equal(t, "anonymous", UserKey(nil))
	assert.Equal(t, "s1::Alice", Key("s1", &models.Player{Name: "Alice"}))
}

func TestKeyIsolatesUsers(t *testing.T) {
	store := NewStore(0)
	alice := Key("s1", &models.Player{Name: "Alice"})
	bob := Key("s1", &models.Player{Name: "Bob"})
	require.NotEqual(t, alice, bob)

	turn := store.Acquire(alice)
	turn.Append(models.Message{Role: models.RoleUser, Content: "hi from alice"})
	turn.Release()

	assert.Len(t, store.Get(alice), 1)
	assert.Empty(t, store.Get(bob))
}

func TestGetCreatesAndClearReports(t *testing.T) {
	store := NewStore(0)
	assert.False(t, store.Clear("missing::anonymous"))

	assert.Empty(t, store.Get("s1::anonymous"))
	assert.Equal(t, 1, store.Len())
	assert.True(t, store.Clear("s1::anonymous"))
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.Get("s1::anonymous"))
}

func TestEnsureSystemOnlyOnce(t *testing.T) {
	store := NewStore(0)
	turn := store.Acquire("k")
	turn.Append(models.Message{Role: models.RoleUser, Content: "first"})
	assert.True(t, turn.EnsureSystem("be nice"))
	assert.False(t, turn.EnsureSystem("be mean"))
	assert.False(t, turn.EnsureSystem(""))
	turn.Release()

	msgs := store.Get("k")
	require.Len(t, msgs, 2)
	assert.Equal(t, models.Message{Role: models.RoleSystem, Content: "be nice"}, msgs[0])
	assert.Equal(t, models.RoleUser, msgs[1].Role)
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewStore(0)
	turn := store.Acquire("k")
	turn.Append(models.Message{Role: models.RoleUser, Content: "a"})
	turn.Release()

	msgs := store.Get("k")
	msgs[0].Content = "mutated"
	assert.Equal(t, "a", store.Get("k")[0].Content)
}

func TestAppendTrimsOldestKeepingSystem(t *testing.T) {
	store := NewStore(3)
	turn := store.Acquire("k")
	defer turn.Release()
	turn.EnsureSystem("sys")
	for i := 0; i < 4; i++ {
		turn.Append(models.Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	msgs := turn.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, "m2", msgs[1].Content)
	assert.Equal(t, "m3", msgs[2].Content)
}

func TestAppendTightLimitKeepsNewest(t *testing.T) {
	store := NewStore(1)
	turn := store.Acquire("k")
	defer turn.Release()
	turn.EnsureSystem("sys")
	turn.Append(models.Message{Role: models.RoleUser, Content: "hello"})

	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hello"},
	}, turn.Messages())

	turn.Append(models.Message{Role: models.RoleAssistant, Content: "hi"})
	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleAssistant, Content: "hi"},
	}, turn.Messages())
}

func TestClearWaitsForInFlightTurn(t *testing.T) {
	store := NewStore(0)
	turn := store.Acquire("k")
	turn.Append(models.Message{Role: models.RoleUser, Content: "slow"})

	cleared := make(chan bool, 1)
	go func() { cleared <- store.Clear("k") }()

	select {
	case <-cleared:
		t.Fatalf("Clear returned while a turn was held")
	case <-time.After(20 * time.Millisecond):
	}

	turn.Append(models.Message{Role: models.RoleAssistant, Content: "re:slow"})
	turn.Release()
	assert.True(t, <-cleared)
	assert.Empty(t, store.Get("k"))

	next := store.Acquire("k")
	next.Append(models.Message{Role: models.RoleUser, Content: "fast"})
	next.Release()
	assert.Equal(t, []models.Message{{Role: models.RoleUser, Content: "fast"}}, store.Get("k"))
}

func TestAppendVisibleWhileTurnHeld(t *testing.T) {
	store := NewStore(0)
	turn := store.Acquire("k")
	turn.Append(models.Message{Role: models.RoleUser, Content: "pending"})

	done := make(chan []models.Message, 1)
	go func() { done <- store.Get("k") }()
	select {
	case msgs := <-done:
		assert.Len(t, msgs, 1)
	case <-time.After(time.Second):
		t.Fatalf("Get blocked while a turn was held")
	}
	turn.Release()
	turn.Release()
}

func TestTurnsSerializePerKey(t *testing.T) {
	store := NewStore(0)
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			turn := store.Acquire("k")
			defer turn.Release()
			turn.Append(models.Message{Role: models.RoleUser, Content: fmt.Sprintf("u%d", i)})
			time.Sleep(time.Millisecond)
			turn.Append(models.Message{Role: models.RoleAssistant, Content: fmt.Sprintf("a%d", i)})
		}(i)
	}
	wg.Wait()

	msgs := store.Get("k")
	require.Len(t, msgs, 2*n)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, models.RoleUser, msgs[i].Role)
		assert.Equal(t, models.RoleAssistant, msgs[i+1].Role)
		assert.Equal(t, msgs[i].Content[1:], msgs[i+1].Content[1:])
	}
}
