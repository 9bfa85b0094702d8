package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentturn/core"
)

// Interface compliance (compile-time assertion)
var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_RecordAndGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordMessage(ctx, "c1", core.NewUserMessage(fmt.Sprint(i)).WithID(fmt.Sprint("m", i))))
	}

	all, err := s.GetMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	recent, err := s.GetMessages(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].Content)
	assert.Equal(t, "4", recent[1].Content)

	none, err := s.GetMessages(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInMemoryStore_DuplicateIDsIgnored(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	m := core.NewUserMessage("hi").WithID("same")

	require.NoError(t, s.RecordMessage(ctx, "c1", m))
	require.NoError(t, s.RecordMessage(ctx, "c1", m))
	require.NoError(t, s.RecordMessage(ctx, "c1", core.NewUserMessage("no id")))
	require.NoError(t, s.RecordMessage(ctx, "c1", core.NewUserMessage("no id")))

	msgs, err := s.GetMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordMessage(ctx, "c1", core.NewUserMessage("original")))

	msgs, _ := s.GetMessages(ctx, "c1", 0)
	msgs[0].Content = "mutated"

	again, _ := s.GetMessages(ctx, "c1", 0)
	assert.Equal(t, "original", again[0].Content)
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			_ = s.RecordMessage(ctx, fmt.Sprint("c", i%3), core.NewUserMessage("x").WithID(fmt.Sprint(i)))
		}(i)
	}

	wg.Wait()

	assert.Equal(t, []string{"c0", "c1", "c2"}, s.Conversations())

	total := 0
	for _, c := range s.Conversations() {
		msgs, _ := s.GetMessages(ctx, c, 0)
		total += len(msgs)
	}

	assert.Equal(t, 50, total)

	s.Delete("c0")
	assert.Equal(t, []string{"c1", "c2"}, s.Conversations())
}

func TestInMemoryStore_Validation(t *testing.T) {
	s := NewInMemoryStore()
	require.ErrorIs(t, s.RecordMessage(context.Background(), "", core.NewUserMessage("x")), ErrMissingConversation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.RecordMessage(ctx, "c1", core.NewUserMessage("x")), context.Canceled)
}
