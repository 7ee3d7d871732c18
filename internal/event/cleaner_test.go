package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanRunsInReverseOrder(t *testing.T) {
	c := NewCleaner()
	var order []int
	for i := 1; i <= 3; i++ {
		c.Add(CallableFunc(func(context.Context) error {
			order = append(order, i)
			return nil
		}))
	}

	assert.NoError(t, c.Clean(context.Background()))
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestCleanJoinsErrorsAndContinues(t *testing.T) {
	c := NewCleaner()
	first := errors.New("first")
	second := errors.New("second")
	var ran bool
	c.Add(CallableFunc(func(context.Context) error { return first }))
	c.Add(CallableFunc(func(context.Context) error { ran = true; return nil }))
	c.Add(CallableFunc(func(context.Context) error { return second }))

	err := c.Clean(context.Background())
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.True(t, ran)
}

func TestCleanOnce(t *testing.T) {
	c := NewCleaner()
	calls := 0
	c.Add(CallableFunc(func(context.Context) error { calls++; return nil }))

	assert.NoError(t, c.Clean(context.Background()))
	assert.NoError(t, c.Clean(context.Background()))
	c.Add(CallableFunc(func(context.Context) error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestCleanBoundsEachCallable(t *testing.T) {
	c := NewCleaner().WithTimeout(10 * time.Millisecond)
	c.Add(CallableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.ErrorIs(t, c.Clean(context.Background()), context.DeadlineExceeded)
}
