package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeHealthChecker(t *testing.T) {
	hc := NewCompositeHealthChecker("1.2.0")
	hc.AddCheck("store", func(context.Context) error { return nil })
	hc.AddDetail("template", func() any { return "2024.1" })

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.False(t, status.Degraded)
	assert.Equal(t, "All checks passed", status.Message)
	assert.Equal(t, "2024.1", status.Details["template"])
	assert.Equal(t, "1.2.0", status.Version)

	hc.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	status = hc.Check(context.Background())
	assert.True(t, status.Healthy, "optional checks only degrade")
	assert.True(t, status.Degraded)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	assert.True(t, status.Checks["redis"].Optional)

	hc.AddCheck("store", func(context.Context) error { return errors.New("closed") })
	status = hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: store", status.Message)
}

func TestBreakerCheck(t *testing.T) {
	state := "closed"
	check := NewBreakerCheck("redis", func() string { return state })
	assert.NoError(t, check(context.Background()))

	state = "open"
	assert.EqualError(t, check(context.Background()), "circuit redis is open")
}

func TestCheckTimeout(t *testing.T) {
	hc := NewCompositeHealthChecker("1.2.0")
	hc.SetTimeout(20 * time.Millisecond)
	hc.SetTimeout(0)
	hc.AddCheck("store", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["store"].Message)
}
