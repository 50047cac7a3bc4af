package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/config"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/messaging"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/sqlite"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

func TestRules(t *testing.T) {
	rules, policy, err := Rules(config.CurriculumConfig{
		TemplateVersion:  slot.CanonicalVersion,
		RequireFrench:    true,
		FrenchFields:     []string{"title", " content "},
		MaxAttempts:      3,
		ModulesPerCourse: 4,
		LessonsPerModule: 6,
	})
	require.NoError(t, err)
	assert.True(t, rules.Language.RequireFrench)
	assert.Equal(t, []activity.Field{activity.FieldTitle, activity.FieldContent}, rules.Language.Fields)
	assert.Equal(t, 4, rules.Structure.ModulesPerCourse)
	assert.Equal(t, 3, policy.MaxAttempts)

	rules, _, err = Rules(config.CurriculumConfig{})
	require.NoError(t, err)
	assert.False(t, rules.Language.RequireFrench)
	assert.Equal(t, []activity.Field{activity.FieldTitle}, rules.Language.Fields)

	_, _, err = Rules(config.CurriculumConfig{TemplateVersion: "1999.9"})
	assert.ErrorContains(t, err, "template version mismatch")
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := &config.Config{
		App: config.AppConfig{StartupAttempts: 1},
		Database: config.DatabaseConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "data", "engine.db"),
		},
	}
	store, err := OpenStore(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, store)
	assert.NoError(t, store.(*sqlite.Store).Close())

	cfg.Database.Driver = "oracle"
	_, err = OpenStore(context.Background(), cfg, logger.Nop())
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestNewEventBusStaysLocalWithoutCache(t *testing.T) {
	cfg := &config.Config{Features: config.LoadFeatureFlags()}
	bus, err := NewEventBus(cfg, nil, logger.Nop())
	require.NoError(t, err)
	defer bus.Close()
	assert.IsType(t, &messaging.InMemoryEventBus{}, bus)
}

func TestPublisherDropsProgressEventsWhenFlagOff(t *testing.T) {
	flags := config.LoadFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureProgressEvents))

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	var got []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got = append(got, e.EventType())
		return nil
	}))

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pub := Publisher(bus, flags)
	require.NoError(t, pub.Publish(shared.NewLessonCompletedEvent("learner-1", "lesson-1", "course-1", at)))
	require.NoError(t, pub.Publish(shared.NewDripChangedEvent("course-1", "", at)))
	assert.Equal(t, []shared.EventType{shared.EventDripChanged}, got)

	require.NoError(t, flags.EnableFeature(config.FeatureProgressEvents))
	require.NoError(t, pub.Publish(shared.NewLessonCompletedEvent("learner-1", "lesson-1", "course-1", at)))
	assert.Len(t, got, 2)
}
