package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags toggles the optional parts of the engine. Every flag can be
// overridden with FEATURE_<NAME>=true|false|<percent>.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature

	// userOverrides pins a flag for one user id, mostly for support sessions.
	userOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent assigns users to the feature by a hash of their id.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeatureCourseTreeCache = "cache.course_tree"   // serve course trees from Redis
	FeatureRedisEvents     = "events.redis_fanout" // fan events out over Redis Pub/Sub
	FeatureProgressEvents  = "events.progress"     // publish completion events
	FeatureXLSXTransfer    = "transfer.xlsx"       // xlsx export and import
	FeatureScheduledSweep  = "sweep.scheduled"     // worker runs the periodic sweep
	FeatureSweepReport     = "sweep.report_store"  // keep the latest report in Redis
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{FeatureCourseTreeCache, "Cache author course trees in Redis", true, 100},
		{FeatureRedisEvents, "Publish engine events to other instances through Redis", true, 100},
		{FeatureProgressEvents, "Publish activity and lesson completion events", true, 100},
		{FeatureXLSXTransfer, "Allow lesson export and import as xlsx workbooks", true, 100},
		{FeatureScheduledSweep, "Run validateAllPaths on the worker schedule", true, 100},
		{FeatureSweepReport, "Store the latest sweep report for authors", true, 100},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment applies FEATURE_* overrides.
// Example: FEATURE_TRANSFER_XLSX=false
// Example: FEATURE_EVENTS_PROGRESS=25 (25% of learners)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "cache.course_tree" -> "FEATURE_CACHE_COURSE_TREE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// Enabled reports whether a feature is on globally. Partial rollouts count as
// off here; use EnabledFor for per-user checks.
func (ff *FeatureFlags) Enabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[featureName]
	return ok && f.Enabled && f.RolloutPercent >= 100
}

// EnabledFor checks a feature for one user, honouring overrides and rollout.
func (ff *FeatureFlags) EnabledFor(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.userOverrides[userID]; ok {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}
	f, ok := ff.features[featureName]
	if !ok || !f.Enabled {
		return false
	}
	if f.RolloutPercent >= 100 {
		return true
	}
	if userID == "" {
		return false
	}
	return inRollout(userID, featureName, f.RolloutPercent)
}

// inRollout hashes user and feature so a user stays in the same bucket.
func inRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	f.RolloutPercent = percent
	f.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// Snapshot returns a copy of every flag, sorted by name, for the health endpoint.
func (ff *FeatureFlags) Snapshot() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
