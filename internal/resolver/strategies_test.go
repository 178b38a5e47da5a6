package resolver

import (
	"testing"
	"time"

	"wisefido-sync-resolver/internal/models"
	"wisefido-sync-resolver/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	row := func(ts interface{}) *models.Row { return models.RowOf("id", 1, "updated_at", ts) }

	tests := []struct {
		name           string
		source, target *models.Row
		want           models.ConflictType
	}{
		{"target absent", row("a"), nil, models.ConflictTypeInsert},
		{"both absent", nil, nil, models.ConflictTypeInsert},
		{"source absent", nil, row("a"), models.ConflictTypeDelete},
		{"timestamps differ", row("2024-01-01"), row("2024-01-02"), models.ConflictTypeUpdate},
		{"timestamps equal", row("2024-01-01"), row("2024-01-01"), models.ConflictTypeCustom},
		{"timestamp null", row(nil), row("2024-01-01"), models.ConflictTypeCustom},
		{"timestamp missing", models.RowOf("id", 1), row("2024-01-01"), models.ConflictTypeCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.source, tt.target, "updated_at"))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, s := range []string{
		"2024-01-02T03:04:05Z",
		"2024-01-02T03:04:05+00:00",
		"2024-01-02T05:04:05+02:00",
		"2024-01-02T03:04:05",
		"2024-01-02 03:04:05",
		"2024-01-02 03:04:05+00",
		"2024-01-02 03:04:05.000000+00:00",
	} {
		got, err := parseTimestamp(models.String(s))
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	got, err := parseTimestamp(models.Int(want.Unix()))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	for _, v := range []models.Value{models.String("yesterday"), models.String(""), models.Bool(true), models.Null()} {
		_, err := parseTimestamp(v)
		assert.ErrorIs(t, err, ErrTimestampUnusable)
	}
}

func TestNewestWins_TieBreaker(t *testing.T) {
	source := models.RowOf("id", 1, "side", "source", "updated_at", "garbage")
	target := models.RowOf("id", 1, "side", "target", "updated_at", "2024-01-01T00:00:00Z")

	p := policy.TablePolicy{Strategy: policy.StrategyNewestWins, CompareField: "updated_at"}
	got, err := NewestWins(source, target, p)
	require.NoError(t, err)
	assert.True(t, got.Equal(source), "default tie breaker favors source")

	p.TieBreaker = policy.TieBreakTarget
	got, err = NewestWins(source, target, p)
	require.NoError(t, err)
	assert.True(t, got.Equal(target))

	// 字段完全缺失同样走 tie-breaker
	got, err = NewestWins(models.RowOf("id", 1), models.RowOf("id", 2), p)
	require.NoError(t, err)
	assert.True(t, got.Equal(models.RowOf("id", 2)))
}

func TestNewestWins_EqualInstantsFavorSource(t *testing.T) {
	source := models.RowOf("id", 1, "side", "source", "updated_at", "2024-01-01T02:00:00+02:00")
	target := models.RowOf("id", 1, "side", "target", "updated_at", "2024-01-01T00:00:00Z")

	got, err := NewestWins(source, target, policy.TablePolicy{CompareField: "updated_at", TieBreaker: policy.TieBreakTarget})
	require.NoError(t, err)
	assert.True(t, got.Equal(source))
}

func TestNewestWins_CustomCompareField(t *testing.T) {
	source := models.RowOf("id", 1, "updated_at", "2024-01-09T00:00:00Z", "synced_at", "2024-01-01T00:00:00Z")
	target := models.RowOf("id", 1, "updated_at", "2024-01-01T00:00:00Z", "synced_at", "2024-01-05T00:00:00Z")

	got, err := NewestWins(source, target, policy.TablePolicy{CompareField: "synced_at"})
	require.NoError(t, err)
	assert.True(t, got.Equal(target))
}

func TestStrategies_ReturnCopies(t *testing.T) {
	source := models.RowOf("id", 1, "v", "s")
	target := models.RowOf("id", 1, "v", "t")

	got, err := SourceWins(source, target, policy.TablePolicy{})
	require.NoError(t, err)
	got.Set("v", models.String("changed"))
	v, _ := source.Get("v")
	assert.Equal(t, "s", v.Str())

	got, err = Manual(source, target, policy.TablePolicy{})
	require.NoError(t, err)
	assert.True(t, got.Equal(target))
}

func TestStrategyFor_CoversEveryStrategy(t *testing.T) {
	for _, s := range []policy.Strategy{
		policy.StrategyNewestWins, policy.StrategySourceWins, policy.StrategyTargetWins,
		policy.StrategyMerge, policy.StrategyManual,
	} {
		fn, err := strategyFor(s)
		require.NoError(t, err, s.String())
		assert.NotNil(t, fn)
	}
	_, err := strategyFor(policy.Strategy(99))
	assert.Error(t, err)
}

func TestMergeStrategy_RequiresRules(t *testing.T) {
	_, err := MergeStrategy(models.NewRow(), models.NewRow(), policy.TablePolicy{Strategy: policy.StrategyMerge})
	assert.Error(t, err)
}
