package resolver

import (
	"testing"

	"wisefido-sync-resolver/internal/models"
	"wisefido-sync-resolver/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rules(pairs ...interface{}) []policy.FieldRule {
	var out []policy.FieldRule
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, policy.FieldRule{Field: pairs[i].(string), Rule: pairs[i+1].(policy.MergeRule)})
	}
	return out
}

func TestMerge_Union(t *testing.T) {
	source := models.RowOf("tags", []string{"a", "b"})
	target := models.RowOf("tags", []string{"b", "c"})

	merged, err := Merge(source, target, rules("tags", policy.RuleUnion), "updated_at")
	require.NoError(t, err)

	tags, _ := merged.Get("tags")
	assert.ElementsMatch(t, models.Strings("a", "b", "c").Items(), tags.Items())
}

func TestMerge_AppendPreservesTargetOrder(t *testing.T) {
	source := models.RowOf("tags", []string{"a", "b"})
	target := models.RowOf("tags", []string{"b", "c"})

	merged, err := Merge(source, target, rules("tags", policy.RuleAppend), "updated_at")
	require.NoError(t, err)

	tags, _ := merged.Get("tags")
	assert.Equal(t, models.Strings("b", "c", "a"), tags)
}

func TestMerge_AppendStructuredElements(t *testing.T) {
	msg := func(id int) *models.Row { return models.RowOf("id", id, "text", "hi") }
	source := models.RowOf("messages", models.List(models.Map(msg(1)), models.Map(msg(2))))
	target := models.RowOf("messages", models.List(models.Map(msg(1))))

	merged, err := Merge(source, target, rules("messages", policy.RuleAppend), "updated_at")
	require.NoError(t, err)

	messages, _ := merged.Get("messages")
	require.Len(t, messages.Items(), 2)
	assert.True(t, messages.Items()[1].Equal(models.Map(msg(2))))
}

func TestMerge_UnionTreatsReorderedObjectsAsEqual(t *testing.T) {
	source := models.RowOf("items", models.List(models.Map(models.RowOf("k", 1, "v", 2))))
	target := models.RowOf("items", models.List(models.Map(models.RowOf("v", 2, "k", 1))))

	for _, rule := range []policy.MergeRule{policy.RuleUnion, policy.RuleAppend} {
		merged, err := Merge(source, target, rules("items", rule), "updated_at")
		require.NoError(t, err)

		items, _ := merged.Get("items")
		assert.Len(t, items.Items(), 1, rule.String())
	}
}

func TestMerge_NonListFallsBackToSourceValue(t *testing.T) {
	source := models.RowOf("tags", "a,b", "labels", []string{"x"})
	target := models.RowOf("tags", []string{"c"}, "labels", "y")

	merged, err := Merge(source, target, rules("tags", policy.RuleAppend, "labels", policy.RuleUnion), "updated_at")
	require.NoError(t, err)

	tags, _ := merged.Get("tags")
	assert.Equal(t, models.String("a,b"), tags)
	labels, _ := merged.Get("labels")
	assert.Equal(t, models.Strings("x"), labels)
}

func TestMerge_MissingListFieldTreatedAsEmpty(t *testing.T) {
	source := models.RowOf("id", 1)
	target := models.RowOf("id", 1, "tags", []string{"c"})

	merged, err := Merge(source, target, rules("tags", policy.RuleAppend), "updated_at")
	require.NoError(t, err)
	tags, _ := merged.Get("tags")
	assert.Equal(t, models.Strings("c"), tags)
}

func TestMerge_FieldNewestWinsUsesRowTimestamp(t *testing.T) {
	source := models.RowOf("title", "local", "body", "local", "updated_at", "2024-02-01T00:00:00Z")
	target := models.RowOf("title", "central", "body", "central", "updated_at", "2024-01-01T00:00:00Z")

	merged, err := Merge(source, target, rules("title", policy.RuleNewestWins), "updated_at")
	require.NoError(t, err)

	title, _ := merged.Get("title")
	body, _ := merged.Get("body")
	assert.Equal(t, "local", title.Str())
	assert.Equal(t, "central", body.Str(), "fields without a rule keep the target value")
	ts, _ := merged.Get("updated_at")
	assert.Equal(t, "2024-01-01T00:00:00Z", ts.Str())

	// target 较新或时间戳不可用时保留 target
	merged, err = Merge(target, source, rules("title", policy.RuleNewestWins), "updated_at")
	require.NoError(t, err)
	title, _ = merged.Get("title")
	assert.Equal(t, "local", title.Str())

	source.Set("updated_at", models.String("bad"))
	merged, err = Merge(source, target, rules("title", policy.RuleNewestWins), "updated_at")
	require.NoError(t, err)
	title, _ = merged.Get("title")
	assert.Equal(t, "central", title.Str())
}

func TestMerge_SourceAndTargetWinsFields(t *testing.T) {
	source := models.RowOf("owner", "alice", "status", "draft", "extra", 1)
	target := models.RowOf("owner", "bob", "status", "published")

	merged, err := Merge(source, target, rules("owner", policy.RuleSourceWins, "status", policy.RuleTargetWins, "missing", policy.RuleSourceWins), "updated_at")
	require.NoError(t, err)

	owner, _ := merged.Get("owner")
	status, _ := merged.Get("status")
	assert.Equal(t, "alice", owner.Str())
	assert.Equal(t, "published", status.Str())
	assert.False(t, merged.Has("extra"))
	assert.False(t, merged.Has("missing"))
	assert.Equal(t, []string{"owner", "status"}, merged.Keys())
}

func TestMerge_RequiresBothRows(t *testing.T) {
	_, err := Merge(nil, models.NewRow(), rules("tags", policy.RuleUnion), "updated_at")
	assert.Error(t, err)
	_, err = Merge(models.NewRow(), nil, rules("tags", policy.RuleUnion), "updated_at")
	assert.Error(t, err)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	source := models.RowOf("tags", []string{"a"})
	target := models.RowOf("tags", []string{"b"})

	_, err := Merge(source, target, rules("tags", policy.RuleAppend), "updated_at")
	require.NoError(t, err)
	assert.True(t, target.Equal(models.RowOf("tags", []string{"b"})))
	assert.True(t, source.Equal(models.RowOf("tags", []string{"a"})))
}
