package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&Prompt{ID: "greet", Version: V1, Content: "hi"})
	r.Register(nil)

	p, err := r.Get("greet", V1)
	require.NoError(t, err)
	assert.Equal(t, "hi", p.Content)

	_, err = r.Get("greet", "9.9.9")
	assert.Error(t, err)
	_, err = r.Get("missing", V1)
	assert.Error(t, err)
}

func TestRegistryGetLatest(t *testing.T) {
	r := NewRegistry()
	r.Register(&Prompt{ID: "p", Version: "2.0.0", Content: "two"})
	r.Register(&Prompt{ID: "p", Version: "10.0.0", Content: "ten", Deprecated: true})
	r.Register(&Prompt{ID: "p", Version: "1.0.0", Content: "one"})

	p, err := r.GetLatest("p")
	require.NoError(t, err)
	assert.Equal(t, "two", p.Content)

	r.Register(&Prompt{ID: "q", Version: "1.0.0", Deprecated: true, Content: "old"})
	r.Register(&Prompt{ID: "q", Version: "1.2.0", Deprecated: true, Content: "newer"})
	p, err = r.GetLatest("q")
	require.NoError(t, err)
	assert.Equal(t, "newer", p.Content)

	_, err = r.GetLatest("none")
	assert.Error(t, err)
	assert.Equal(t, []string{"p", "q"}, r.IDs())
}

func TestBuilder(t *testing.T) {
	r := NewRegistry()
	r.Register(&Prompt{ID: "p", Version: V1, Content: "Reader is {{age}}."})

	b, err := NewBuilder(r, "p", V1)
	require.NoError(t, err)
	out, err := b.Set("age", "{{x}}").AddFragment("Be brief.").AddFragment("  ").Build()
	require.NoError(t, err)
	assert.Equal(t, "Reader is {{x}}.\n\nBe brief.", out)

	b, err = NewBuilder(r, "p", V1)
	require.NoError(t, err)
	_, err = b.Build()
	assert.ErrorContains(t, err, "{{age}}")

	_, err = NewBuilder(r, "nope", V1)
	assert.Error(t, err)
}

func TestAnswerPromptsRegistered(t *testing.T) {
	b, err := NewBuilder(DefaultRegistry(), AnswerArticle, V1)
	require.NoError(t, err)
	out, err := b.Set("min_references", "3").Set("age", "9").Set("experience", "3rd grade").Build()
	require.NoError(t, err)
	assert.Contains(t, out, "at least 3 sources")
	assert.Contains(t, out, "9 years old")
	assert.NotContains(t, out, "{{")

	_, err = DefaultRegistry().Get(AnswerRepair, V1)
	require.NoError(t, err)
}
