package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tesselslate/scxhetero/internal/model"
)

type fakeMatcher struct {
	match func(exe, comm string, appID *uint64) (string, bool)
}

func (f fakeMatcher) Match(exe, comm string, appID *uint64) (string, bool) {
	return f.match(exe, comm, appID)
}

func TestClassifyOneProfileMatchWinsOverPatterns(t *testing.T) {
	matcher := fakeMatcher{match: func(exe, comm string, appID *uint64) (string, bool) {
		return "csgo", true
	}}
	class, ok := classifyOne([]string{"/usr/bin/ollama", "serve"}, "ollama", matcher)
	require.True(t, ok)
	require.Equal(t, model.ClassGaming, class)
}

func TestClassifyOneMatchesAIPattern(t *testing.T) {
	class, ok := classifyOne([]string{"/usr/bin/ollama", "serve"}, "ollama", nil)
	require.True(t, ok)
	require.Equal(t, model.ClassAI, class)
}

func TestClassifyOneMatchesBatchPattern(t *testing.T) {
	class, ok := classifyOne([]string{"/usr/bin/rustc", "--crate-type", "bin"}, "rustc", nil)
	require.True(t, ok)
	require.Equal(t, model.ClassBatch, class)
}

func TestClassifyOneNoMatchReturnsFalse(t *testing.T) {
	_, ok := classifyOne([]string{"/usr/bin/bash"}, "bash", nil)
	require.False(t, ok)
}

func TestClassifyOneNilProfileMatcherDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		classifyOne([]string{"/usr/bin/bash"}, "bash", nil)
	})
}
