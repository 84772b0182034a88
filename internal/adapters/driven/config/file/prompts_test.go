package file

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

func TestPromptStore_ImplementsInterface(t *testing.T) {
	var _ driven.PromptStore = (*PromptStore)(nil)
}

func TestNewPromptStore_DefaultDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	store, err := NewPromptStore("")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".deskrag", "prompts"), store.Dir())
}

func TestDefaultPrompts_Placeholders(t *testing.T) {
	tests := []struct {
		name         string
		placeholders int
	}{
		{driven.PromptCardSystem, 0},
		{driven.PromptCardUser, 2},
		{driven.PromptClaimVerdict, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, ok := DefaultPrompt(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.placeholders, strings.Count(prompt, "%s"))
		})
	}
}

func TestPromptStore_Load_CreatesDefaultFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	_, err = store.Load(driven.PromptCardSystem)
	require.NoError(t, err)

	for _, f := range []string{"card_system.txt", "card_user.txt", "claim_verdict.txt", "README.md"} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, "expected file %s to exist", f)
	}
}

func TestPromptStore_Load_ReturnsCustomContent(t *testing.T) {
	dir := t.TempDir()
	custom := "Analyst query: %s\n\n%s"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card_user.txt"), []byte(custom), 0600))

	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	prompt, err := store.Load(driven.PromptCardUser)
	require.NoError(t, err)
	assert.Equal(t, custom, prompt)

	// Init must not overwrite the custom file.
	data, err := os.ReadFile(filepath.Join(dir, "card_user.txt"))
	require.NoError(t, err)
	assert.Equal(t, custom, string(data))
}

func TestPromptStore_Load_FallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	_, _ = store.Load(driven.PromptClaimVerdict)
	require.NoError(t, os.Remove(filepath.Join(dir, "claim_verdict.txt")))
	store.Reload()

	prompt, err := store.Load(driven.PromptClaimVerdict)
	require.NoError(t, err)
	want, _ := DefaultPrompt(driven.PromptClaimVerdict)
	assert.Equal(t, want, prompt)
}

func TestPromptStore_Load_UnknownPrompt(t *testing.T) {
	store, err := NewPromptStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("nonexistent_prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent_prompt")
}

func TestPromptStore_CacheAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	first, err := store.Load(driven.PromptCardSystem)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "card_system.txt"), []byte("  edited  \n"), 0600))

	cached, err := store.Load(driven.PromptCardSystem)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	store.Reload()
	reloaded, err := store.Load(driven.PromptCardSystem)
	require.NoError(t, err)
	assert.Equal(t, "edited", reloaded)
}

func TestPromptStore_Load_ConcurrentAccess(t *testing.T) {
	store, err := NewPromptStore(t.TempDir())
	require.NoError(t, err)

	const goroutines = 50
	var wg sync.WaitGroup
	results := make([]string, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt, err := store.Load(driven.PromptCardUser)
			assert.NoError(t, err)
			results[i] = prompt
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}
