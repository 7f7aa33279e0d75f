package runtime_test

import (
	"chat-core/errors"
	"chat-core/runtime"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestCensoredLoader_LoadAll(t *testing.T) {
	req := require.New(t)

	// Given two word lists sharing a word, with windows line endings and noise
	fsys := fstest.MapFS{
		"censored/en.txt":    {Data: []byte("badger\r\nsnake\r\n\r\n")},
		"censored/fr.txt":    {Data: []byte("# mots\n  blaireau \nbadger\n")},
		"censored/README.md": {Data: []byte("not a list")},
		"censored/old/x.txt": {Data: []byte("ignored")},
	}

	// When loading the directory
	data, err := runtime.NewCensoredLoader(fsys).LoadAll("censored")

	// Then words are merged, trimmed and deduplicated
	req.NoError(err)
	req.Equal([]string{"badger", "blaireau", "snake"}, data.Words)
	req.ElementsMatch([]string{"en", "fr"}, data.Languages)
}

func TestCensoredLoader_Empty(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"censored/en.txt": {Data: []byte("\n\n")},
	}

	_, err := runtime.NewCensoredLoader(fsys).LoadAll("censored")
	req.ErrorIs(err, errors.ErrEmptyWords)
}

func TestCensoredLoader_Missing_Directory(t *testing.T) {
	req := require.New(t)

	_, err := runtime.NewCensoredLoader(fstest.MapFS{}).LoadAll("censored")
	req.Error(err)
}
