// Package runtime holds the in-process plumbing shared by sessions:
// change notification between stores and watchers, and word-list loading.
package runtime

import (
	"bufio"
	"bytes"
	"chat-core/errors"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// CensoredData is the merged content of every word list found.
type CensoredData struct {
	Words     []string
	Languages []string
}

// CensoredLoader reads moderation word lists, one `<lang>.txt` file per language.
type CensoredLoader struct {
	fsys fs.FS
}

func NewCensoredLoader(fsys fs.FS) *CensoredLoader {
	return &CensoredLoader{fsys: fsys}
}

// LoadAll merges the .txt files of dir into a sorted list of unique words.
func (l *CensoredLoader) LoadAll(dir string) (*CensoredData, error) {
	entries, err := fs.ReadDir(l.fsys, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	uniqueWords := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(l.fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		// ⚠️Don't use strings.Split, files may come with \r\n
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				uniqueWords[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(uniqueWords) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(uniqueWords))
	for w := range uniqueWords {
		words = append(words, w)
	}
	sort.Strings(words)

	return &CensoredData{Words: words, Languages: languages}, nil
}
