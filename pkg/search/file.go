package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// FileProvider serves results from a local JSON file. The file holds either
// a list of results, returned for every query, or an object mapping queries
// to result lists, with "*" as the catch-all.
type FileProvider struct {
	Path string

	once    sync.Once
	byQuery map[string][]Result
	all     []Result
	err     error
}

func (f *FileProvider) Name() string { return "file" }

func (f *FileProvider) load() {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		f.err = fmt.Errorf("read search file: %w", err)
		return
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &f.all); err != nil {
			f.err = fmt.Errorf("decode search file: %w", err)
		}
		return
	}
	if err := json.Unmarshal(data, &f.byQuery); err != nil {
		f.err = fmt.Errorf("decode search file: %w", err)
	}
}

func (f *FileProvider) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.once.Do(f.load)
	if f.err != nil {
		return nil, f.err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	results := f.all
	if f.byQuery != nil {
		var ok bool
		if results, ok = f.byQuery[query]; !ok {
			results = f.byQuery["*"]
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]Result, len(results))
	copy(out, results)
	for i := range out {
		if out[i].Source == "" {
			out[i].Source = f.Name()
		}
	}
	return out, nil
}
