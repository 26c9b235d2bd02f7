package harvest

import (
	"context"
	"iter"
	"sync"

	"github.com/JakeFAU/journal-harvester/internal/crawler"
	"github.com/JakeFAU/journal-harvester/internal/oaipmh"
)

type fakeCatalogue struct {
	mu    sync.Mutex
	calls int
	sets  []oaipmh.Set
	err   error
}

func (f *fakeCatalogue) ListSets(context.Context) ([]oaipmh.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.sets, f.err
}

type fakeIdentifiers struct {
	ids []string
	err error
}

func (f fakeIdentifiers) ListIdentifiers(context.Context, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, id := range f.ids {
			if !yield(id, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

type fakeRecords struct {
	records map[string]oaipmh.Record
	err     error
}

func (f fakeRecords) GetRecord(_ context.Context, id string) (oaipmh.Record, error) {
	if f.err != nil {
		return oaipmh.Record{}, f.err
	}
	return f.records[id], nil
}

// fetchFunc adapts a function to crawler.Fetcher.
type fetchFunc func(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error)

func (f fetchFunc) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return f(ctx, req)
}
