package bunny

import (
	"context"

	"go.uber.org/zap"
)

// ============================================================================
// Keyset-paginated collection
// ============================================================================

// Direction selects the edge a Paginator grows from.
type Direction int

const (
	// Forward appends each page after the last loaded item. The cursor is
	// the key of the last item.
	Forward Direction = iota
	// Backward prepends each page before the first loaded item. Pages are
	// received newest first and reversed before merging. The cursor is the
	// key of the first item.
	Backward
)

// FetchFunc loads one page. cursor is empty for the first page.
type FetchFunc[T any] func(ctx context.Context, cursor string, limit int) ([]T, error)

// PageState is a snapshot of a paginated collection.
type PageState[T any] struct {
	Items     []T
	Loading   bool
	Exhausted bool
}

// PaginatorOptions configures a Paginator.
type PaginatorOptions[T any] struct {
	Direction Direction
	// Identity returns the dedupe key of an item. Nil disables dedupe.
	Identity func(T) string
	// AfterFetch runs on every fetched page before it is merged.
	AfterFetch func(ctx context.Context, page []T) []T
	Logger     *zap.Logger
}

// Paginator exposes a single "load next page" operation over a growing,
// ordered collection.
type Paginator[T any] struct {
	state      *Value[PageState[T]]
	fetch      FetchFunc[T]
	limit      int
	key        func(T) string
	direction  Direction
	identity   func(T) string
	afterFetch func(context.Context, []T) []T
	logger     *zap.Logger

	// bumped by Reset; fetches started under an older generation are dropped
	generation uint64
}

// NewPaginator creates a Paginator fetching limit items per page. key
// returns the keyset pagination field of an item.
func NewPaginator[T any](limit int, key func(T) string, fetch FetchFunc[T], opts *PaginatorOptions[T]) *Paginator[T] {
	p := &Paginator[T]{
		state:  NewValue(PageState[T]{}),
		fetch:  fetch,
		limit:  limit,
		key:    key,
		logger: zap.NewNop(),
	}
	if opts != nil {
		p.direction = opts.Direction
		p.identity = opts.Identity
		p.afterFetch = opts.AfterFetch
		if opts.Logger != nil {
			p.logger = opts.Logger
		}
	}
	return p
}

// LoadMore fetches the next page and merges it into the collection. It is a
// no-op returning (0, nil) while another fetch is in flight or once the
// collection is exhausted. It returns the number of items added.
//
// A page shorter than the limit marks the collection exhausted. On error
// the loading flag is cleared, exhaustion is left untouched and the error
// is returned.
func (p *Paginator[T]) LoadMore(ctx context.Context) (int, error) {
	var (
		cursor  string
		started bool
		gen     uint64
	)
	p.state.Update(func(s PageState[T]) (PageState[T], bool) {
		if s.Loading || s.Exhausted {
			return s, false
		}
		started = true
		gen = p.generation
		if n := len(s.Items); n > 0 {
			edge := s.Items[n-1]
			if p.direction == Backward {
				edge = s.Items[0]
			}
			cursor = p.key(edge)
		}
		s.Loading = true
		return s, true
	})
	if !started {
		return 0, nil
	}

	released := false
	defer func() {
		if !released {
			p.release(gen)
		}
	}()

	page, err := p.fetch(ctx, cursor, p.limit)
	if err != nil {
		p.logger.Debug("page fetch failed", zap.String("cursor", cursor), zap.Error(err))
		return 0, err
	}
	exhausted := len(page) < p.limit
	if p.afterFetch != nil {
		page = p.afterFetch(ctx, page)
	}

	added := 0
	p.state.Update(func(s PageState[T]) (PageState[T], bool) {
		if p.generation != gen {
			return s, false
		}
		if p.direction == Backward {
			s.Items, added = p.prepend(s.Items, page)
		} else {
			s.Items, added = p.append(s.Items, page)
		}
		if exhausted {
			s.Exhausted = true
		}
		s.Loading = false
		return s, true
	})
	released = true
	p.logger.Debug("page loaded",
		zap.String("cursor", cursor),
		zap.Int("fetched", len(page)),
		zap.Int("added", added),
		zap.Bool("exhausted", exhausted),
	)
	return added, nil
}

func (p *Paginator[T]) release(gen uint64) {
	p.state.Update(func(s PageState[T]) (PageState[T], bool) {
		if p.generation != gen || !s.Loading {
			return s, false
		}
		s.Loading = false
		return s, true
	})
}

// Append merges items at the tail of the collection, skipping items whose
// identity is already present. It returns the number of items added.
func (p *Paginator[T]) Append(items ...T) int {
	added := 0
	p.state.Update(func(s PageState[T]) (PageState[T], bool) {
		s.Items, added = p.append(s.Items, items)
		return s, added > 0
	})
	return added
}

// UpdateItems replaces the items with the result of fn.
func (p *Paginator[T]) UpdateItems(fn func([]T) []T) {
	p.state.Update(func(s PageState[T]) (PageState[T], bool) {
		s.Items = fn(append([]T(nil), s.Items...))
		return s, true
	})
}

// Reset empties the collection and clears exhaustion. A fetch in flight
// when Reset is called is discarded on completion.
func (p *Paginator[T]) Reset() {
	p.state.Update(func(s PageState[T]) (PageState[T], bool) {
		p.generation++
		return PageState[T]{}, true
	})
}

// Contains reports whether an item with the given identity is loaded.
func (p *Paginator[T]) Contains(id string) bool {
	if p.identity == nil {
		return false
	}
	for _, it := range p.state.Get().Items {
		if p.identity(it) == id {
			return true
		}
	}
	return false
}

// State returns the current snapshot.
func (p *Paginator[T]) State() PageState[T] { return p.state.Get() }

// Items returns the loaded items.
func (p *Paginator[T]) Items() []T { return p.state.Get().Items }

// Len returns the number of loaded items.
func (p *Paginator[T]) Len() int { return len(p.state.Get().Items) }

// Last returns the last loaded item.
func (p *Paginator[T]) Last() (T, bool) {
	items := p.state.Get().Items
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[len(items)-1], true
}

// Subscribe registers fn for every state change.
func (p *Paginator[T]) Subscribe(fn func(PageState[T])) (cancel func()) {
	return p.state.Subscribe(fn)
}

func (p *Paginator[T]) append(items, page []T) ([]T, int) {
	fresh := p.unseen(items, page)
	if len(fresh) == 0 {
		return items, 0
	}
	out := make([]T, 0, len(items)+len(fresh))
	out = append(out, items...)
	out = append(out, fresh...)
	return out, len(fresh)
}

func (p *Paginator[T]) prepend(items, page []T) ([]T, int) {
	reversed := make([]T, len(page))
	for i, it := range page {
		reversed[len(page)-1-i] = it
	}
	fresh := p.unseen(items, reversed)
	if len(fresh) == 0 {
		return items, 0
	}
	out := make([]T, 0, len(items)+len(fresh))
	out = append(out, fresh...)
	out = append(out, items...)
	return out, len(fresh)
}

// unseen filters page down to items not present in items nor repeated
// earlier in page.
func (p *Paginator[T]) unseen(items, page []T) []T {
	if p.identity == nil {
		return page
	}
	seen := make(map[string]struct{}, len(items)+len(page))
	for _, it := range items {
		seen[p.identity(it)] = struct{}{}
	}
	out := make([]T, 0, len(page))
	for _, it := range page {
		id := p.identity(it)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, it)
	}
	return out
}
