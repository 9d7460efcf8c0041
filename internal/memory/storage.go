package memory

import (
	"context"
	"time"
)

// Filter is an all-of predicate over fragment attributes. Nil pointer fields
// do not constrain. Tags match any-of by default; TagsAll switches to all-of.
type Filter struct {
	Namespace    string   `json:"namespace,omitempty"`
	Type         string   `json:"type,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	TagsAll      bool     `json:"tags_all,omitempty"`
	MinRelevance float64  `json:"min_relevance,omitempty"`
	IsArchived   *bool    `json:"is_archived,omitempty"`
	IsPinned     *bool    `json:"is_pinned,omitempty"`
}

// SearchResult pairs a fragment with its raw similarity and composite rank.
type SearchResult struct {
	Fragment   *Fragment `json:"fragment"`
	Similarity float64   `json:"similarity"`
	FinalScore float64   `json:"final_score"`
}

// Storage is the capability set every memory adapter provides.
type Storage interface {
	Initialize(ctx context.Context) error

	Write(ctx context.Context, frag *Fragment) error
	BulkWrite(ctx context.Context, frags []*Fragment) error
	Read(ctx context.Context, id string) (*Fragment, error)
	BulkRead(ctx context.Context, ids []string) ([]*Fragment, error)
	Delete(ctx context.Context, id string) (bool, error)

	Query(ctx context.Context, filter Filter) ([]*Fragment, error)
	SearchByVector(ctx context.Context, query []float32, topK int, filter *Filter, threshold float64) ([]SearchResult, error)
	Count(ctx context.Context, filter Filter) (int, error)

	ExportAll(ctx context.Context) ([][]byte, error)
	ImportAll(ctx context.Context, docs [][]byte) (int, error)

	IsAvailable(ctx context.Context) bool
	Close() error
}

// matchesFilter applies the all-of predicate to one fragment. Expired
// fragments never match.
func matchesFilter(f *Fragment, filter Filter, now time.Time) bool {
	if f.expired(now) {
		return false
	}
	if filter.Namespace != "" && f.Namespace != filter.Namespace {
		return false
	}
	if filter.Type != "" && f.Type != filter.Type {
		return false
	}
	if f.Relevance < filter.MinRelevance {
		return false
	}
	if filter.IsArchived != nil && f.IsArchived != *filter.IsArchived {
		return false
	}
	if filter.IsPinned != nil && f.IsPinned != *filter.IsPinned {
		return false
	}
	if len(filter.Tags) > 0 {
		have := make(map[string]bool, len(f.Tags))
		for _, t := range f.Tags {
			have[t] = true
		}
		if filter.TagsAll {
			for _, t := range filter.Tags {
				if !have[t] {
					return false
				}
			}
		} else {
			any := false
			for _, t := range filter.Tags {
				if have[t] {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		}
	}
	return true
}
