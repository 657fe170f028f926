package app

import (
	"context"

	"transcript-rag/internal/logging"
)

const defaultMinHostVideos = 5

type MetadataStore interface {
	DistinctShowNames(ctx context.Context) ([]string, error)
	FrequentHosts(ctx context.Context, minVideos int) ([]string, error)
}

type CatalogCache interface {
	GetCatalog(ctx context.Context) (*Catalog, bool, error)
	SetCatalog(ctx context.Context, catalog Catalog) error
}

type MetadataService struct {
	store         MetadataStore
	cache         CatalogCache
	minHostVideos int
}

func NewMetadataService(store MetadataStore, cache CatalogCache, minHostVideos int) *MetadataService {
	if minHostVideos <= 0 {
		minHostVideos = defaultMinHostVideos
	}
	return &MetadataService{store: store, cache: cache, minHostVideos: minHostVideos}
}

// Catalog returns the show names in the vector store and the hosts who
// appear in at least minHostVideos distinct videos.
func (s *MetadataService) Catalog(ctx context.Context) (*Catalog, error) {
	logger := logging.From(ctx)
	if s.cache != nil {
		cached, ok, err := s.cache.GetCatalog(ctx)
		if err != nil {
			logger.Warn("metadata cache read failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	shows, err := s.store.DistinctShowNames(ctx)
	if err != nil {
		return nil, upstream("metadata", "show_name", err)
	}
	hosts, err := s.store.FrequentHosts(ctx, s.minHostVideos)
	if err != nil {
		return nil, upstream("metadata", "hosts", err)
	}
	catalog := Catalog{Shows: nonNil(shows), Hosts: nonNil(hosts)}

	if s.cache != nil {
		if err := s.cache.SetCatalog(ctx, catalog); err != nil {
			logger.Warn("metadata cache write failed", "error", err)
		}
	}
	return &catalog, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
