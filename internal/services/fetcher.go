package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"gorm.io/gorm"
)

// FeedFetcher retrieves raw items from an external feed. Implementations
// are responsible for SSRF-safe URL validation before any network call.
type FeedFetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]RawItem, error)
}

// ValidateFeedURL rejects non-http(s) schemes and URLs resolving to
// private, loopback or link-local address ranges.
func ValidateFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("feed url has no host")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("cannot resolve feed host %q: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("feed host %q resolves to a blocked address range (%s)", host, ip)
		}
	}
	return nil
}

// HTTPFeedFetcher fetches a JSON array of items over HTTP.
type HTTPFeedFetcher struct {
	client *http.Client
}

func NewHTTPFeedFetcher(timeout time.Duration) *HTTPFeedFetcher {
	return &HTTPFeedFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFeedFetcher) Fetch(ctx context.Context, sourceURL string) ([]RawItem, error) {
	if err := ValidateFeedURL(sourceURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var items []RawItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("feed body is not an item array: %w", err)
	}
	return items, nil
}

// FetchService polls active sources and ingests new items. Only the lease
// holder runs the loop; non-holders must not touch external feeds.
type FetchService struct {
	db      *gorm.DB
	fetcher FeedFetcher
	content *ContentService
	lease   *LeaseService

	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewFetchService(db *gorm.DB, fetcher FeedFetcher, content *ContentService, lease *LeaseService, interval time.Duration) *FetchService {
	return &FetchService{
		db:       db,
		fetcher:  fetcher,
		content:  content,
		lease:    lease,
		interval: interval,
	}
}

// FetchAll polls every active source once. Failures are recorded per
// source with a consecutive-failure counter; one broken feed never stops
// the others.
func (s *FetchService) FetchAll(ctx context.Context) {
	var sources []models.FeedSource
	if err := s.db.Where("is_active = ?", true).Find(&sources).Error; err != nil {
		logger.Errorf("[Fetch] failed to list sources: %v", err)
		return
	}

	for i := range sources {
		s.fetchOne(ctx, &sources[i])
	}
}

func (s *FetchService) fetchOne(ctx context.Context, source *models.FeedSource) {
	now := time.Now()
	items, err := s.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		logger.Warn().Err(err).Str("source", source.Name).Int("consecutive_failures", source.ConsecutiveFailures+1).Msg("feed fetch failed")
		s.db.Model(source).Updates(map[string]interface{}{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"last_error":           err.Error(),
			"last_fetched_at":      now,
		})
		return
	}

	created, err := s.content.Ingest(source.ID, items)
	if err != nil {
		logger.Errorf("[Fetch] ingest failed for source %d: %v", source.ID, err)
		s.db.Model(source).Updates(map[string]interface{}{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"last_error":           err.Error(),
			"last_fetched_at":      now,
		})
		return
	}

	s.db.Model(source).Updates(map[string]interface{}{
		"consecutive_failures": 0,
		"last_error":           "",
		"last_fetched_at":      now,
		"last_success_at":      now,
	})
	if created > 0 {
		logger.Info().Str("source", source.Name).Int("new_items", created).Msg("feed items ingested")
	}
}

// Start runs the polling loop until Stop.
func (s *FetchService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if !s.lease.Held() {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				s.FetchAll(ctx)
				cancel()
			}
		}
	}()
	logger.Infof("[Fetch] loop started, interval: %v", s.interval)
}

// Stop halts the polling loop.
func (s *FetchService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
}
