package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/firm-audit/pkg/firm"
	"github.com/Sternrassler/firm-audit/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "firm_audit_listing_pages_total",
	Help: "Total number of listing pages fetched",
})

// ListingPath is the registry's listing endpoint.
const ListingPath = "/api/firms/"

// DefaultPageSize is the number of firms requested per page.
const DefaultPageSize = 500

// Config holds paginator configuration.
type Config struct {
	// BaseURL of the registry (e.g., "https://gtixt.com")
	BaseURL string

	// PageSize is the number of rows requested per page
	PageSize int

	// Limit caps the number of firms returned; 0 means no cap
	Limit int
}

// DefaultConfig returns the default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:  baseURL,
		PageSize: DefaultPageSize,
	}
}

// JSONFetcher fetches a URL and decodes its JSON body into v.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, rawURL string, v any) error
}

// Page is one decoded listing response.
type Page struct {
	Firms []map[string]any `json:"firms"`
	Total *json.Number     `json:"total,omitempty"`
}

// total returns the server-reported total, or 0 when absent or unusable.
func (p *Page) total() int {
	if p.Total == nil {
		return 0
	}
	n, err := p.Total.Int64()
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}

// Paginator walks the listing endpoint sequentially.
type Paginator struct {
	fetcher JSONFetcher
	config  Config
	logger  zerolog.Logger
}

// NewPaginator creates a new paginator.
func NewPaginator(fetcher JSONFetcher, config Config) *Paginator {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.Limit < 0 {
		config.Limit = 0
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Paginator{
		fetcher: fetcher,
		config:  config,
		logger:  logging.NewLogger("paginator"),
	}
}

// PageURL builds the listing URL for one page.
func PageURL(baseURL string, limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return strings.TrimRight(baseURL, "/") + ListingPath + "?" + q.Encode()
}

// ListAll returns every firm in server order. Rows are not de-duplicated:
// a firm repeated across overlapping pages appears once per occurrence.
func (p *Paginator) ListAll(ctx context.Context) ([]firm.Summary, error) {
	start := time.Now()
	var all []firm.Summary
	offset := 0
	pages := 0

	for {
		pageSize := p.config.PageSize
		if p.config.Limit > 0 {
			remaining := p.config.Limit - len(all)
			if remaining <= 0 {
				break
			}
			if remaining < pageSize {
				pageSize = remaining
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("listing cancelled at offset %d: %w", offset, err)
		}

		var page Page
		pageURL := PageURL(p.config.BaseURL, pageSize, offset)
		if err := p.fetcher.FetchJSON(ctx, pageURL, &page); err != nil {
			return nil, fmt.Errorf("fetch listing page at offset %d: %w", offset, err)
		}
		pages++
		pagesFetchedTotal.Inc()

		if len(page.Firms) == 0 {
			break
		}

		for _, raw := range page.Firms {
			all = append(all, firm.NewSummary(raw))
		}
		offset += len(page.Firms)

		total := page.total()
		p.logger.Debug().
			Int("offset", offset).
			Int("page_size", pageSize).
			Int("received", len(page.Firms)).
			Int("total", total).
			Msg("Listing page fetched")

		if total > 0 && len(all) >= total {
			break
		}
	}

	// A server that ignores limit may overshoot the cap on the last page
	if p.config.Limit > 0 && len(all) > p.config.Limit {
		all = all[:p.config.Limit]
	}

	p.logger.Info().
		Int("firms", len(all)).
		Int("pages", pages).
		Dur("duration", time.Since(start)).
		Msg("Listing complete")

	return all, nil
}
