// internal/catalog/sources.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pizzapalace/internal/logger"
)

// Unified catalog structure for catalog.json
type catalogFile struct {
	Products []Product `json:"products"`
}

// FileSource reads the unified catalog file. Unavailable products are
// skipped.
type FileSource struct {
	Path string
}

func (f FileSource) LoadCatalog(ctx context.Context) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	logger.LogInfo("Loading catalog from unified file: %s", f.Path)

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read catalog file: %v", ErrCatalogUnavailable, err)
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog file: %v", ErrCatalogUnavailable, err)
	}

	products := make([]Product, 0, len(file.Products))
	for _, p := range file.Products {
		if !p.Available {
			continue
		}
		if p.ID == "" || p.BasePrice.IsNegative() {
			logger.LogWarn("Skipping invalid catalog entry %q (%s)", p.ID, p.Name)
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// remotePizza is one entry of the remote menu feed.
type remotePizza struct {
	ID              json.RawMessage `json:"id"`
	Name            string          `json:"name"`
	MenuDescription string          `json:"menu_description"`
	Price           decimal.Decimal `json:"price"`
	Assets          struct {
		ProductDetailsPage []struct {
			URL string `json:"url"`
		} `json:"product_details_page"`
	} `json:"assets"`
}

// HTTPSource fetches the remote menu feed, a JSON object of pizza groups
// such as {"Vegetarian": [...]}. Each group becomes customizable pizzas
// whose type is the lower-cased group name. It is never retried.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTPSource) LoadCatalog(ctx context.Context) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", ErrCatalogUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request to %s failed: %v", ErrCatalogUnavailable, h.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned HTTP %d: %s", ErrCatalogUnavailable, h.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var groups map[string][]remotePizza
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("%w: failed to decode menu: %v", ErrCatalogUnavailable, err)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var products []Product
	for _, group := range names {
		for _, rp := range groups[group] {
			id := rawID(rp.ID)
			if id == "" || rp.Price.IsNegative() {
				logger.LogWarn("Skipping invalid remote menu entry %q in %s", rp.Name, group)
				continue
			}
			p := Product{
				ID:           id,
				Name:         rp.Name,
				Description:  rp.MenuDescription,
				BasePrice:    rp.Price,
				Category:     "pizzas",
				Type:         strings.ToLower(group),
				Customizable: true,
				Available:    true,
			}
			if len(rp.Assets.ProductDetailsPage) > 0 {
				p.Image = rp.Assets.ProductDetailsPage[0].URL
			}
			products = append(products, p)
		}
	}

	logger.LogInfo("Fetched %d products from remote menu %s", len(products), h.URL)
	return products, nil
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

// MultiSource concatenates several sources in order. Any failure fails the
// whole load.
type MultiSource []Source

func (m MultiSource) LoadCatalog(ctx context.Context) ([]Product, error) {
	var all []Product
	for _, src := range m {
		products, err := src.LoadCatalog(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, products...)
	}
	return all, nil
}
