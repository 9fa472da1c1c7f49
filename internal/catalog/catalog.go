// internal/catalog/catalog.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pizzapalace/internal/cart"
	"pizzapalace/internal/logger"
)

var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Categories in menu display order.
var Categories = []string{"pizzas", "sides", "beverages", "desserts", "combos"}

// Sort orders accepted by Sort.
const (
	SortByName      = "name"
	SortByPriceLow  = "price-low"
	SortByPriceHigh = "price-high"
)

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Image        string          `json:"image,omitempty"`
	Category     string          `json:"category"`
	Type         string          `json:"type,omitempty"`
	Customizable bool            `json:"customizable"`
	Available    bool            `json:"available"`
}

// CartProduct copies the fields a cart line keeps.
func (p Product) CartProduct() cart.Product {
	return cart.Product{
		ID:        p.ID,
		Name:      p.Name,
		Image:     p.Image,
		Category:  p.Category,
		BasePrice: p.BasePrice,
	}
}

// QuickAddCustomizations is what a one-click add uses: a medium thin-crust
// pizza with no toppings, or nothing for other products.
func (p Product) QuickAddCustomizations() cart.Customizations {
	if !p.Customizable {
		return cart.Customizations{}
	}
	return cart.Customizations{Size: "medium", Crust: "thin"}
}

// Source loads the full product list. Failures wrap ErrCatalogUnavailable.
type Source interface {
	LoadCatalog(ctx context.Context) ([]Product, error)
}

// Service caches the catalog in memory.
type Service struct {
	source Source

	products []Product
	byID     map[string]Product

	// Cache management
	lastLoaded time.Time
	mutex      sync.RWMutex
}

func NewService(source Source) *Service {
	return &Service{
		source: source,
		byID:   make(map[string]Product),
	}
}

// Load replaces the cache from the source. On failure the previous catalog
// is kept and the error returned.
func (s *Service) Load(ctx context.Context) error {
	products, err := s.source.LoadCatalog(ctx)
	if err != nil {
		if !errors.Is(err, ErrCatalogUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		return err
	}

	byID := make(map[string]Product, len(products))
	kept := make([]Product, 0, len(products))
	for _, p := range products {
		if _, dup := byID[p.ID]; dup {
			logger.LogWarn("Duplicate catalog product %s ignored", p.ID)
			continue
		}
		byID[p.ID] = p
		kept = append(kept, p)
	}

	s.mutex.Lock()
	s.products = kept
	s.byID = byID
	s.lastLoaded = time.Now()
	s.mutex.Unlock()

	logger.LogInfo("Successfully loaded catalog: %d products", len(kept))
	return nil
}

func (s *Service) Products() []Product {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]Product(nil), s.products...)
}

func (s *Service) Get(id string) (Product, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// Query applies a category filter, a search and a sort order in turn.
// An empty or "all" category keeps every product; search matches name and
// description ignoring case.
func (s *Service) Query(category, query, sortBy string) []Product {
	return Sort(search(filterCategory(s.Products(), category), query), sortBy)
}

// ByCategory groups the catalog under each menu category.
func (s *Service) ByCategory() map[string][]Product {
	products := s.Products()
	groups := make(map[string][]Product, len(Categories))
	for _, c := range Categories {
		groups[c] = []Product{}
	}
	for _, p := range products {
		if _, ok := groups[p.Category]; ok {
			groups[p.Category] = append(groups[p.Category], p)
		}
	}
	return groups
}

// Check if cache needs refresh
func (s *Service) IsStale(maxAge time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastLoaded) > maxAge
}

// Get cache age for debugging
func (s *Service) CacheAge() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastLoaded)
}

// Sort returns a sorted copy. Unknown orders keep the input order.
func Sort(products []Product, by string) []Product {
	out := append([]Product(nil), products...)
	switch by {
	case SortByName:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
	case SortByPriceLow:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].BasePrice.LessThan(out[j].BasePrice)
		})
	case SortByPriceHigh:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].BasePrice.GreaterThan(out[j].BasePrice)
		})
	}
	return out
}

func filterCategory(products []Product, category string) []Product {
	if category == "" || category == "all" {
		return products
	}
	var out []Product
	for _, p := range products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

func search(products []Product, query string) []Product {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return products
	}
	var out []Product
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), query) ||
			strings.Contains(strings.ToLower(p.Description), query) {
			out = append(out, p)
		}
	}
	return out
}
