package cache

import (
	"strings"
	"time"
)

const defaultProductTTL = 10 * time.Minute

// ProductEntry is the hot-path view of a catalog row.
type ProductEntry struct {
	ID    int64
	SKU   string
	Name  string
	Price string
}

// CatalogCache stores SKU lookups so repeated line items skip the database.
type CatalogCache interface {
	GetProduct(sku string) (ProductEntry, bool)
	SetProduct(sku string, product ProductEntry)
	InvalidateProduct(sku string)
}

type catalogCache struct {
	products Cache[string, ProductEntry]
	ttl      time.Duration
}

// NewCatalogCache returns an in-memory cache tuned for checkout creation.
func NewCatalogCache() CatalogCache {
	return &catalogCache{
		products: NewTTLCache[string, ProductEntry](),
		ttl:      defaultProductTTL,
	}
}

func (c *catalogCache) GetProduct(sku string) (ProductEntry, bool) {
	return c.products.Get(cacheKey(sku))
}

func (c *catalogCache) SetProduct(sku string, product ProductEntry) {
	if product.ID == 0 {
		return
	}
	c.products.Set(cacheKey(sku), product, c.ttl)
}

func (c *catalogCache) InvalidateProduct(sku string) {
	c.products.Delete(cacheKey(sku))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
