package billing

import "time"

// Product is a sellable item known to the pricing backend
type Product struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
	// PriceRef is the backend's own identifier for the price of the product
	PriceRef string `json:"price_ref"`
	// Region is the backend region key, empty for products sold everywhere
	Region string `json:"region,omitempty"`
}

// Catalog is the pricing backend's product list, fetched once per run
type Catalog struct {
	Products  []Product `json:"products"`
	FetchedAt time.Time `json:"fetched_at"`

	index map[string]Product
}

// NewCatalog indexes products by region and code
func NewCatalog(products []Product, fetchedAt time.Time) *Catalog {
	c := &Catalog{Products: products, FetchedAt: fetchedAt, index: make(map[string]Product, len(products))}
	for _, p := range products {
		c.index[p.Region+"\x00"+p.Code] = p
	}
	return c
}

// Lookup finds a product for a backend region, falling back to products
// without a region
func (c *Catalog) Lookup(region, code string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	if c.index == nil {
		// decoded from JSON, not indexed
		var fallback *Product
		for i := range c.Products {
			p := c.Products[i]
			if p.Code != code {
				continue
			}
			if p.Region == region {
				return p, true
			}
			if p.Region == "" {
				fallback = &c.Products[i]
			}
		}
		if fallback != nil {
			return *fallback, true
		}
		return Product{}, false
	}
	if p, ok := c.index[region+"\x00"+code]; ok {
		return p, true
	}
	p, ok := c.index["\x00"+code]
	return p, ok
}

// Len returns the number of products
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Products)
}
