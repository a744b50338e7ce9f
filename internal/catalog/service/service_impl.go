package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acpgateway/internal/cache"
	"github.com/smallbiznis/acpgateway/internal/catalog/domain"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProductName = "ACP Product"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Cache cache.CatalogCache `optional:"true"`
	Clock clock.Clock        `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	cache cache.CatalogCache
	clock clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		repo:  p.Repo,
		genID: p.GenID,
		cache: p.Cache,
		clock: clk,
	}
}

func (s *Service) LookupOrCreate(ctx context.Context, req domain.LookupRequest) (*domain.Product, error) {
	sku := strings.TrimSpace(req.SKU)
	name := strings.TrimSpace(req.Name)
	if sku == "" && name == "" {
		return nil, domain.ErrInvalidItem
	}
	if req.Quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	if req.Price.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}

	if sku != "" {
		existing, err := s.findBySKU(ctx, sku)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := checkStock(existing, req.Quantity); err != nil {
				return nil, err
			}
			return existing, nil
		}
	} else {
		sku = generateSKU(name)
	}

	if name == "" {
		name = defaultProductName
	}

	now := s.clock.Now().UTC()
	product := &domain.Product{
		ID:        s.genID.Generate().Int64(),
		SKU:       sku,
		Name:      name,
		Price:     req.Price.Round(2),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, s.db, product); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// Another request created the SKU first.
		existing, findErr := s.repo.FindBySKU(ctx, s.db, sku)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		product = existing
	} else {
		s.log.Info("catalog product created",
			zap.Int64("product_id", product.ID),
			zap.String("sku", product.SKU),
		)
	}

	s.remember(product)
	return product, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Product, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) findBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	if s.cache != nil {
		if entry, ok := s.cache.GetProduct(sku); ok {
			price, err := decimal.NewFromString(entry.Price)
			if err == nil {
				return &domain.Product{ID: entry.ID, SKU: entry.SKU, Name: entry.Name, Price: price, Active: true}, nil
			}
			s.cache.InvalidateProduct(sku)
		}
	}

	item, err := s.repo.FindBySKU(ctx, s.db, sku)
	if err != nil {
		return nil, err
	}
	if item != nil && item.StockQuantity == nil {
		s.remember(item)
	}
	return item, nil
}

// remember caches products without stock tracking. Tracked stock must always
// be read from the database.
func (s *Service) remember(p *domain.Product) {
	if s.cache == nil || p == nil || p.StockQuantity != nil {
		return
	}
	s.cache.SetProduct(p.SKU, cache.ProductEntry{
		ID:    p.ID,
		SKU:   p.SKU,
		Name:  p.Name,
		Price: p.Price.StringFixed(2),
	})
}

func checkStock(p *domain.Product, quantity int) error {
	if p.StockQuantity == nil {
		return nil
	}
	if *p.StockQuantity < quantity {
		return domain.ErrInsufficientStock
	}
	return nil
}

func generateSKU(name string) string {
	base := slug.Make(name)
	if len(base) > 60 {
		base = base[:60]
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if base == "" {
		return "acp-" + suffix
	}
	return "acp-" + base + "-" + suffix
}

