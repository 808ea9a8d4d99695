package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/imrishuroy/go-engagement-orderflow/internal/supplier"
)

// QualityStandard is the quality served by the supplier's plain category mapping.
const QualityStandard = "standard"

// ServiceSource lists the supplier's services.
type ServiceSource interface {
	Services(ctx context.Context) ([]supplier.Service, error)
}

// Override pins a (platform, service, quality) selector to a specific supplier service id.
// An empty Quality matches any quality without a more specific override.
type Override struct {
	Platform  string `mapstructure:"platform"`
	Service   string `mapstructure:"service"`
	Quality   string `mapstructure:"quality"`
	ServiceID int64  `mapstructure:"service_id"`
}

type selector struct {
	platform string
	service  string
	quality  string
}

type snapshot struct {
	byKey    map[selector]supplier.Service
	byID     map[int64]supplier.Service
	loadedAt time.Time
}

// Catalog resolves order selectors to supplier services. Readers never block: Refresh builds a
// new snapshot and swaps it in whole.
type Catalog struct {
	source    ServiceSource
	overrides map[selector]int64
	logger    *slog.Logger
	nowFunc   func() time.Time

	snap atomic.Pointer[snapshot]
}

// New returns an empty catalog; Lookup reports not found until the first Refresh succeeds.
func New(source ServiceSource, overrides []Override, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		source:    source,
		overrides: make(map[selector]int64, len(overrides)),
		logger:    logger,
		nowFunc:   time.Now,
	}
	for _, o := range overrides {
		c.overrides[newSelector(o.Platform, o.Service, o.Quality)] = o.ServiceID
	}
	return c
}

// Refresh reloads the service list. On error the previous snapshot stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	services, err := c.source.Services(ctx)
	if err != nil {
		return fmt.Errorf("load supplier services: %w", err)
	}

	next := &snapshot{
		byKey:    make(map[selector]supplier.Service, len(services)),
		byID:     make(map[int64]supplier.Service, len(services)),
		loadedAt: c.nowFunc(),
	}
	for _, s := range services {
		next.byID[s.ID] = s
		platform, service := splitCategory(s.Category)
		if platform == "" {
			continue
		}
		key := newSelector(platform, service, "")
		// first listed service wins for a category
		if _, taken := next.byKey[key]; !taken {
			next.byKey[key] = s
		}
	}
	for sel, id := range c.overrides {
		if _, ok := next.byID[id]; !ok {
			c.logger.Warn("catalog override points at unknown service",
				"platform", sel.platform, "service", sel.service, "quality", sel.quality, "service_id", id)
		}
	}

	c.snap.Store(next)
	c.logger.Info("catalog refreshed", "services", len(next.byID), "selectors", len(next.byKey))
	return nil
}

// Lookup resolves a selector. An exact override wins, then a quality-agnostic override, then the
// category mapping. ok is false for unknown selectors or before the first Refresh.
func (c *Catalog) Lookup(platform, service, quality string) (supplier.Service, bool) {
	snap := c.snap.Load()
	if snap == nil {
		return supplier.Service{}, false
	}

	exact := newSelector(platform, service, quality)
	if exact.quality == "" {
		exact.quality = QualityStandard
	}
	for _, sel := range []selector{exact, {platform: exact.platform, service: exact.service}} {
		if id, ok := c.overrides[sel]; ok {
			s, found := snap.byID[id]
			return s, found
		}
	}

	if exact.quality != QualityStandard {
		return supplier.Service{}, false
	}
	s, ok := snap.byKey[selector{platform: exact.platform, service: exact.service}]
	return s, ok
}

// Get returns a service by supplier id.
func (c *Catalog) Get(id int64) (supplier.Service, bool) {
	snap := c.snap.Load()
	if snap == nil {
		return supplier.Service{}, false
	}
	s, ok := snap.byID[id]
	return s, ok
}

// Services returns every loaded service ordered by id.
func (c *Catalog) Services() []supplier.Service {
	snap := c.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]supplier.Service, 0, len(snap.byID))
	for _, s := range snap.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadedAt reports when the current snapshot was built; zero before the first Refresh.
func (c *Catalog) LoadedAt() time.Time {
	if snap := c.snap.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

func newSelector(platform, service, quality string) selector {
	return selector{
		platform: normalize(platform),
		service:  normalize(service),
		quality:  normalize(quality),
	}
}

// splitCategory turns "Instagram Followers [Real]" into ("instagram", "followers [real]").
func splitCategory(category string) (string, string) {
	fields := strings.Fields(category)
	if len(fields) == 0 {
		return "", ""
	}
	return normalize(fields[0]), normalize(strings.Join(fields[1:], " "))
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
