package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/pkg/config"
	"github.com/samirrijal/flyover/internal/pkg/metrics"
	"github.com/samirrijal/flyover/internal/pkg/telemetry"
)

var (
	coordsTagRe = regexp.MustCompile(`(?i)\[\s*coords\s*:\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*\]`)
	coordPairRe = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*$`)
)

// ResolverConfig tunes coordinate resolution.
type ResolverConfig struct {
	RoundPrecision  int
	JitterMagnitude float64
	// JitterSeed fixes the perturbation sequence; zero seeds from the clock.
	JitterSeed     int64
	BatchSize      int
	GeocodeTimeout time.Duration
	CacheTTL       time.Duration
}

// ResolverConfigFrom picks the resolver settings out of the flyover tuning.
func ResolverConfigFrom(f config.FlyoverConfig, cacheTTL time.Duration) ResolverConfig {
	return ResolverConfig{
		RoundPrecision:  f.RoundPrecision,
		JitterMagnitude: f.JitterMagnitude,
		JitterSeed:      f.JitterSeed,
		BatchSize:       f.BatchSize,
		GeocodeTimeout:  f.GeocodeTimeout,
		CacheTTL:        cacheTTL,
	}
}

// FallbackRoute is played when nothing in an itinerary resolves.
var FallbackRoute = []domain.ResolvedStop{
	{
		Lat: 43.2974, Lng: 68.2707,
		Title: "Mausoleum of Khoja Ahmed Yasawi", LocationLabel: "Turkistan",
		Day: 1, Time: "09:00", Category: "landmark", TimeOfDay: domain.TimeOfDayMorning,
		PlaceID: "yasawi-mausoleum", Source: domain.SourceFallback,
	},
	{
		Lat: 42.8522, Lng: 68.2969,
		Title: "Arystan Bab Mausoleum", LocationLabel: "Otrar",
		Day: 1, Time: "14:00", Category: "landmark", TimeOfDay: domain.TimeOfDayAfternoon,
		PlaceID: "arystan-bab", Source: domain.SourceFallback,
	},
}

// Resolver turns itinerary entries into geo-located stops.
type Resolver struct {
	gazetteer ports.Gazetteer
	geocoder  ports.BatchGeocoder
	cache     ports.CacheService
	cfg       ResolverConfig
}

// NewResolver creates a Resolver. geocoder and cache may be nil.
func NewResolver(gazetteer ports.Gazetteer, geocoder ports.BatchGeocoder, cache ports.CacheService, cfg ResolverConfig) *Resolver {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 25 {
		cfg.BatchSize = 25
	}
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = 6 * time.Second
	}
	return &Resolver{gazetteer: gazetteer, geocoder: geocoder, cache: cache, cfg: cfg}
}

type pendingEntry struct {
	entry  domain.ItineraryEntry
	notes  string
	point  *domain.GeoPoint
	place  *domain.Place
	source domain.StopSource
}

// Resolve never fails: entries that cannot be located are dropped and an
// empty result is replaced by FallbackRoute. progress, when set, receives
// values from 0 to 100.
func (r *Resolver) Resolve(ctx context.Context, itinerary []domain.ItineraryEntry, progress func(int)) []domain.ResolvedStop {
	ctx, span := otel.Tracer("flyover/resolver").Start(ctx, "Resolver.Resolve")
	defer span.End()

	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}
	report(0)

	entries := SortItinerary(itinerary)
	pending := make([]*pendingEntry, 0, len(entries))
	var queue []*pendingEntry

	for i, e := range entries {
		if strings.TrimSpace(e.Location) == "" {
			metrics.ResolverDropped.Inc()
		} else {
			p := r.classify(e)
			pending = append(pending, p)
			if p.point == nil {
				queue = append(queue, p)
			}
		}
		report(75 * (i + 1) / len(entries))
	}
	report(75)

	if len(queue) > 0 {
		r.geocode(ctx, queue, func(done, total int) {
			report(75 + 25*done/total)
		})
	}

	stops := r.build(pending)
	report(100)

	span.SetAttributes(
		attribute.Int(telemetry.AttrEntries, len(itinerary)),
		attribute.Int(telemetry.AttrGeocoded, len(queue)),
		attribute.Int(telemetry.AttrStops, len(stops)),
	)

	if len(stops) == 0 {
		slog.Info("no itinerary entry resolved, using fallback route", "entries", len(itinerary))
		return append([]domain.ResolvedStop(nil), FallbackRoute...)
	}
	return stops
}

// classify runs the synchronous resolution stages.
func (r *Resolver) classify(e domain.ItineraryEntry) *pendingEntry {
	p := &pendingEntry{entry: e, notes: e.Notes}

	if m := coordsTagRe.FindStringSubmatch(e.Notes); m != nil {
		p.notes = strings.TrimSpace(coordsTagRe.ReplaceAllString(e.Notes, ""))
		if pt, ok := parsePair(m[1], m[2]); ok {
			p.point, p.source = &pt, domain.SourceTag
			return p
		}
	}

	if m := coordPairRe.FindStringSubmatch(e.Location); m != nil {
		if pt, ok := parsePair(m[1], m[2]); ok {
			p.point, p.source = &pt, domain.SourcePair
			return p
		}
	}

	if r.gazetteer != nil {
		if place, ok := r.gazetteer.Match(e.Location); ok {
			p.point = &domain.GeoPoint{Lat: place.Lat, Lon: place.Lng}
			p.place, p.source = place, domain.SourceGazetteer
			return p
		}
	}
	return p
}

// GeocodeQueries returns the distinct locations of itinerary that only the
// geocoder can resolve, in first-seen order.
func (r *Resolver) GeocodeQueries(itinerary []domain.ItineraryEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range itinerary {
		q := strings.TrimSpace(e.Location)
		if q == "" || seen[q] {
			continue
		}
		if r.classify(e).point != nil {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

// geocode resolves queued entries in batches under one overall deadline.
// Batches still pending when the deadline passes are abandoned.
func (r *Resolver) geocode(ctx context.Context, queue []*pendingEntry, progress func(done, total int)) {
	byQuery := make(map[string][]*pendingEntry)
	var queries []string
	for _, p := range queue {
		q := strings.TrimSpace(p.entry.Location)
		if _, seen := byQuery[q]; !seen {
			queries = append(queries, q)
		}
		byQuery[q] = append(byQuery[q], p)
	}

	assign := func(q string, pt domain.GeoPoint) {
		for _, p := range byQuery[q] {
			pt := pt
			p.point, p.source = &pt, domain.SourceGeocoder
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.GeocodeTimeout)
	defer cancel()

	var remote []string
	for _, q := range queries {
		if pt, ok := r.cached(ctx, q); ok {
			assign(q, pt)
			continue
		}
		remote = append(remote, q)
	}

	if r.geocoder == nil || len(remote) == 0 {
		progress(1, 1)
		return
	}

	total := (len(remote) + r.cfg.BatchSize - 1) / r.cfg.BatchSize
	for b := 0; b < total; b++ {
		if ctx.Err() != nil {
			slog.Warn("geocoding abandoned", "error", ctx.Err(), "pending_batches", total-b)
			metrics.GeocodeErrors.Inc()
			return
		}
		lo := b * r.cfg.BatchSize
		hi := min(lo+r.cfg.BatchSize, len(remote))
		batch := remote[lo:hi]

		start := time.Now()
		points, err := r.geocoder.Geocode(ctx, batch)
		metrics.GeocodeBatchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Warn("batch geocoding failed", "error", err, "queries", len(batch))
			metrics.GeocodeErrors.Inc()
			progress(b+1, total)
			continue
		}

		for i, q := range batch {
			if i >= len(points) || points[i] == nil || !points[i].Valid() {
				continue
			}
			assign(q, *points[i])
			r.store(ctx, q, *points[i])
		}
		progress(b+1, total)
	}
}

func (r *Resolver) cached(ctx context.Context, query string) (domain.GeoPoint, bool) {
	if r.cache == nil {
		return domain.GeoPoint{}, false
	}
	data, err := r.cache.Get(ctx, GeocodeCacheKey(query))
	if err != nil || data == nil {
		metrics.CacheMisses.WithLabelValues("geocode").Inc()
		return domain.GeoPoint{}, false
	}
	var pt domain.GeoPoint
	if err := json.Unmarshal(data, &pt); err != nil || !pt.Valid() {
		metrics.CacheMisses.WithLabelValues("geocode").Inc()
		return domain.GeoPoint{}, false
	}
	metrics.CacheHits.WithLabelValues("geocode").Inc()
	return pt, true
}

func (r *Resolver) store(ctx context.Context, query string, pt domain.GeoPoint) {
	if r.cache == nil || r.cfg.CacheTTL <= 0 {
		return
	}
	if data, err := json.Marshal(pt); err == nil {
		_ = r.cache.Set(ctx, GeocodeCacheKey(query), data, int(r.cfg.CacheTTL.Seconds()))
	}
}

// build emits stops in itinerary order and separates coincident ones.
func (r *Resolver) build(pending []*pendingEntry) []domain.ResolvedStop {
	seed := r.cfg.JitterSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))
	occupied := make(map[string]bool)

	stops := make([]domain.ResolvedStop, 0, len(pending))
	for _, p := range pending {
		if p.point == nil {
			metrics.ResolverDropped.Inc()
			continue
		}
		metrics.ResolverEntries.WithLabelValues(string(p.source)).Inc()

		lat, lng := p.point.Lat, p.point.Lon
		key := r.cell(lat, lng)
		for attempt := 0; occupied[key] && attempt < 8; attempt++ {
			lat = p.point.Lat + r.offset(rnd)
			lng = p.point.Lon + r.offset(rnd)
			key = r.cell(lat, lng)
		}
		occupied[key] = true

		stop := domain.ResolvedStop{
			Lat:           lat,
			Lng:           lng,
			Title:         p.entry.Activity,
			LocationLabel: strings.TrimSpace(p.entry.Location),
			Day:           p.entry.Day,
			Time:          p.entry.Time,
			Category:      p.entry.Category,
			Notes:         p.notes,
			TimeOfDay:     domain.TimeOfDayForHour(minuteOfDay(p.entry.Time) / 60),
			Cost:          p.entry.Cost,
			Source:        p.source,
		}
		if stop.Title == "" {
			stop.Title = stop.LocationLabel
		}
		if p.place != nil {
			stop.PlaceID = p.place.ID
			stop.Anchor = p.place.Anchor
		}
		stops = append(stops, stop)
	}
	return stops
}

// offset returns a signed displacement between a quarter of the jitter
// magnitude and the full magnitude.
func (r *Resolver) offset(rnd *rand.Rand) float64 {
	mag := r.cfg.JitterMagnitude * (0.25 + 0.75*rnd.Float64())
	if rnd.Intn(2) == 0 {
		return -mag
	}
	return mag
}

func (r *Resolver) cell(lat, lng float64) string {
	scale := math.Pow(10, float64(r.cfg.RoundPrecision))
	return fmt.Sprintf("%d:%d", int64(math.Round(lat*scale)), int64(math.Round(lng*scale)))
}

// GeocodeCacheKey is the cache key under which a query's coordinate is stored.
func GeocodeCacheKey(query string) string {
	return "geocode:" + cases.Fold().String(strings.Join(strings.Fields(query), " "))
}

// SortItinerary returns a copy ordered by (day, time). Entries with the same
// key keep their input order.
func SortItinerary(itinerary []domain.ItineraryEntry) []domain.ItineraryEntry {
	out := append([]domain.ItineraryEntry(nil), itinerary...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return minuteOfDay(out[i].Time) < minuteOfDay(out[j].Time)
	})
	return out
}

// minuteOfDay parses "HH:MM". Unparseable times sort as noon.
func minuteOfDay(hhmm string) int {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 12 * 60
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 12 * 60
	}
	return hour*60 + minute
}

func parsePair(a, b string) (domain.GeoPoint, bool) {
	lat, err1 := strconv.ParseFloat(a, 64)
	lng, err2 := strconv.ParseFloat(b, 64)
	if err1 != nil || err2 != nil {
		return domain.GeoPoint{}, false
	}
	p := domain.GeoPoint{Lat: lat, Lon: lng}
	return p, p.Valid()
}
