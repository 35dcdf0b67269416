package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samirrijal/flyover/internal/adapters/gazetteer"
	"github.com/samirrijal/flyover/internal/adapters/postgres"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/pkg/config"
)

const batchSize = 500

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

// Usage: ingestor [source ...]
// A source is a local path or http(s) URL to a gazetteer YAML file or a CSV
// with header id,name_en,name_ru,name_kk,lat,lng[,anchor_lat,anchor_lng].
func main() {
	cfg, err := config.Load("flyover-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	repo := postgres.NewPlaceRepo(db)

	sources := os.Args[1:]
	if len(sources) == 0 {
		sources = []string{cfg.Gazetteer.Path}
	}
	log.Printf("Flyover gazetteer ingestor: %d sources", len(sources))

	client := &http.Client{Timeout: 60 * time.Second}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all []domain.Place
	)
	sem := make(chan struct{}, 4) // max 4 concurrent downloads

	for _, src := range sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			places, err := loadSource(client, src)
			if err != nil {
				log.Printf("ERROR [%s]: %v", src, err)
				return
			}
			log.Printf("[%s] %d places", src, len(places))
			mu.Lock()
			all = append(all, places...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	places, skipped := clean(all)
	if skipped > 0 {
		log.Printf("skipped %d invalid or duplicate places", skipped)
	}

	for start := 0; start < len(places); start += batchSize {
		end := start + batchSize
		if end > len(places) {
			end = len(places)
		}
		if err := repo.UpsertBatch(ctx, places[start:end]); err != nil {
			log.Fatalf("upsert places %d-%d: %v", start, end, err)
		}
	}

	log.Printf("ingestion complete: %d places", len(places))
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

func loadSource(client *http.Client, src string) ([]domain.Place, error) {
	data, err := readSource(client, src)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(src), ".csv") {
		return parseCSV(bytes.NewReader(data))
	}

	var f gazetteer.File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return f.Places, nil
}

func readSource(client *http.Client, src string) ([]byte, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.ReadFile(src)
	}

	resp, err := client.Get(src)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, src)
	}
	return io.ReadAll(resp.Body)
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func parseCSV(r io.Reader) ([]domain.Place, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := indexHeader(header)
	for _, col := range []string{"id", "name_en", "lat", "lng"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var places []domain.Place
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		lat, err1 := strconv.ParseFloat(get("lat"), 64)
		lng, err2 := strconv.ParseFloat(get("lng"), 64)
		if err1 != nil || err2 != nil {
			log.Printf("skip %q: bad coordinates", get("id"))
			continue
		}

		p := domain.Place{
			ID:     get("id"),
			NameEN: get("name_en"),
			NameRU: get("name_ru"),
			NameKK: get("name_kk"),
			Lat:    lat,
			Lng:    lng,
		}
		if aLat, err := strconv.ParseFloat(get("anchor_lat"), 64); err == nil {
			if aLng, err := strconv.ParseFloat(get("anchor_lng"), 64); err == nil {
				p.Anchor = &domain.GeoPoint{Lat: aLat, Lon: aLng}
			}
		}
		places = append(places, p)
	}
	return places, nil
}

func indexHeader(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		// Strip a UTF-8 BOM from the first column
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		idx[strings.ToLower(h)] = i
	}
	return idx
}

// clean drops places without an id, a name or valid coordinates, and keeps
// the last definition of a repeated id.
func clean(places []domain.Place) ([]domain.Place, int) {
	pos := make(map[string]int, len(places))
	var out []domain.Place
	skipped := 0
	for _, p := range places {
		valid := p.ID != "" && len(p.Names()) > 0 && (domain.GeoPoint{Lat: p.Lat, Lon: p.Lng}).Valid()
		if !valid {
			skipped++
			continue
		}
		if i, ok := pos[p.ID]; ok {
			out[i] = p
			skipped++
			continue
		}
		pos[p.ID] = len(out)
		out = append(out, p)
	}
	return out, skipped
}
