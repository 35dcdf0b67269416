package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/flyover/internal/adapters/gazetteer"
	"github.com/samirrijal/flyover/internal/adapters/geocoder"
	"github.com/samirrijal/flyover/internal/adapters/valkey"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/usecases"
	"github.com/samirrijal/flyover/internal/pkg/config"
	"github.com/samirrijal/flyover/internal/workflows"
)

// Usage:
//
//	prewarmer                      run the worker
//	prewarmer itinerary.json ...   submit a prewarm run for each itinerary and wait
func main() {
	cfg, err := config.Load("flyover-prewarmer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	if len(os.Args) > 1 {
		submit(c, cfg, os.Args[1:])
		return
	}

	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer cache.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.PrewarmGeocodeWorkflow)
	w.RegisterActivity(&workflows.PrewarmActivities{
		Geocoder: geocoder.New(cfg.Geocoder.URL, cfg.Geocoder.APIKey, cfg.Geocoder.Timeout),
		Cache:    cache,
		TTL:      cfg.Geocoder.CacheTTL,
	})

	log.Printf("prewarm worker started on %q", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

// submit starts one workflow per itinerary file. Locations the gazetteer or
// a coords tag already resolve are left out of the run.
func submit(c client.Client, cfg *config.Config, files []string) {
	places, err := gazetteer.LoadFile(cfg.Gazetteer.Path)
	if err != nil {
		log.Fatalf("gazetteer: %v", err)
	}
	resolver := usecases.NewResolver(gazetteer.NewMemory(places), nil, nil, usecases.ResolverConfigFrom(cfg.Flyover, cfg.Geocoder.CacheTTL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, path := range files {
		itinerary, err := readItinerary(path)
		if err != nil {
			log.Printf("ERROR [%s]: %v", path, err)
			continue
		}

		input := workflows.PrewarmInput{
			Queries:   resolver.GeocodeQueries(itinerary),
			ChunkSize: workflows.DefaultChunkSize,
		}
		opts := client.StartWorkflowOptions{
			ID:        fmt.Sprintf("prewarm-%s-%d", filepath.Base(path), time.Now().Unix()),
			TaskQueue: cfg.Temporal.TaskQueue,
		}
		run, err := c.ExecuteWorkflow(ctx, opts, workflows.PrewarmGeocodeWorkflow, input)
		if err != nil {
			log.Printf("ERROR [%s]: start workflow: %v", path, err)
			continue
		}

		var result workflows.PrewarmResult
		if err := run.Get(ctx, &result); err != nil {
			log.Printf("ERROR [%s]: workflow %s: %v", path, run.GetID(), err)
			continue
		}
		log.Printf("[%s] queries=%d cached=%d resolved=%d missing=%d failed=%d",
			path, result.Queries, result.Cached, result.Resolved, result.Missing, result.Failed)
	}
}

// readItinerary accepts either a bare entry array or {"itinerary": [...]}.
func readItinerary(path string) ([]domain.ItineraryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []domain.ItineraryEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}

	var wrapped struct {
		Itinerary []domain.ItineraryEntry `json:"itinerary"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse itinerary: %w", err)
	}
	return wrapped.Itinerary, nil
}
