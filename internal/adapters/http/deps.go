package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/flyover/internal/adapters/gazetteer"
	"github.com/samirrijal/flyover/internal/adapters/postgres"
	"github.com/samirrijal/flyover/internal/adapters/valkey"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Flyovers  *usecases.FlyoverService
	Gazetteer *gazetteer.Memory
	Events    ports.EventSubscriber
	NATS      *nats.Conn
	DB        *postgres.DB
	Cache     *valkey.Cache
}
