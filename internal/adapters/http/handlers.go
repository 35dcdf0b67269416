package http

import (
	"math"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/pkg/geospatial"
)

const maxItineraryEntries = 200

// createFlyoverRequest is the body of POST /v1/flyovers.
type createFlyoverRequest struct {
	Itinerary []domain.ItineraryEntry `json:"itinerary"`
	Handoff   domain.Handoff          `json:"handoff"`
}

// startRequest is the optional body of POST /v1/flyovers/:id/start.
type startRequest struct {
	From *int `json:"from"`
}

// speedRequest is the body of POST /v1/flyovers/:id/speed.
type speedRequest struct {
	Multiplier float64 `json:"multiplier"`
}

// CreateFlyoverHandler opens a session and starts resolving its itinerary.
// The response is the loading snapshot; stops appear once resolution ends.
func CreateFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req createFlyoverRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if len(req.Itinerary) > maxItineraryEntries {
			return errBadRequest(c, "itinerary too long (max 200 entries)")
		}

		sess, err := deps.Flyovers.Create(c.UserContext(), req.Itinerary, req.Handoff)
		if err != nil {
			return errFromDomain(c, err)
		}
		LoggerFromCtx(c.UserContext()).Info("flyover created", "session", sess.ID, "entries", len(req.Itinerary))

		snap, err := deps.Flyovers.Snapshot(sess.ID)
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Location("/v1/flyovers/" + sess.ID)
		return c.Status(fiber.StatusCreated).JSON(snap)
	}
}

// GetFlyoverHandler returns a session snapshot.
func GetFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := deps.Flyovers.Snapshot(c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(snap)
	}
}

// DeleteFlyoverHandler closes a session.
func DeleteFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Flyovers.Close(c.Params("id")); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RouteGeoJSONHandler returns the resolved stops as a GeoJSON FeatureCollection:
// one LineString for the flight path plus one Point per stop.
func RouteGeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Flyovers.Get(c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		stops := sess.Director.Stops()

		fc := geojson.NewFeatureCollection()
		if len(stops) > 1 {
			line := make(orb.LineString, 0, len(stops))
			lats := make([]float64, 0, len(stops))
			lons := make([]float64, 0, len(stops))
			for _, s := range stops {
				line = append(line, orb.Point{s.Lng, s.Lat})
				lats, lons = append(lats, s.Lat), append(lons, s.Lng)
			}
			path := geojson.NewFeature(line)
			path.Properties["kind"] = "path"
			path.Properties["length_m"] = math.Round(geospatial.PathLength(lats, lons))
			fc.Append(path)
		}
		for i, s := range stops {
			f := geojson.NewFeature(orb.Point{s.Lng, s.Lat})
			f.Properties["kind"] = "stop"
			f.Properties["index"] = i
			f.Properties["title"] = s.Title
			f.Properties["day"] = s.Day
			f.Properties["time"] = s.Time
			f.Properties["time_of_day"] = string(s.TimeOfDay)
			f.Properties["source"] = string(s.Source)
			if s.PlaceID != "" {
				f.Properties["place_id"] = s.PlaceID
			}
			fc.Append(f)
		}

		data, err := fc.MarshalJSON()
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set("Content-Type", "application/geo+json")
		c.Set("Cache-Control", "no-store")
		return c.Send(data)
	}
}

// StartFlyoverHandler begins playback, by default at the handoff focus stop.
func StartFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req startRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
		}
		if req.From != nil && *req.From < 0 {
			return errBadRequest(c, "from must be zero or positive")
		}
		return controlResponse(c, deps, deps.Flyovers.Start(c.Params("id"), req.From))
	}
}

// PauseFlyoverHandler freezes playback.
func PauseFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return controlResponse(c, deps, deps.Flyovers.Pause(c.Params("id")))
	}
}

// ResumeFlyoverHandler continues a paused flyover.
func ResumeFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return controlResponse(c, deps, deps.Flyovers.Resume(c.Params("id")))
	}
}

// ResetFlyoverHandler rewinds to the overview.
func ResetFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return controlResponse(c, deps, deps.Flyovers.Reset(c.Params("id")))
	}
}

// SpeedFlyoverHandler changes the playback multiplier.
func SpeedFlyoverHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req speedRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		return controlResponse(c, deps, deps.Flyovers.SetSpeed(c.Params("id"), req.Multiplier))
	}
}

// TogglePanoramaHandler switches the ground-level view between inset and fullscreen.
func TogglePanoramaHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := deps.Flyovers.TogglePanorama(c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(view)
	}
}

// controlResponse answers a playback command with the resulting snapshot.
func controlResponse(c *fiber.Ctx, deps *Dependencies, err error) error {
	if err != nil {
		return errFromDomain(c, err)
	}
	snap, err := deps.Flyovers.Snapshot(c.Params("id"))
	if err != nil {
		return errFromDomain(c, err)
	}
	return c.JSON(snap)
}

// SearchPlacesHandler performs localized name search on the gazetteer.
func SearchPlacesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			return errBadRequest(c, "q query parameter is required")
		}
		if len(query) > 200 {
			return errBadRequest(c, "query too long (max 200 characters)")
		}
		limit := c.QueryInt("limit", 10)
		if limit <= 0 || limit > 50 {
			limit = 10
		}

		places := deps.Gazetteer.Search(query, limit)
		if places == nil {
			places = []domain.Place{}
		}
		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(places)
	}
}

// ListPlacesHandler returns every gazetteer place, paginated.
func ListPlacesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pg := pageFromQuery(c, 100, 200)
		places := paginate(deps.Gazetteer.List(), &pg)

		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: places, Pagination: pg})
	}
}

// GetPlaceHandler returns one gazetteer place.
func GetPlaceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		place, ok := deps.Gazetteer.Get(c.Params("id"))
		if !ok {
			return errNotFound(c, "place not found")
		}
		return c.JSON(place)
	}
}
