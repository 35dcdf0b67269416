package telemetry

// Span attribute keys shared by the resolver and the session service.
const (
	AttrSessionID = "flyover.session_id"
	AttrEntries   = "flyover.entries"
	AttrGeocoded  = "flyover.geocoded"
	AttrStops     = "flyover.stops"
	AttrBackend   = "flyover.camera.backend"
)
