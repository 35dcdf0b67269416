package domain

import (
	"strings"
	"time"
)

// ItineraryEntry is one caller-supplied line of a travel itinerary.
type ItineraryEntry struct {
	Day      int     `json:"day"`
	Time     string  `json:"time"` // HH:MM
	Activity string  `json:"activity"`
	Location string  `json:"location"`
	Notes    string  `json:"notes,omitempty"`
	Cost     float64 `json:"cost,omitempty"`
	Category string  `json:"category,omitempty"`
}

// Handoff carries state from the page that opened the flyover.
type Handoff struct {
	FocusPlaceID    string          `json:"focus_place_id,omitempty"`
	PendingActivity *ItineraryEntry `json:"pending_activity,omitempty"`
}

// TimeOfDay is the coarse lighting bucket of a stop.
type TimeOfDay string

const (
	TimeOfDayNight     TimeOfDay = "night"
	TimeOfDayDawn      TimeOfDay = "dawn"
	TimeOfDayMorning   TimeOfDay = "morning"
	TimeOfDayNoon      TimeOfDay = "noon"
	TimeOfDayAfternoon TimeOfDay = "afternoon"
	TimeOfDayEvening   TimeOfDay = "evening"
)

// TimeOfDayForHour maps an hour of day onto its bucket.
func TimeOfDayForHour(hour int) TimeOfDay {
	switch {
	case hour < 6:
		return TimeOfDayNight
	case hour < 8:
		return TimeOfDayDawn
	case hour < 11:
		return TimeOfDayMorning
	case hour < 14:
		return TimeOfDayNoon
	case hour < 17:
		return TimeOfDayAfternoon
	case hour < 20:
		return TimeOfDayEvening
	default:
		return TimeOfDayNight
	}
}

// StopSource records which resolution stage produced a coordinate.
type StopSource string

const (
	SourceTag       StopSource = "tag"
	SourcePair      StopSource = "pair"
	SourceGazetteer StopSource = "gazetteer"
	SourceGeocoder  StopSource = "geocoder"
	SourceFallback  StopSource = "fallback"
)

// ResolvedStop is an itinerary entry with a final map coordinate.
type ResolvedStop struct {
	Lat           float64    `json:"lat"`
	Lng           float64    `json:"lng"`
	Title         string     `json:"title"`
	LocationLabel string     `json:"location_label"`
	Day           int        `json:"day"`
	Time          string     `json:"time"`
	Category      string     `json:"category,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	TimeOfDay     TimeOfDay  `json:"time_of_day"`
	Cost          float64    `json:"cost,omitempty"`
	PlaceID       string     `json:"place_id,omitempty"`
	Anchor        *GeoPoint  `json:"anchor,omitempty"` // panorama anchor, defaults to the stop itself
	Source        StopSource `json:"source"`
}

// Point returns the stop coordinate.
func (s ResolvedStop) Point() GeoPoint {
	return GeoPoint{Lat: s.Lat, Lon: s.Lng}
}

// PanoramaAnchor returns where ground imagery should be looked up for this stop.
func (s ResolvedStop) PanoramaAnchor() GeoPoint {
	if s.Anchor != nil {
		return *s.Anchor
	}
	return s.Point()
}

// Place is a named gazetteer location with up to three localized names.
type Place struct {
	ID     string    `json:"id" yaml:"id"`
	NameEN string    `json:"name_en" yaml:"name_en"`
	NameRU string    `json:"name_ru,omitempty" yaml:"name_ru"`
	NameKK string    `json:"name_kk,omitempty" yaml:"name_kk"`
	Lat    float64   `json:"lat" yaml:"lat"`
	Lng    float64   `json:"lng" yaml:"lng"`
	Anchor *GeoPoint `json:"anchor,omitempty" yaml:"anchor"`
}

// Names returns the non-empty localized names of the place.
func (p Place) Names() []string {
	names := make([]string, 0, 3)
	for _, n := range []string{p.NameEN, p.NameRU, p.NameKK} {
		if strings.TrimSpace(n) != "" {
			names = append(names, n)
		}
	}
	return names
}

// CameraCenter is the look-at point of a camera pose.
type CameraCenter struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude"`
}

// CameraTarget is a complete camera pose. Range is the camera-to-ground distance in meters.
type CameraTarget struct {
	Center  CameraCenter `json:"center"`
	Tilt    float64      `json:"tilt"`
	Heading float64      `json:"heading"`
	Range   float64      `json:"range"`
}

// MapPose is the discrete pose understood by 2-D map surfaces.
type MapPose struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Zoom    float64 `json:"zoom"`
	Heading float64 `json:"heading"`
	Tilt    float64 `json:"tilt"`
}

// PlaybackPhase is the Director state.
type PlaybackPhase string

const (
	PhaseLoading PlaybackPhase = "loading"
	PhaseReady   PlaybackPhase = "ready"
	PhaseFlying  PlaybackPhase = "flying"
	PhasePaused  PlaybackPhase = "paused"
	PhaseDone    PlaybackPhase = "done"
)

// DaySplash announces the start of a new itinerary day.
type DaySplash struct {
	Day       int `json:"day"`
	StopCount int `json:"stop_count"`
}

// PanoramaView is the state of the ground-level inset.
type PanoramaView struct {
	Visible     bool     `json:"visible"`
	StopIndex   int      `json:"stop_index"`
	Anchor      GeoPoint `json:"anchor"`
	Heading     float64  `json:"heading"`
	Pitch       float64  `json:"pitch"`
	Fullscreen  bool     `json:"fullscreen"`
	Interactive bool     `json:"interactive"`
	PanControl  bool     `json:"pan_control"`
	ZoomControl bool     `json:"zoom_control"`
}

// EventType names a presentation event.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventProgress EventType = "progress"
	EventStop     EventType = "stop"
	EventSplash   EventType = "splash"
	EventPanorama EventType = "panorama"
	EventSpeed    EventType = "speed"
	EventClosed   EventType = "closed"
)

// Event is pushed to the presentation layer.
type Event struct {
	Type      EventType     `json:"type"`
	SessionID string        `json:"session_id"`
	Phase     PlaybackPhase `json:"phase,omitempty"`
	Index     int           `json:"index"`
	Stop      *ResolvedStop `json:"stop,omitempty"`
	Progress  int           `json:"progress,omitempty"`
	Splash    *DaySplash    `json:"splash,omitempty"`
	Panorama  *PanoramaView `json:"panorama,omitempty"`
	Speed     float64       `json:"speed,omitempty"`
	At        time.Time     `json:"at"`
}

// Snapshot is a read-only view of a flyover session.
type Snapshot struct {
	ID          string         `json:"id"`
	Phase       PlaybackPhase  `json:"phase"`
	Progress    int            `json:"progress"`
	Stops       []ResolvedStop `json:"stops"`
	HeldIndex   int            `json:"held_index"`
	ResumeIndex int            `json:"resume_index"`
	Splash      *DaySplash     `json:"splash,omitempty"`
	Speed       float64        `json:"speed"`
	Backend     string         `json:"backend"`
	Panorama    PanoramaView   `json:"panorama"`
	Closed      bool           `json:"closed"`
	CreatedAt   time.Time      `json:"created_at"`
}
