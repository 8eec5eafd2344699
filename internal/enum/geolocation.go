package enum

// GeoStatus is the per-record geolocation lookup lifecycle.
type GeoStatus string

const (
	GeoStatusPending    GeoStatus = "pending"
	GeoStatusProcessing GeoStatus = "processing"
	GeoStatusCompleted  GeoStatus = "completed"
	GeoStatusFailed     GeoStatus = "failed"
)

func (t GeoStatus) String() string {
	return string(t)
}

// GeoPriority orders queued lookups. Lower value wins.
type GeoPriority int

const (
	GeoPriorityHigh   GeoPriority = 0
	GeoPriorityNormal GeoPriority = 1
	GeoPriorityLow    GeoPriority = 2
)
