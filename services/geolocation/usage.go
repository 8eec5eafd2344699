package geolocation

import (
	"sync"
	"time"

	"github.com/customeros/dmarcwatch/interfaces"
)

// usageCounter tracks calls against rolling minute and day windows.
// A zero limit disables that window.
type usageCounter struct {
	mu          sync.Mutex
	minuteLimit int
	dayLimit    int

	minuteStart time.Time
	minuteUsed  int
	dayStart    time.Time
	dayUsed     int

	now func() time.Time
}

func newUsageCounter(minuteLimit, dayLimit int) *usageCounter {
	return &usageCounter{
		minuteLimit: minuteLimit,
		dayLimit:    dayLimit,
		now:         time.Now,
	}
}

func (u *usageCounter) Record() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.roll()
	u.minuteUsed++
	u.dayUsed++
}

func (u *usageCounter) Usage() interfaces.ProviderUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.roll()
	return interfaces.ProviderUsage{
		MinuteUsed:  u.minuteUsed,
		MinuteLimit: u.minuteLimit,
		DayUsed:     u.dayUsed,
		DayLimit:    u.dayLimit,
	}
}

func (u *usageCounter) roll() {
	now := u.now()
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart = now
		u.minuteUsed = 0
	}
	if now.Sub(u.dayStart) >= 24*time.Hour {
		u.dayStart = now
		u.dayUsed = 0
	}
}
