package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/utils"
)

// ThirdPartySender is a known legitimate sending service. DkimPattern and
// SpfPattern are regex sources validated at write time; an empty pattern
// never matches.
type ThirdPartySender struct {
	ID          string    `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Name        string    `gorm:"column:name;type:varchar(255)" json:"name"`
	DkimPattern string    `gorm:"column:dkim_pattern;type:varchar(500)" json:"dkimPattern"`
	SpfPattern  string    `gorm:"column:spf_pattern;type:varchar(500)" json:"spfPattern"`
	Enabled     bool      `gorm:"column:enabled;type:boolean;index" json:"enabled"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (ThirdPartySender) TableName() string {
	return "third_party_senders"
}

func (m *ThirdPartySender) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("tps", 16)
	}
	return nil
}
