package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/utils"
)

// JSONMap stores a JSON object in a PostgreSQL text column.
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Report is one ingested DMARC aggregate report. RawXML keeps the feed
// verbatim for audit; re-uploads with the same ReportID upsert the row.
type Report struct {
	ID              string    `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	ReportID        string    `gorm:"column:report_id;type:varchar(255);uniqueIndex" json:"reportId"`
	OrgName         string    `gorm:"column:org_name;type:varchar(255)" json:"orgName"`
	Email           string    `gorm:"column:email;type:varchar(255)" json:"email"`
	PolicyDomain    string    `gorm:"column:policy_domain;type:varchar(255);index" json:"policyDomain"`
	PolicyPublished JSONMap   `gorm:"column:policy_published;type:text" json:"policyPublished"`
	BeginAt         time.Time `gorm:"column:begin_at;type:timestamp" json:"beginAt"`
	EndAt           time.Time `gorm:"column:end_at;type:timestamp" json:"endAt"`
	RawXML          string    `gorm:"column:raw_xml;type:text" json:"-"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Report) TableName() string {
	return "dmarc_reports"
}

func (m *Report) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("rpt", 16)
	}
	return nil
}
