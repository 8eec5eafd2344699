package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/utils"
)

// Record is one <record> element of an aggregate report. DmarcDkim and
// DmarcSpf come from <policy_evaluated> only; the raw per-mechanism
// outcomes live in AuthResults.
type Record struct {
	ID       string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	ReportID string `gorm:"column:report_id;type:varchar(50);index" json:"reportId"`

	SourceIP    string           `gorm:"column:source_ip;type:varchar(45);index" json:"sourceIp"`
	Count       int              `gorm:"column:count;type:integer" json:"count"`
	Disposition enum.Disposition `gorm:"column:disposition;type:varchar(20)" json:"disposition"`
	DmarcDkim   enum.DmarcResult `gorm:"column:dmarc_dkim;type:varchar(10)" json:"dmarcDkim"`
	DmarcSpf    enum.DmarcResult `gorm:"column:dmarc_spf;type:varchar(10)" json:"dmarcSpf"`

	EnvelopeTo   string `gorm:"column:envelope_to;type:varchar(255)" json:"envelopeTo"`
	EnvelopeFrom string `gorm:"column:envelope_from;type:varchar(255)" json:"envelopeFrom"`
	HeaderFrom   string `gorm:"column:header_from;type:varchar(255)" json:"headerFrom"`

	PolicyOverrideType    string `gorm:"column:policy_override_type;type:varchar(100)" json:"policyOverrideType"`
	PolicyOverrideComment string `gorm:"column:policy_override_comment;type:text" json:"policyOverrideComment"`

	// DkimMissing marks a record with zero DKIM sub-results, which is
	// weaker evidence than a present-but-failed DKIM signature.
	DkimMissing bool `gorm:"column:dkim_missing;type:boolean" json:"dkimMissing"`

	Country     string  `gorm:"column:country;type:varchar(100)" json:"country"`
	CountryCode string  `gorm:"column:country_code;type:varchar(10)" json:"countryCode"`
	City        string  `gorm:"column:city;type:varchar(255)" json:"city"`
	Latitude    float64 `gorm:"column:latitude;type:double precision" json:"latitude"`
	Longitude   float64 `gorm:"column:longitude;type:double precision" json:"longitude"`
	ISP         string  `gorm:"column:isp;type:varchar(255)" json:"isp"`
	Org         string  `gorm:"column:org;type:varchar(255)" json:"org"`

	Forwarded       *bool   `gorm:"column:forwarded;type:boolean" json:"forwarded"`
	ForwardedReason *string `gorm:"column:forwarded_reason;type:text" json:"forwardedReason"`
	Reprocessed     bool    `gorm:"column:reprocessed;type:boolean;index" json:"reprocessed"`

	GeoStatus    enum.GeoStatus `gorm:"column:geo_status;type:varchar(20);index" json:"geoStatus"`
	GeoAttempts  int            `gorm:"column:geo_attempts;type:integer" json:"geoAttempts"`
	GeoCheckedAt *time.Time     `gorm:"column:geo_checked_at;type:timestamp" json:"geoCheckedAt"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`

	AuthResults     []RecordAuthResult     `gorm:"foreignKey:RecordID" json:"authResults"`
	OverrideReasons []RecordOverrideReason `gorm:"foreignKey:RecordID" json:"overrideReasons"`
}

func (Record) TableName() string {
	return "dmarc_records"
}

func (m *Record) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("rec", 16)
	}
	return nil
}

// RecordAuthResult is one raw DKIM or SPF sub-result, parsed verbatim.
type RecordAuthResult struct {
	ID          uint                `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RecordID    string              `gorm:"column:record_id;type:varchar(50);index" json:"recordId"`
	Kind        enum.AuthResultKind `gorm:"column:kind;type:varchar(10)" json:"kind"`
	Domain      string              `gorm:"column:domain;type:varchar(255)" json:"domain"`
	Selector    string              `gorm:"column:selector;type:varchar(255)" json:"selector"`
	Result      string              `gorm:"column:result;type:varchar(50)" json:"result"`
	HumanResult string              `gorm:"column:human_result;type:text" json:"humanResult"`
}

func (RecordAuthResult) TableName() string {
	return "dmarc_record_auth_results"
}

// RecordOverrideReason is one policy-override reason, parsed verbatim.
type RecordOverrideReason struct {
	ID       uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RecordID string `gorm:"column:record_id;type:varchar(50);index" json:"recordId"`
	Type     string `gorm:"column:type;type:varchar(100)" json:"type"`
	Comment  string `gorm:"column:comment;type:text" json:"comment"`
}

func (RecordOverrideReason) TableName() string {
	return "dmarc_record_override_reasons"
}
