package models

import "time"

// IPLocation is the durable geolocation cache, one row per IP. NoData
// marks a negative result so known-empty IPs are not looked up again
// until the row goes stale.
type IPLocation struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IP          string    `gorm:"column:ip;type:varchar(45);uniqueIndex" json:"ip"`
	Country     string    `gorm:"column:country;type:varchar(100)" json:"country"`
	CountryCode string    `gorm:"column:country_code;type:varchar(10)" json:"countryCode"`
	City        string    `gorm:"column:city;type:varchar(255)" json:"city"`
	Latitude    float64   `gorm:"column:latitude;type:double precision" json:"latitude"`
	Longitude   float64   `gorm:"column:longitude;type:double precision" json:"longitude"`
	ISP         string    `gorm:"column:isp;type:varchar(255)" json:"isp"`
	Org         string    `gorm:"column:org;type:varchar(255)" json:"org"`
	NoData      bool      `gorm:"column:no_data;type:boolean" json:"noData"`
	Provider    string    `gorm:"column:provider;type:varchar(100)" json:"provider"`
	CheckedAt   time.Time `gorm:"column:checked_at;type:timestamp" json:"checkedAt"`
}

func (IPLocation) TableName() string {
	return "ip_locations"
}
