package model

import "time"

// Provider identifies the collector that produced an extract.
type Provider struct {
	ID string `json:"id"`
}

// Vendor is the publisher of a dataset.
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Dataset groups attributes published by a vendor.
type Dataset struct {
	ID       string `json:"id"`
	VendorID string `json:"vendor_id"`
	Name     string `json:"name"`
}

// Scrape is one fetch of a source document. Scrapes are unique by
// (ProviderID, URI, ScrapedAt).
type Scrape struct {
	ID         int64     `json:"id"`
	ProviderID string    `json:"provider_id"`
	URI        string    `json:"uri"`
	DatasetID  string    `json:"dataset_id"`
	ScrapedAt  time.Time `json:"scraped_at"`
	Doc        string    `json:"doc,omitempty"`
	CSVFile    string    `json:"csv_file"`
	CSVRow     int       `json:"csv_row"`
}

// GeoUnit is a geographic granularity unit (state, county, facility...).
type GeoUnit struct {
	ID         string `json:"id"`
	Resolution string `json:"resolution,omitempty"`
}

// Attribute is a dictionary entry, unique by (DatasetID, Key).
type Attribute struct {
	DatasetID string         `json:"dataset_id"`
	Key       string         `json:"key"`
	Name      string         `json:"name"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Fact is one normalized observation. Facts are append-only.
type Fact struct {
	ScrapeID  int64     `json:"scrape_id"`
	GeoUnitID string    `json:"geounit_id"`
	ValidTime time.Time `json:"valid_time"`
	Attr      string    `json:"attr"`
	Value     string    `json:"value"`
	CSVRow    int       `json:"csv_row"`
	CSVCol    string    `json:"csv_col"`
}
