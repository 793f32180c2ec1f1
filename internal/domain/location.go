package domain

// Location is a point of interest (a genotype accession) with WGS84 coordinates.
type Location struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CellIndex addresses one grid cell by its offsets into the latitude and longitude axes.
type CellIndex struct {
	Lat int `json:"lat"`
	Lon int `json:"lon"`
}

// LocationTable is a cleaned set of locations together with the load accounting.
type LocationTable struct {
	Locations      []Location
	Fingerprint    string // Stable digest of the cleaned (id, latitude, longitude) rows.
	DroppedInvalid int    // Rows with missing or non-numeric coordinates.
	Duplicates     int    // Rows whose id was already seen.
}
