package fleet

// MonthlyCount is one month of takeoff and landing totals
type MonthlyCount struct {
	Month    string `json:"month"` // YYYY-MM, UTC
	Takeoffs int    `json:"takeoffs"`
	Landings int    `json:"landings"`
}

// DestinationCount is how often the fleet landed at one airport
type DestinationCount struct {
	Airport string `json:"airport"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
}
