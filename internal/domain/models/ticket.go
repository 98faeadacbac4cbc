package models

import "time"

// Ticket is one service-desk ticket as extracted from the helpdesk database.
type Ticket struct {
	ID            int64
	OpenedAt      time.Time
	SolvedAt      *time.Time
	ClosedAt      *time.Time
	Status        int
	Priority      int
	CategoryID    int64
	CategoryPath  string
	EntityID      int64
	TimeToResolve *float64 // seconds
	HoursToSolve  *float64
}
