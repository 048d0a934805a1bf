package domain

// Plan caps how many projects and daily logs an account may hold.
type Plan struct {
	ID           string
	Name         string
	Price        float64
	Description  string
	MaxProjects  int
	MaxDailyLogs int
}
