package handler

import "beacon/internal/strategy"

// EventsResponse wraps the most recent raw transitions, oldest first.
type EventsResponse struct {
	Events []strategy.TransitionEvent `json:"events"`
	Total  int                        `json:"total"`
}

// CurrentResponse maps each evaluated domain to its last strategy.
type CurrentResponse struct {
	Strategies map[string]strategy.Strategy `json:"strategies"`
}
