package domain

import "time"

// Institution is a registered establishment that visitors can rate.
type Institution struct {
	ID        int64
	Name      string
	Type      string
	Email     string
	CreatedAt time.Time
}
