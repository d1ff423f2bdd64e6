package models

// Localized carries the Portuguese and English renderings of a text.
type Localized struct {
	PT string `json:"pt" yaml:"pt"`
	EN string `json:"en" yaml:"en"`
}

// Slot is one bookable reservation time on a given date.
type Slot struct {
	Time     string `json:"time"`
	Capacity int    `json:"capacity"`
	Booked   int    `json:"booked"`
}

// Available reports whether the slot still has free seats.
func (s Slot) Available() bool {
	return s.Booked < s.Capacity
}

// MenuItem is one dish or drink in a menu category.
type MenuItem struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Name        Localized `json:"name"`
	Description Localized `json:"description"`
	PriceCents  int64     `json:"priceCents"`
	Available   bool      `json:"available"`
}
