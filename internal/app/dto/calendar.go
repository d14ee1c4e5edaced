package dto

import (
	"staybook/internal/domain/shared/daterange"
)

type Calendar struct {
	ListingID string   `json:"listing_id"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Reserved  []string `json:"reserved"`
}

func MapCalendar(listingID string, from, to daterange.Day, reserved []daterange.Day) Calendar {
	days := make([]string, 0, len(reserved))
	for _, d := range reserved {
		days = append(days, d.String())
	}
	return Calendar{
		ListingID: listingID,
		From:      from.String(),
		To:        to.String(),
		Reserved:  days,
	}
}
