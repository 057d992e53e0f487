package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/Cypherspark/shopsense/internal/core"
)

const productID = "-//ShopSense//Appointments//EN"

// ExportICS writes events as a single VCALENDAR. Times are emitted in UTC.
func ExportICS(w io.Writer, events []core.CalendarEvent, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, ev := range events {
		e := ical.NewEvent()
		e.Props.SetText(ical.PropUID, ev.ID)
		e.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		e.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.DateTime.UTC())
		e.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.DateTime.UTC())
		e.Props.SetText(ical.PropSummary, ev.Summary)
		if ev.Description != "" {
			e.Props.SetText(ical.PropDescription, ev.Description)
		}
		for _, a := range ev.Attendees {
			p := ical.NewProp(ical.PropAttendee)
			p.Value = "mailto:" + a.Email
			if a.DisplayName != "" {
				p.Params.Set(ical.ParamCommonName, a.DisplayName)
			}
			e.Props.Add(p)
		}
		cal.Children = append(cal.Children, e.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode ics: %w", err)
	}
	return nil
}
