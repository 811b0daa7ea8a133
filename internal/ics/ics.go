// Package ics renders a case's events as an iCalendar document. It is a pure
// formatter: no network, no state.
package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"legalaid/internal/models"
)

// uidNamespace seeds the deterministic per-event UIDs so re-exporting the same
// case yields the same document.
var uidNamespace = uuid.MustParse("9f2f6c3a-1f5d-4bd6-8a64-2e8f14f7b7c1")

// Generate produces the ICS text for the case and its events: one all-day
// VEVENT per entry. timeZone may be empty when the user never signed in.
func Generate(record models.CaseRecord, entries []models.EventEntry, timeZone string) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//LegalAid//EN")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")
	cal.Props.SetText("X-WR-CALNAME", record.CaseNumber)
	if timeZone != "" {
		cal.Props.SetText("X-WR-TIMEZONE", timeZone)
	}

	for _, entry := range entries {
		cal.Children = append(cal.Children, toVEvent(record, entry))
	}

	var b strings.Builder
	if err := ical.NewEncoder(&b).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return b.String(), nil
}

// FileName is the suggested download name for a case export.
func FileName(record models.CaseRecord) string {
	return fmt.Sprintf("Case_%s_Calendar.ics", record.CaseNumber)
}

func toVEvent(record models.CaseRecord, entry models.EventEntry) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, EventUID(record.CaseNumber, entry))
	ve.Props.SetText(ical.PropSummary, record.Client+": "+entry.Subject)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	setDate(ve, ical.PropDateTimeStart, entry.Date)
	setDate(ve, ical.PropDateTimeEnd, entry.Date.AddDate(0, 0, 1))
	ve.Props.SetText(ical.PropDescription, entry.Description+"\n\n\n\n"+models.EventFooter(record.CaseNumber))
	return ve
}

// setDate writes a DATE-valued property, the all-day form of DTSTART/DTEND.
func setDate(ve *ical.Component, name string, day time.Time) {
	prop := ical.NewProp(name)
	prop.SetValueType(ical.ValueDate)
	prop.Value = day.Format("20060102")
	ve.Props.Set(prop)
}

// EventUID derives a stable UID from the case number, subject and date.
func EventUID(caseNumber string, entry models.EventEntry) string {
	seed := fmt.Sprintf("%s|%s|%s", caseNumber, entry.Subject, entry.Date.Format("2006-01-02"))
	return uuid.NewSHA1(uidNamespace, []byte(seed)).String()
}
