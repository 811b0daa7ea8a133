package syncer

import (
	"strconv"

	"legalaid/internal/batch"
	"legalaid/internal/models"
)

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type eventAttendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type"`
}

type extendedProperty struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// eventPayload is the Graph event resource written for one entry.
type eventPayload struct {
	Subject            string             `json:"subject"`
	Body               map[string]string  `json:"body"`
	Start              dateTimeTimeZone   `json:"start"`
	End                dateTimeTimeZone   `json:"end"`
	IsAllDay           bool               `json:"isAllDay"`
	ShowAs             string             `json:"showAs"`
	Attendees          []eventAttendee    `json:"attendees,omitempty"`
	ExtendedProperties []extendedProperty `json:"singleValueExtendedProperties"`
}

// buildWriteRequests translates the edited entries into one POST per event,
// all-day [date, date+1) in the user's timezone, subject prefixed with the
// client name, marker attached, showAs free so the entries never block
// availability.
func buildWriteRequests(containerPath string, record models.CaseRecord, entries []models.EventEntry, attendees []models.Attendee, marker models.EventMarker, timeZone string) []batch.Request {
	eventAttendees := make([]eventAttendee, 0, len(attendees))
	for _, a := range attendees {
		eventAttendees = append(eventAttendees, eventAttendee{
			EmailAddress: emailAddress{Name: a.Name, Address: a.Address},
			Type:         "required",
		})
	}

	requests := make([]batch.Request, 0, len(entries))
	for i, entry := range entries {
		day := entry.Date
		payload := eventPayload{
			Subject: record.Client + ": " + entry.Subject,
			Body: map[string]string{
				"contentType": "text",
				"content":     entry.Description + "\n\n\n\n" + models.EventFooter(record.CaseNumber),
			},
			Start:              dateTimeTimeZone{DateTime: day.Format("2006-01-02") + "T00:00:00", TimeZone: timeZone},
			End:                dateTimeTimeZone{DateTime: day.AddDate(0, 0, 1).Format("2006-01-02") + "T00:00:00", TimeZone: timeZone},
			IsAllDay:           true,
			ShowAs:             "free",
			Attendees:          eventAttendees,
			ExtendedProperties: []extendedProperty{{ID: marker.PropertyID, Value: marker.Value}},
		}
		requests = append(requests, batch.Request{
			ID:                strconv.Itoa(i + 1),
			Method:            "POST",
			URL:               containerPath + "/events",
			Body:              payload,
			Headers:           map[string]string{"Content-Type": "application/json"},
			ClientTransaction: record.CaseNumber,
		})
	}
	return requests
}

// buildDeleteRequests issues one DELETE per stale event id. The event id
// doubles as the sub-request id, which keeps failure logs traceable.
func buildDeleteRequests(containerPath, caseNumber string, eventIDs []string) []batch.Request {
	requests := make([]batch.Request, 0, len(eventIDs))
	for _, id := range eventIDs {
		requests = append(requests, batch.Request{
			ID:                id,
			Method:            "DELETE",
			URL:               containerPath + "/events/" + id,
			ClientTransaction: caseNumber,
		})
	}
	return requests
}

// buildShareRequests grants every attendee write access to the calendar.
func buildShareRequests(calendarID, caseNumber string, attendees []models.Attendee) []batch.Request {
	requests := make([]batch.Request, 0, len(attendees))
	for i, a := range attendees {
		requests = append(requests, batch.Request{
			ID:     strconv.Itoa(i + 1),
			Method: "POST",
			URL:    "/me/calendars/" + calendarID + "/calendarPermissions",
			Body: map[string]any{
				"emailAddress": emailAddress{Name: a.Name, Address: a.Address},
				"role":         "write",
			},
			Headers:           map[string]string{"Content-Type": "application/json"},
			ClientTransaction: caseNumber,
		})
	}
	return requests
}
