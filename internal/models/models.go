package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MarkerPropertyID is the Graph single-value extended property schema used to tag
// every event this system creates. The value half of the property is always the
// case number, so events can later be found and deleted without touching anything
// a person or another app put on the calendar.
const MarkerPropertyID = "String {66f5a359-4659-4830-9070-00049ec6ac6e} Name LegalAidCaseNumber"

// CaseRecord identifies one synchronization unit. All remote events created for
// it carry its case number in their marker property.
type CaseRecord struct {
	CaseNumber string `json:"caseNumber"` // unique key, required
	Court      string `json:"court"`
	Client     string `json:"client"` // empty means the user still has to confirm it
	Plaintiff  string `json:"plaintiff"`
	Defendant  string `json:"defendant"`
}

// Validate reports whether the record is complete enough to sync.
func (c CaseRecord) Validate() error {
	if strings.TrimSpace(c.CaseNumber) == "" {
		return fmt.Errorf("case number is required")
	}
	if strings.TrimSpace(c.Client) == "" {
		return fmt.Errorf("client must be confirmed before syncing")
	}
	return nil
}

// EventEntry is one calendar entry extracted from the scheduling order, possibly
// edited by the user. Date is a calendar date; any wall-clock component is
// ignored and events are written as all-day.
type EventEntry struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	IsEditable  bool      `json:"isEditable"`
}

// Validate checks the fields required before the entry may be written remotely.
func (e EventEntry) Validate() error {
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("event subject is required")
	}
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("event description is required")
	}
	if e.Date.IsZero() {
		return fmt.Errorf("event date is required")
	}
	return nil
}

var emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Attendee is a person the events are shared with. ID is the directory object
// id when the attendee came from the directory; manually typed addresses have
// an empty ID.
type Attendee struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Validate checks the address has an email shape.
func (a Attendee) Validate() error {
	if !emailRegexp.MatchString(a.Address) {
		return fmt.Errorf("invalid email address %q", a.Address)
	}
	return nil
}

// MergeAttendees appends extra onto base, dropping entries whose id+address pair
// is already present. Order of first appearance is preserved.
func MergeAttendees(base []Attendee, extra ...Attendee) []Attendee {
	seen := make(map[string]struct{}, len(base)+len(extra))
	merged := make([]Attendee, 0, len(base)+len(extra))
	for _, a := range append(append([]Attendee{}, base...), extra...) {
		key := a.ID + "|" + strings.ToLower(a.Address)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, a)
	}
	return merged
}

// Identity describes the authenticated principal.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	TimeZone    string `json:"timeZone"`
	IsOrg       bool   `json:"isOrg"` // organizational directory member vs personal account
}

// Attendee returns the principal as an attendee entry, so their own calendar
// receives the events too.
func (i Identity) Attendee() Attendee {
	return Attendee{ID: i.ID, Name: i.DisplayName, Address: i.Email}
}

// CalendarRef is the resolved destination container. IsNew controls whether
// stale-event cleanup is skipped; IsOwner controls whether sharing is attempted.
type CalendarRef struct {
	ID      string `json:"id"`
	IsNew   bool   `json:"isNew"`
	IsOwner bool   `json:"isOwner"`
}

// EventMarker tags a remote event as created by this system for one case. A
// fresh value is constructed per sync invocation rather than mutating any shared
// state, so concurrent syncs of different cases can never cross-contaminate.
type EventMarker struct {
	PropertyID string
	Value      string
}

// NewMarker builds the marker for a case number.
func NewMarker(caseNumber string) EventMarker {
	return EventMarker{PropertyID: MarkerPropertyID, Value: caseNumber}
}

// EventFooter is the line appended to every event body, identifying the
// creating system and case so a human reading the event knows where it came
// from.
func EventFooter(caseNumber string) string {
	return fmt.Sprintf("{Event created by: LegalAid | Case %s}", caseNumber)
}
