package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalaid/internal/batch"
	"legalaid/internal/models"
)

// fakeProvider scripts the remote side of a sync run and records everything
// the orchestrator asked of it.
type fakeProvider struct {
	identity    models.Identity
	identityErr error

	calendarRef models.CalendarRef
	calendarErr error
	groupRef    models.CalendarRef
	groupErr    error

	markedIDs []string
	markedErr error

	statusFor map[string]int // request id -> batch status, default 201

	meCalls        int
	listCalls      int
	groupAttendees []models.Attendee
	submitted      [][]batch.Request
}

func (f *fakeProvider) Me(context.Context) (models.Identity, error) {
	f.meCalls++
	if f.identityErr != nil {
		return models.Identity{}, f.identityErr
	}
	return f.identity, nil
}

func (f *fakeProvider) ResolveCalendar(_ context.Context, _, _ string) (models.CalendarRef, error) {
	if f.calendarErr != nil {
		return models.CalendarRef{}, f.calendarErr
	}
	return f.calendarRef, nil
}

func (f *fakeProvider) ResolveGroup(_ context.Context, _ string, attendees []models.Attendee) (models.CalendarRef, error) {
	f.groupAttendees = attendees
	if f.groupErr != nil {
		return models.CalendarRef{}, f.groupErr
	}
	return f.groupRef, nil
}

func (f *fakeProvider) ListMarkedEvents(_ context.Context, _ string, _ models.EventMarker) ([]string, error) {
	f.listCalls++
	if f.markedErr != nil {
		return nil, f.markedErr
	}
	return f.markedIDs, nil
}

func (f *fakeProvider) SubmitBatch(_ context.Context, requests []batch.Request) ([]batch.Result, error) {
	f.submitted = append(f.submitted, requests)
	results := make([]batch.Result, 0, len(requests))
	for _, req := range requests {
		status := 201
		if s, ok := f.statusFor[req.ID]; ok {
			status = s
		}
		results = append(results, batch.Result{RequestID: req.ID, Status: status, Body: []byte(`{}`)})
	}
	return results, nil
}

// allRequests flattens the submitted chunks in order.
func (f *fakeProvider) allRequests() []batch.Request {
	var all []batch.Request
	for _, chunk := range f.submitted {
		all = append(all, chunk...)
	}
	return all
}

func (f *fakeProvider) requestsTo(fragment string) []batch.Request {
	var hits []batch.Request
	for _, req := range f.allRequests() {
		if strings.Contains(req.URL, fragment) {
			hits = append(hits, req)
		}
	}
	return hits
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func personalIdentity() models.Identity {
	return models.Identity{
		ID:          "user-1",
		DisplayName: "Jane Doe",
		Email:       "jane@example.com",
		TimeZone:    "Pacific Standard Time",
		IsOrg:       false,
	}
}

func testInput(eventCount int) Input {
	events := make([]models.EventEntry, 0, eventCount)
	for i := 0; i < eventCount; i++ {
		events = append(events, models.EventEntry{
			ID:          fmt.Sprintf("e-%d", i+1),
			Subject:     fmt.Sprintf("Deadline %d", i+1),
			Description: "Per scheduling order",
			Date:        time.Date(2026, 9, 14+i%10, 0, 0, 0, 0, time.UTC),
		})
	}
	return Input{
		Case:   models.CaseRecord{CaseNumber: "CASE-001", Client: "Acme Corp"},
		Events: events,
		Attendees: []models.Attendee{
			{ID: "c-1", Name: "Carol Counsel", Address: "carol@firm.example.com"},
		},
	}
}

func TestSyncNewCalendarSkipsCleanup(t *testing.T) {
	// Scenario A: no calendar named for the case exists yet.
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarRef: models.CalendarRef{ID: "cal-1", IsNew: true, IsOwner: true},
	}
	s := NewSyncer(testLogger(), provider)

	var states []State
	s.OnState = func(state State) { states = append(states, state) }

	outcome, err := s.Sync(context.Background(), testInput(3))
	require.NoError(t, err)

	assert.Equal(t, 0, provider.listCalls, "reconciler must be skipped for a new container")
	assert.Equal(t, 0, outcome.Removed)
	assert.Equal(t, 3, outcome.Created)
	assert.True(t, outcome.Container.IsNew)
	assert.Equal(t, []State{StateResolving, StateCleaning, StateSharing, StateWriting, StateSuccess}, states)
	assert.Equal(t, StateSuccess, s.State())

	// Owner of a fresh calendar shares it with the attendees.
	shares := provider.requestsTo("calendarPermissions")
	assert.Len(t, shares, 2) // selected contact + implicit current user
}

func TestSyncExistingForeignCalendar(t *testing.T) {
	// Scenario B: container exists and belongs to someone else.
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarRef: models.CalendarRef{ID: "cal-1", IsNew: false, IsOwner: false},
		markedIDs:   []string{"old-1", "old-2"},
	}
	s := NewSyncer(testLogger(), provider)

	outcome, err := s.Sync(context.Background(), testInput(2))
	require.NoError(t, err)

	assert.Empty(t, provider.requestsTo("calendarPermissions"), "sharing must be skipped for foreign calendars")
	assert.Equal(t, 1, provider.listCalls, "cleanup still runs")
	assert.Equal(t, 2, outcome.Removed)
	assert.Equal(t, 2, outcome.Created)

	deletes := provider.requestsTo("/events/old-")
	require.Len(t, deletes, 2)
	for _, del := range deletes {
		assert.Equal(t, "DELETE", del.Method)
	}
}

func TestSyncPartialItemFailureStillSucceeds(t *testing.T) {
	// Scenario D: one write in a chunk is rejected with 403.
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarRef: models.CalendarRef{ID: "cal-1", IsNew: true, IsOwner: true},
		statusFor:   map[string]int{"7": 403},
	}
	s := NewSyncer(testLogger(), provider)

	outcome, err := s.Sync(context.Background(), testInput(45))
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, s.State())
	assert.Equal(t, 45, outcome.Created)

	// 45 writes dispatch as chunks of 20, 20, 5 (plus one share chunk).
	writes := provider.requestsTo("/events")
	assert.Len(t, writes, 45)
	var writeChunks []int
	for _, chunk := range provider.submitted {
		if strings.Contains(chunk[0].URL, "/events") {
			writeChunks = append(writeChunks, len(chunk))
		}
	}
	assert.Equal(t, []int{20, 20, 5}, writeChunks)
}

func TestSyncEnumerationFailureAbortsBeforeWriting(t *testing.T) {
	// Scenario E: stale-event enumeration dies.
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarRef: models.CalendarRef{ID: "cal-1", IsNew: false, IsOwner: true},
		markedErr:   fmt.Errorf("network is down"),
	}
	s := NewSyncer(testLogger(), provider)

	_, err := s.Sync(context.Background(), testInput(2))

	var cleanupErr *StaleEventCleanupError
	require.ErrorAs(t, err, &cleanupErr)
	assert.Equal(t, StateEditing, s.State())
	assert.Empty(t, provider.requestsTo("/events"), "no write may be attempted after a failed cleanup")

	user := AsUserError(err)
	assert.Equal(t, "Error removing old events", user.Message)
	assert.Contains(t, user.Debug, "network is down")
}

func TestSyncIdentityFailure(t *testing.T) {
	provider := &fakeProvider{identityErr: fmt.Errorf("token expired")}
	s := NewSyncer(testLogger(), provider)

	_, err := s.Sync(context.Background(), testInput(1))

	var identityErr *IdentityResolutionError
	require.ErrorAs(t, err, &identityErr)
	assert.Equal(t, StateEditing, s.State())
	assert.Empty(t, provider.submitted)
}

func TestSyncContainerFailure(t *testing.T) {
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarErr: fmt.Errorf("calendar listing unavailable"),
	}
	s := NewSyncer(testLogger(), provider)

	_, err := s.Sync(context.Background(), testInput(1))

	var containerErr *ContainerResolutionError
	require.ErrorAs(t, err, &containerErr)
	assert.Equal(t, "Error Getting Calendar", AsUserError(err).Message)
	assert.Empty(t, provider.submitted)
}

func TestSyncIdentityCachedAcrossRuns(t *testing.T) {
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarRef: models.CalendarRef{ID: "cal-1", IsNew: true, IsOwner: true},
	}
	s := NewSyncer(testLogger(), provider)

	_, err := s.Sync(context.Background(), testInput(1))
	require.NoError(t, err)
	_, err = s.Sync(context.Background(), testInput(1))
	require.NoError(t, err)

	assert.Equal(t, 1, provider.meCalls)
}

func TestSyncOrgBranchUsesGroup(t *testing.T) {
	provider := &fakeProvider{
		identity: models.Identity{
			ID:          "3d5757a1-8c83-4e0e-93ab-8f1b11a458a5",
			DisplayName: "Org User",
			Email:       "org@tenant.example.com",
			TimeZone:    "Eastern Standard Time",
			IsOrg:       true,
		},
		groupRef:  models.CalendarRef{ID: "grp-1", IsNew: false, IsOwner: false},
		markedIDs: []string{"old-1"},
	}
	s := NewSyncer(testLogger(), provider)

	outcome, err := s.Sync(context.Background(), testInput(2))
	require.NoError(t, err)

	assert.Equal(t, "grp-1", outcome.Container.ID)
	// The implicit current-user attendee reaches the group resolver too.
	addresses := make([]string, 0, len(provider.groupAttendees))
	for _, a := range provider.groupAttendees {
		addresses = append(addresses, a.Address)
	}
	assert.Contains(t, addresses, "org@tenant.example.com")

	for _, req := range provider.requestsTo("/events") {
		assert.True(t, strings.HasPrefix(req.URL, "/groups/grp-1/"), "writes must target the group, got %s", req.URL)
	}
	assert.Empty(t, provider.requestsTo("calendarPermissions"))
}

func TestSyncValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		reason string
	}{
		{
			name:   "unconfirmed client",
			mutate: func(in *Input) { in.Case.Client = "" },
			reason: "client",
		},
		{
			name:   "no events",
			mutate: func(in *Input) { in.Events = nil },
			reason: "no events",
		},
		{
			name:   "unsaved event",
			mutate: func(in *Input) { in.Events[0].IsEditable = true },
			reason: "unsaved",
		},
		{
			name:   "empty subject",
			mutate: func(in *Input) { in.Events[0].Subject = "" },
			reason: "subject",
		},
		{
			name:   "bad attendee email",
			mutate: func(in *Input) { in.Attendees[0].Address = "nope" },
			reason: "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{identity: personalIdentity()}
			s := NewSyncer(testLogger(), provider)

			input := testInput(2)
			tt.mutate(&input)

			_, err := s.Sync(context.Background(), input)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Reason, tt.reason)
			assert.Equal(t, StateEditing, s.State())
			assert.Equal(t, 0, provider.meCalls, "validation errors must not reach the provider")
		})
	}
}

func TestSyncRerunRemovesWhatItWrote(t *testing.T) {
	// Idempotence across runs: the second sync removes as many marked events
	// as the first one created before writing the set again.
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarRef: models.CalendarRef{ID: "cal-1", IsNew: true, IsOwner: true},
	}
	s := NewSyncer(testLogger(), provider)

	first, err := s.Sync(context.Background(), testInput(5))
	require.NoError(t, err)
	require.Equal(t, 5, first.Created)

	// The calendar now exists and holds the five marked events.
	provider.calendarRef = models.CalendarRef{ID: "cal-1", IsNew: false, IsOwner: true}
	provider.markedIDs = []string{"w-1", "w-2", "w-3", "w-4", "w-5"}

	second, err := s.Sync(context.Background(), testInput(5))
	require.NoError(t, err)
	assert.Equal(t, first.Created, second.Removed)
	assert.Equal(t, 5, second.Created)
}

func TestWritePayloadShape(t *testing.T) {
	provider := &fakeProvider{
		identity:    personalIdentity(),
		calendarRef: models.CalendarRef{ID: "cal-1", IsNew: true, IsOwner: true},
	}
	s := NewSyncer(testLogger(), provider)

	input := testInput(1)
	_, err := s.Sync(context.Background(), input)
	require.NoError(t, err)

	writes := provider.requestsTo("/me/calendars/cal-1/events")
	require.Len(t, writes, 1)
	req := writes[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "CASE-001", req.ClientTransaction)

	payload, ok := req.Body.(eventPayload)
	require.True(t, ok)
	assert.Equal(t, "Acme Corp: Deadline 1", payload.Subject)
	assert.True(t, payload.IsAllDay)
	assert.Equal(t, "free", payload.ShowAs)
	assert.Equal(t, "2026-09-14T00:00:00", payload.Start.DateTime)
	assert.Equal(t, "2026-09-15T00:00:00", payload.End.DateTime)
	assert.Equal(t, "Pacific Standard Time", payload.Start.TimeZone)
	assert.Contains(t, payload.Body["content"], models.EventFooter("CASE-001"))

	require.Len(t, payload.ExtendedProperties, 1)
	assert.Equal(t, models.MarkerPropertyID, payload.ExtendedProperties[0].ID)
	assert.Equal(t, "CASE-001", payload.ExtendedProperties[0].Value)

	// Selected contact plus the implicit current user attend.
	require.Len(t, payload.Attendees, 2)
	assert.Equal(t, "carol@firm.example.com", payload.Attendees[0].EmailAddress.Address)
	assert.Equal(t, "jane@example.com", payload.Attendees[1].EmailAddress.Address)

	// The payload must serialize to the provider's wire shape.
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"singleValueExtendedProperties"`)
}
