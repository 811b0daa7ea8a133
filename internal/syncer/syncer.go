// Package syncer coordinates the multi-step synchronization of a case's
// events into the user's Outlook calendar or organizational group: resolve
// identity, resolve or create the destination container, remove events this
// system previously created for the case, share, then write the current set.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"legalaid/internal/batch"
	"legalaid/internal/models"
)

// State is the orchestrator's position in the sync workflow. Any fatal error
// returns the machine to StateEditing; the user may retry the whole operation.
type State string

const (
	StateEditing   State = "editing"
	StateResolving State = "resolving"
	StateCleaning  State = "cleaning"
	StateSharing   State = "sharing"
	StateWriting   State = "writing"
	StateSuccess   State = "success"
)

// Provider is the directory/calendar API surface the orchestrator depends on.
// *graph.Client implements it.
type Provider interface {
	Me(ctx context.Context) (models.Identity, error)
	ResolveCalendar(ctx context.Context, caseNumber, userEmail string) (models.CalendarRef, error)
	ResolveGroup(ctx context.Context, caseNumber string, attendees []models.Attendee) (models.CalendarRef, error)
	ListMarkedEvents(ctx context.Context, containerPath string, marker models.EventMarker) ([]string, error)
	batch.Submitter
}

// Input is the locally edited state consumed, read-only, by one sync run.
type Input struct {
	Case      models.CaseRecord   `json:"case"`
	Events    []models.EventEntry `json:"events"`
	Attendees []models.Attendee   `json:"attendees"`
}

// Outcome summarizes a successful run.
type Outcome struct {
	Container models.CalendarRef `json:"container"`
	Removed   int                `json:"removed"` // stale events deleted
	Created   int                `json:"created"` // write requests dispatched
}

// Syncer runs sync operations against one authenticated session. The resolved
// identity is cached across runs; the container is resolved fresh every run.
type Syncer struct {
	logger     *slog.Logger
	provider   Provider
	dispatcher *batch.Dispatcher

	identity *models.Identity
	state    State

	// OnState, when set, observes every state transition.
	OnState func(State)
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, provider Provider) *Syncer {
	return &Syncer{
		logger:     logger,
		provider:   provider,
		dispatcher: batch.NewDispatcher(provider, logger),
		state:      StateEditing,
	}
}

// State returns the current workflow state.
func (s *Syncer) State() State { return s.state }

func (s *Syncer) setState(state State) {
	s.state = state
	if s.OnState != nil {
		s.OnState(state)
	}
}

// Sync runs the full workflow for one case. Stages run in strict sequence;
// nothing is written before cleanup finished. On failure the state machine
// returns to editing and the error carries a user-facing {message, debug}
// pair via AsUserError. Partially applied remote writes are not rolled back.
func (s *Syncer) Sync(ctx context.Context, input Input) (outcome *Outcome, err error) {
	defer func() {
		if err != nil {
			s.setState(StateEditing)
		}
	}()

	if verr := validate(input); verr != nil {
		return nil, verr
	}

	s.setState(StateResolving)
	identity, err := s.resolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	// The current user always attends, so the events land on their own
	// calendar as well.
	attendees := models.MergeAttendees(input.Attendees, identity.Attendee())

	container, containerPath, err := s.resolveContainer(ctx, identity, input.Case.CaseNumber, attendees)
	if err != nil {
		return nil, err
	}

	marker := models.NewMarker(input.Case.CaseNumber)

	s.setState(StateCleaning)
	removed := 0
	if !container.IsNew {
		removed, err = s.removeStaleEvents(ctx, containerPath, marker)
		if err != nil {
			return nil, err
		}
	}

	s.setState(StateSharing)
	if container.IsOwner {
		s.shareCalendar(ctx, container.ID, input.Case.CaseNumber, attendees)
	}

	s.setState(StateWriting)
	writes := buildWriteRequests(containerPath, input.Case, input.Events, attendees, marker, identity.TimeZone)
	if _, err := s.dispatcher.Dispatch(ctx, writes); err != nil {
		return nil, &BatchDispatchError{Err: err}
	}

	s.setState(StateSuccess)
	s.logger.Info("Sync complete.", "case", input.Case.CaseNumber, "created", len(writes), "removed", removed)
	return &Outcome{Container: container, Removed: removed, Created: len(writes)}, nil
}

// Reset returns the machine to editing, e.g. after the UI showed its success
// screen and navigated away.
func (s *Syncer) Reset() { s.setState(StateEditing) }

func validate(input Input) error {
	if err := input.Case.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if len(input.Events) == 0 {
		return &ValidationError{Reason: "no events to sync"}
	}
	for _, entry := range input.Events {
		if entry.IsEditable {
			return &ValidationError{Reason: fmt.Sprintf("event %q has unsaved edits", entry.Subject)}
		}
		if err := entry.Validate(); err != nil {
			return &ValidationError{Reason: err.Error()}
		}
	}
	for _, attendee := range input.Attendees {
		if err := attendee.Validate(); err != nil {
			return &ValidationError{Reason: err.Error()}
		}
	}
	return nil
}

// resolveIdentity resolves the principal once per session and caches it.
func (s *Syncer) resolveIdentity(ctx context.Context) (models.Identity, error) {
	if s.identity != nil {
		return *s.identity, nil
	}
	identity, err := s.provider.Me(ctx)
	if err != nil {
		return models.Identity{}, &IdentityResolutionError{Err: err}
	}
	s.identity = &identity
	return identity, nil
}

// resolveContainer picks the destination per the identity classification:
// organizational members get a group named after the case, personal accounts
// a calendar. The returned path is the prefix all event operations use.
func (s *Syncer) resolveContainer(ctx context.Context, identity models.Identity, caseNumber string, attendees []models.Attendee) (models.CalendarRef, string, error) {
	if identity.IsOrg {
		ref, err := s.provider.ResolveGroup(ctx, caseNumber, attendees)
		if err != nil {
			return models.CalendarRef{}, "", &ContainerResolutionError{Err: err}
		}
		return ref, "/groups/" + ref.ID, nil
	}

	ref, err := s.provider.ResolveCalendar(ctx, caseNumber, identity.Email)
	if err != nil {
		return models.CalendarRef{}, "", &ContainerResolutionError{Err: err}
	}
	return ref, "/me/calendars/" + ref.ID, nil
}

// removeStaleEvents deletes exactly the events carrying this case's marker.
// Failing to enumerate is fatal; so is a delete dispatch that dies at a chunk
// boundary, because writing over unremoved events would duplicate them.
// Individually rejected deletes are logged by the dispatcher and tolerated.
func (s *Syncer) removeStaleEvents(ctx context.Context, containerPath string, marker models.EventMarker) (int, error) {
	staleIDs, err := s.provider.ListMarkedEvents(ctx, containerPath, marker)
	if err != nil {
		return 0, &StaleEventCleanupError{Err: err}
	}
	if len(staleIDs) == 0 {
		return 0, nil
	}

	s.logger.Info("Removing stale events.", "case", marker.Value, "count", len(staleIDs))
	deletes := buildDeleteRequests(containerPath, marker.Value, staleIDs)
	if _, err := s.dispatcher.Dispatch(ctx, deletes); err != nil {
		return 0, &StaleEventCleanupError{Err: err}
	}
	return len(staleIDs), nil
}

// shareCalendar grants the attendees write access. Sharing failures are
// logged and do not stop the write phase; the events are still worth
// creating on the owner's calendar.
func (s *Syncer) shareCalendar(ctx context.Context, calendarID, caseNumber string, attendees []models.Attendee) {
	if len(attendees) == 0 {
		return
	}
	shares := buildShareRequests(calendarID, caseNumber, attendees)
	if _, err := s.dispatcher.Dispatch(ctx, shares); err != nil {
		s.logger.Error("Failed to share calendar", "case", caseNumber, "error", err)
	}
}
