package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"legalaid/internal/batch"
	"legalaid/internal/models"
)

// markedEventsPageSize bounds each page of the stale-event listing; the client
// follows continuation links until none remain.
const markedEventsPageSize = 50

// ResolveCalendar finds the personal calendar named caseNumber, creating one
// when it does not exist. With multiple calendars of the same name the first
// exact match wins.
func (c *Client) ResolveCalendar(ctx context.Context, caseNumber, userEmail string) (models.CalendarRef, error) {
	path := fmt.Sprintf("/me/calendars?$filter=%s&$select=id,name,owner", filterExpr("name", caseNumber))
	var listing struct {
		Value []struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Owner struct {
				Address string `json:"address"`
			} `json:"owner"`
		} `json:"value"`
	}
	if err := c.get(ctx, path, &listing); err != nil {
		return models.CalendarRef{}, fmt.Errorf("failed to look up calendar %q: %w", caseNumber, err)
	}

	if len(listing.Value) > 0 {
		found := listing.Value[0]
		ref := models.CalendarRef{
			ID:      found.ID,
			IsNew:   false,
			IsOwner: strings.EqualFold(found.Owner.Address, userEmail),
		}
		c.logger.Debug("Found existing calendar.", "name", caseNumber, "isOwner", ref.IsOwner)
		return ref, nil
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/me/calendars", map[string]string{"name": caseNumber}, &created); err != nil {
		return models.CalendarRef{}, fmt.Errorf("failed to create calendar %q: %w", caseNumber, err)
	}
	c.logger.Info("Created calendar.", "name", caseNumber)
	return models.CalendarRef{ID: created.ID, IsNew: true, IsOwner: true}, nil
}

// ResolveGroup finds the group whose display name is caseNumber, adding any
// attendees that are not yet members. When no group exists one is created with
// the attendees as members, and the call waits out SettleDelay before
// returning so the directory has a chance to propagate the new group.
//
// Groups are never reported as owned: permission sharing happens through group
// membership, not calendarPermissions.
func (c *Client) ResolveGroup(ctx context.Context, caseNumber string, attendees []models.Attendee) (models.CalendarRef, error) {
	groupID, err := c.findGroupID(ctx, caseNumber)
	if err != nil {
		return models.CalendarRef{}, err
	}

	if groupID != "" {
		if err := c.addMissingMembers(ctx, groupID, attendees); err != nil {
			return models.CalendarRef{}, err
		}
		return models.CalendarRef{ID: groupID, IsNew: false, IsOwner: false}, nil
	}

	groupID, err = c.createGroup(ctx, caseNumber, attendees)
	if err != nil {
		return models.CalendarRef{}, err
	}
	if c.SettleDelay > 0 {
		select {
		case <-time.After(c.SettleDelay):
		case <-ctx.Done():
			return models.CalendarRef{}, ctx.Err()
		}
	}
	return models.CalendarRef{ID: groupID, IsNew: true, IsOwner: false}, nil
}

// findGroupID returns the id of the group display-named name, or "" when no
// such group exists. First exact match wins.
func (c *Client) findGroupID(ctx context.Context, name string) (string, error) {
	path := fmt.Sprintf("/groups?$filter=%s&$select=id,displayName", filterExpr("displayName", name))
	var listing struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := c.get(ctx, path, &listing); err != nil {
		return "", fmt.Errorf("failed to look up group %q: %w", name, err)
	}
	if len(listing.Value) == 0 {
		return "", nil
	}
	return listing.Value[0].ID, nil
}

// GroupMembers lists the current members of a group as attendees.
func (c *Client) GroupMembers(ctx context.Context, groupID string) ([]models.Attendee, error) {
	path := fmt.Sprintf("/groups/%s/members?$select=id,displayName,mail", groupID)
	var listing struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
			Mail        string `json:"mail"`
		} `json:"value"`
	}
	if err := c.get(ctx, path, &listing); err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}

	members := make([]models.Attendee, 0, len(listing.Value))
	for _, m := range listing.Value {
		members = append(members, models.Attendee{ID: m.ID, Name: m.DisplayName, Address: m.Mail})
	}
	return members, nil
}

// FindGroup exposes the lookup for callers that only need the id, such as the
// member-preload endpoint.
func (c *Client) FindGroup(ctx context.Context, name string) (string, error) {
	return c.findGroupID(ctx, name)
}

// addMissingMembers binds every attendee with a directory id that is not
// already a member. The set difference is taken by id; manually entered
// contacts without a directory id cannot be bound.
func (c *Client) addMissingMembers(ctx context.Context, groupID string, attendees []models.Attendee) error {
	members, err := c.GroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(members))
	for _, m := range members {
		existing[m.ID] = struct{}{}
	}

	var bindings []string
	for _, a := range attendees {
		if a.ID == "" {
			continue
		}
		if _, ok := existing[a.ID]; ok {
			continue
		}
		bindings = append(bindings, c.BaseURL+"/directoryObjects/"+a.ID)
	}
	if len(bindings) == 0 {
		return nil
	}

	body := map[string]any{"members@odata.bind": bindings}
	if err := c.patch(ctx, "/groups/"+groupID, body, nil); err != nil {
		return fmt.Errorf("failed to add group members: %w", err)
	}
	c.logger.Info("Added members to existing group.", "groupID", groupID, "added", len(bindings))
	return nil
}

// createGroup creates a unified group named caseNumber with the attendees as
// members. The nominal owner is the configured service contact when it appears
// among the attendees, otherwise the last attendee in the list. That tie-break
// is the documented policy, fragile as it is.
func (c *Client) createGroup(ctx context.Context, caseNumber string, attendees []models.Attendee) (string, error) {
	owner := pickOwner(attendees, c.ServiceContact)

	var members []string
	for _, a := range attendees {
		if a.ID != "" {
			members = append(members, c.BaseURL+"/users/"+a.ID)
		}
	}

	body := map[string]any{
		"displayName":     caseNumber,
		"mailNickname":    mailNickname(caseNumber),
		"mailEnabled":     true,
		"securityEnabled": false,
		"groupTypes":      []string{"Unified"},
	}
	if len(members) > 0 {
		body["members@odata.bind"] = members
	}
	if owner != nil && owner.ID != "" {
		body["owners@odata.bind"] = []string{c.BaseURL + "/users/" + owner.ID}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/groups", body, &created); err != nil {
		return "", fmt.Errorf("failed to create group %q: %w", caseNumber, err)
	}
	c.logger.Info("Created group.", "name", caseNumber, "groupID", created.ID)
	return created.ID, nil
}

func pickOwner(attendees []models.Attendee, serviceContact string) *models.Attendee {
	if len(attendees) == 0 {
		return nil
	}
	for i := range attendees {
		if serviceContact != "" && strings.EqualFold(attendees[i].Address, serviceContact) {
			return &attendees[i]
		}
	}
	return &attendees[len(attendees)-1]
}

// ListMarkedEvents pages through all events under containerPath and returns
// the ids of those carrying the given marker. The server-side filter narrows
// the listing; the marker value is still verified on every returned event, so
// nothing without the exact case marker can be reported for deletion.
func (c *Client) ListMarkedEvents(ctx context.Context, containerPath string, marker models.EventMarker) ([]string, error) {
	filter := fmt.Sprintf("singleValueExtendedProperties/any(ep:ep/id eq '%s' and ep/value eq '%s')",
		escapeODataString(marker.PropertyID), escapeODataString(marker.Value))
	expand := fmt.Sprintf("singleValueExtendedProperties($filter=id eq '%s')", escapeODataString(marker.PropertyID))
	next := fmt.Sprintf("%s%s/events?$select=id,subject&$filter=%s&$expand=%s&$top=%d",
		c.BaseURL, containerPath, url.QueryEscape(filter), url.QueryEscape(expand), markedEventsPageSize)

	var ids []string
	for next != "" {
		var page struct {
			Value []struct {
				ID         string `json:"id"`
				Properties []struct {
					ID    string `json:"id"`
					Value string `json:"value"`
				} `json:"singleValueExtendedProperties"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, "GET", next, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to enumerate events: %w", err)
		}

		for _, event := range page.Value {
			for _, prop := range event.Properties {
				if prop.ID == marker.PropertyID && prop.Value == marker.Value {
					ids = append(ids, event.ID)
					break
				}
			}
		}
		next = page.NextLink
	}
	return ids, nil
}

// SubmitBatch sends one chunk of sub-requests to the batch endpoint. It
// implements batch.Submitter.
func (c *Client) SubmitBatch(ctx context.Context, requests []batch.Request) ([]batch.Result, error) {
	var response struct {
		Responses []batch.Result `json:"responses"`
	}
	if err := c.post(ctx, "/$batch", map[string]any{"requests": requests}, &response); err != nil {
		return nil, fmt.Errorf("batch submission failed: %w", err)
	}
	return response.Responses, nil
}

// filterExpr builds an URL-escaped exact-equality OData filter.
func filterExpr(field, value string) string {
	return url.QueryEscape(fmt.Sprintf("%s eq '%s'", field, escapeODataString(value)))
}

// escapeODataString doubles single quotes per OData string-literal rules.
func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// mailNickname derives a provider-acceptable nickname from a case number.
func mailNickname(caseNumber string) string {
	var b strings.Builder
	for _, r := range caseNumber {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "case"
	}
	return b.String()
}
