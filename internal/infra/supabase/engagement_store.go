package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
)

// ============================================================
// EngagementStore implementation: leads, review requests, posts, appointments
// ============================================================

func (c *Client) CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateLead")
	defer span.End()

	row := map[string]any{
		"business_id": lead.BusinessID,
		"name":        lead.Name,
		"email":       lead.Email,
		"phone":       lead.Phone,
		"message":     lead.Message,
		"source":      lead.Source,
	}
	var created domain.Lead
	if err := c.insertRow(ctx, "leads", row, "", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) ListLeads(ctx context.Context, businessID string, p domain.Pagination) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListLeads")
	defer span.End()

	path := fmt.Sprintf("leads?%s&order=created_at.desc&limit=%d&offset=%d",
		eq("business_id", businessID), p.PageSize, p.Offset())
	var rows []domain.Lead
	if err := c.selectRows(ctx, path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) CreateReviewRequest(ctx context.Context, rr *domain.ReviewRequest) (*domain.ReviewRequest, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateReviewRequest")
	defer span.End()

	row := map[string]any{
		"business_id":   rr.BusinessID,
		"customer_name": rr.CustomerName,
		"channel":       rr.Channel,
		"destination":   rr.Destination,
		"external_id":   rr.ExternalID,
		"status":        rr.Status,
	}
	var created domain.ReviewRequest
	if err := c.insertRow(ctx, "review_requests", row, "", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreatePost")
	defer span.End()

	row := map[string]any{
		"business_id": post.BusinessID,
		"text":        post.Text,
		"image_url":   post.ImageURL,
		"results":     post.Results,
	}
	var created domain.Post
	if err := c.insertRow(ctx, "posts", row, "", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpsertAppointment writes the appointment keyed by Cal.com booking uid.
func (c *Client) UpsertAppointment(ctx context.Context, a *domain.Appointment) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertAppointment")
	defer span.End()

	row := map[string]any{
		"business_id":    a.BusinessID,
		"booking_uid":    a.BookingUID,
		"title":          a.Title,
		"start_time":     a.StartTime.UTC(),
		"end_time":       a.EndTime.UTC(),
		"attendee_name":  a.AttendeeName,
		"attendee_email": a.AttendeeEmail,
		"status":         a.Status,
		"updated_at":     time.Now().UTC(),
	}
	return c.insertRow(ctx, "appointments?on_conflict=booking_uid", row,
		"resolution=merge-duplicates,return=minimal", nil)
}

func (c *Client) ListAppointments(ctx context.Context, businessID string, from time.Time) ([]domain.Appointment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAppointments")
	defer span.End()

	path := fmt.Sprintf("appointments?%s&start_time=gte.%s&order=start_time.asc&limit=200",
		eq("business_id", businessID), from.UTC().Format(time.RFC3339))
	var rows []domain.Appointment
	if err := c.selectRows(ctx, path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
