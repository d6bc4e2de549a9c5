package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// ConnectionStore implementation: social_connections via PostgREST
// ============================================================

const connectionsTable = "social_connections"

func (c *Client) GetConnection(ctx context.Context, businessID string, platform domain.Platform) (*domain.SocialConnection, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetConnection")
	defer span.End()
	span.SetAttributes(
		attribute.String("business.id", businessID),
		attribute.String("platform", string(platform)),
	)

	path := fmt.Sprintf("%s?%s&%s&limit=1", connectionsTable, eq("business_id", businessID), eq("platform", string(platform)))
	var rows []domain.SocialConnection
	if err := c.selectRows(ctx, path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) ListConnections(ctx context.Context, businessID string) ([]domain.SocialConnection, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListConnections")
	defer span.End()

	path := fmt.Sprintf("%s?%s&order=platform.asc", connectionsTable, eq("business_id", businessID))
	var rows []domain.SocialConnection
	if err := c.selectRows(ctx, path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListExpiringConnections returns active connections whose access token
// expires before the given instant and that can still be refreshed.
func (c *Client) ListExpiringConnections(ctx context.Context, before time.Time) ([]domain.SocialConnection, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListExpiringConnections")
	defer span.End()

	path := fmt.Sprintf("%s?is_active=is.true&refresh_token_encrypted=neq.&expires_at=lt.%s&order=expires_at.asc&limit=500",
		connectionsTable, before.UTC().Format(time.RFC3339))
	var rows []domain.SocialConnection
	if err := c.selectRows(ctx, path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertConnection inserts or replaces the (business_id, platform) row.
func (c *Client) UpsertConnection(ctx context.Context, conn *domain.SocialConnection) (*domain.SocialConnection, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertConnection")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(conn.Platform)))

	row := map[string]any{
		"user_id":                 conn.UserID,
		"business_id":             conn.BusinessID,
		"platform":                conn.Platform,
		"platform_user_id":        conn.PlatformUserID,
		"platform_username":       conn.PlatformUsername,
		"access_token_encrypted":  conn.AccessTokenEnc,
		"refresh_token_encrypted": conn.RefreshTokenEnc,
		"expires_at":              conn.ExpiresAt,
		"scopes":                  nonNilStrings(conn.Scopes),
		"is_active":               conn.IsActive,
		"metadata":                nonNilMap(conn.Metadata),
		"updated_at":              time.Now().UTC(),
	}

	var saved domain.SocialConnection
	path := connectionsTable + "?on_conflict=business_id,platform"
	if err := c.insertRow(ctx, path, row, "resolution=merge-duplicates,return=representation", &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *Client) UpdateConnection(ctx context.Context, connectionID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateConnection")
	defer span.End()

	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return c.patch(ctx, fmt.Sprintf("%s?%s", connectionsTable, eq("id", connectionID)), updates, nil)
}

func (c *Client) DeleteConnection(ctx context.Context, businessID string, platform domain.Platform) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteConnection")
	defer span.End()

	path := fmt.Sprintf("%s?%s&%s", connectionsTable, eq("business_id", businessID), eq("platform", string(platform)))
	n, err := c.remove(ctx, path)
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "connection", ID: string(platform)}
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
