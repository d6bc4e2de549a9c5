package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
)

// ============================================================
// BusinessStore implementation
// ============================================================

const businessesTable = "businesses"

func (c *Client) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetBusiness")
	defer span.End()

	var rows []domain.Business
	if err := c.selectRows(ctx, fmt.Sprintf("%s?%s&limit=1", businessesTable, eq("id", businessID)), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) ListBusinesses(ctx context.Context, ownerID string) ([]domain.Business, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListBusinesses")
	defer span.End()

	var rows []domain.Business
	path := fmt.Sprintf("%s?%s&order=created_at.asc", businessesTable, eq("owner_id", ownerID))
	if err := c.selectRows(ctx, path, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) CreateBusiness(ctx context.Context, b *domain.Business) (*domain.Business, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateBusiness")
	defer span.End()

	row := map[string]any{
		"owner_id":    b.OwnerID,
		"name":        b.Name,
		"industry":    b.Industry,
		"city":        b.City,
		"phone":       b.Phone,
		"email":       b.Email,
		"website":     b.Website,
		"description": b.Description,
		"timezone":    b.Timezone,
	}

	var created domain.Business
	if err := c.insertRow(ctx, businessesTable, row, "", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateBusiness(ctx context.Context, businessID string, updates map[string]any) (*domain.Business, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateBusiness")
	defer span.End()

	updates["updated_at"] = time.Now().UTC()

	var updated domain.Business
	if err := c.patch(ctx, fmt.Sprintf("%s?%s", businessesTable, eq("id", businessID)), updates, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
