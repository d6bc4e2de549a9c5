package domain

import "time"

// ============================================================
// Tenancy
// ============================================================

// User is the authenticated Supabase subject attached to a request.
type User struct {
	ID    string
	Email string
	Role  string
}

// Business is a tenant owned by a user.
type Business struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Industry    string    `json:"industry,omitempty"`
	City        string    `json:"city,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	Website     string    `json:"website,omitempty"`
	Description string    `json:"description,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BusinessInput is the body for creating or updating a business.
// Nil pointers are left untouched on update.
type BusinessInput struct {
	Name        *string `json:"name,omitempty"`
	Industry    *string `json:"industry,omitempty"`
	City        *string `json:"city,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Email       *string `json:"email,omitempty"`
	Website     *string `json:"website,omitempty"`
	Description *string `json:"description,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// ============================================================
// Leads & review requests
// ============================================================

// LeadRequest is the public contact-form payload.
type LeadRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Lead is a stored contact-form submission.
type Lead struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Message    string    `json:"message,omitempty"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReviewRequestInput asks a customer to leave a review.
type ReviewRequestInput struct {
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

// ReviewRequest is a sent review request.
type ReviewRequest struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"business_id"`
	CustomerName string    `json:"customer_name"`
	Channel      string    `json:"channel"` // sms, email
	Destination  string    `json:"destination"`
	ExternalID   string    `json:"external_id,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// ============================================================
// Bookings (Cal.com)
// ============================================================

// Appointment is a booking synced from Cal.com.
type Appointment struct {
	ID            string    `json:"id,omitempty"`
	BusinessID    string    `json:"business_id"`
	BookingUID    string    `json:"booking_uid"`
	Title         string    `json:"title"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	AttendeeName  string    `json:"attendee_name,omitempty"`
	AttendeeEmail string    `json:"attendee_email,omitempty"`
	Status        string    `json:"status"` // booked, rescheduled, cancelled
	UpdatedAt     time.Time `json:"updated_at"`
}

// ============================================================
// Publishing & reviews
// ============================================================

// PublishRequest is the body for publishing a post to several platforms.
type PublishRequest struct {
	Platforms []Platform `json:"platforms"`
	Text      string     `json:"text"`
	ImageURL  string     `json:"image_url,omitempty"`
}

// PublishResult is the outcome on one platform.
type PublishResult struct {
	Platform   Platform `json:"platform"`
	Status     string   `json:"status"` // published, failed
	ExternalID string   `json:"external_id,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Post is a stored multi-platform publication.
type Post struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	Text       string          `json:"text"`
	ImageURL   string          `json:"image_url,omitempty"`
	Results    []PublishResult `json:"results"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Review is a Google Business Profile review.
type Review struct {
	ID        string     `json:"id"`
	Reviewer  string     `json:"reviewer"`
	Rating    int        `json:"rating"`
	Comment   string     `json:"comment,omitempty"`
	Reply     string     `json:"reply,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RepliedAt *time.Time `json:"replied_at,omitempty"`
}

// ============================================================
// AI content
// ============================================================

// PostDraftRequest asks the model for a social post.
type PostDraftRequest struct {
	Platform Platform `json:"platform"`
	Topic    string   `json:"topic"`
	Tone     string   `json:"tone,omitempty"`
}

// ReviewReplyRequest asks the model for a reply to a review.
type ReviewReplyRequest struct {
	Reviewer string `json:"reviewer"`
	Rating   int    `json:"rating"`
	Text     string `json:"text"`
}

// GeneratedText is model output plus token accounting.
type GeneratedText struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// ChatTurn is one message of a widget conversation.
type ChatTurn struct {
	Role string `json:"role"` // user, assistant
	Text string `json:"text"`
}

// ChatRequest is the public chat widget payload.
type ChatRequest struct {
	Message string     `json:"message"`
	History []ChatTurn `json:"history,omitempty"`
}

// ChatResponse is the widget answer.
type ChatResponse struct {
	Answer string `json:"answer"`
}

// Pagination bounds a list query.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the row offset for the page.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}
