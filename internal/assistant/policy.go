package assistant

import "senteros-chat/internal/models"

// Route names the backend and model a request goes to
type Route struct {
	Backend     string
	Model       string
	MaxTokens   int64
	Temperature float64
	// Images sends user image references as content parts; otherwise they are dropped
	Images bool
}

// Policy chooses a route for a turn list
type Policy interface {
	Select(turns []models.Turn) Route
}

// AttachmentPolicy sends turns whose most recent user turn carries an image
// to the vision route and everything else to the text route.
type AttachmentPolicy struct {
	Text   Route
	Vision Route
}

// Select implements Policy
func (p AttachmentPolicy) Select(turns []models.Turn) Route {
	last, ok := models.LastUserTurn(turns)
	if ok && last.HasImage() && p.Vision.Backend != "" {
		return p.Vision
	}
	return p.Text
}

// Fallback is the text route. Image turns use it when the vision backend
// is not configured, with their images dropped.
func (p AttachmentPolicy) Fallback() Route {
	return p.Text
}

// FallbackPolicy can name a route for when the selected backend is missing
type FallbackPolicy interface {
	Policy
	Fallback() Route
}

// StaticPolicy always returns the same route
type StaticPolicy Route

// Select implements Policy
func (p StaticPolicy) Select([]models.Turn) Route {
	return Route(p)
}
