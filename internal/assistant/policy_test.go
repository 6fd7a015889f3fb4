package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"senteros-chat/internal/models"
)

func TestAttachmentPolicy_Select(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name  string
		turns []models.Turn
		want  string
	}{
		{"empty", nil, BackendMistral},
		{"text only", []models.Turn{{Role: models.RoleUser, Content: "hi"}}, BackendMistral},
		{"last user turn has image", []models.Turn{
			{Role: models.RoleUser, Content: "look", ImageURL: "/uploads/a.png"},
		}, BackendOpenRouter},
		{"image followed by assistant turn", []models.Turn{
			{Role: models.RoleUser, Content: "look", ImageURL: "/uploads/a.png"},
			{Role: models.RoleAssistant, Content: "nice"},
		}, BackendOpenRouter},
		{"older image only", []models.Turn{
			{Role: models.RoleUser, Content: "look", ImageURL: "/uploads/a.png"},
			{Role: models.RoleAssistant, Content: "nice"},
			{Role: models.RoleUser, Content: "thanks"},
		}, BackendMistral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Select(tt.turns).Backend)
		})
	}
}

func TestAttachmentPolicy_NoVisionRoute(t *testing.T) {
	policy := AttachmentPolicy{Text: Route{Backend: "local", Model: "m"}}

	route := policy.Select([]models.Turn{{Role: models.RoleUser, ImageURL: "data:image/png;base64,AA"}})
	assert.Equal(t, "local", route.Backend)
}

func TestStaticPolicy(t *testing.T) {
	policy := StaticPolicy(Route{Backend: "x", Model: "y", Images: true})

	assert.Equal(t, Route{Backend: "x", Model: "y", Images: true}, policy.Select(nil))
}
