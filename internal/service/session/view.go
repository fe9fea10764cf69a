package session

import (
	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/models"
)

// View is a read-only snapshot of a session for rendering
type View struct {
	State          string          `json:"state"`
	SelectedUser   *catalog.User   `json:"selected_user,omitempty"`
	PinLength      int             `json:"pin_length"`
	Profile        *models.Profile `json:"profile,omitempty"`
	Reviews        []ReviewView    `json:"reviews,omitempty"`
	CompletedCount int             `json:"completed_count"`
	Status         string          `json:"status,omitempty"`
	SoundEnabled   bool            `json:"sound_enabled"`
	ReviewWorkflow bool            `json:"review_workflow"`
	Backend        string          `json:"backend"`
}

// ReviewView pairs a submission with its display label
type ReviewView struct {
	models.ReviewSubmission
	Label string `json:"label"`
}

// Snapshot returns the current view. The PIN digits are never exposed
func (m *Machine) Snapshot() View {
	v := View{
		State:          m.state.String(),
		PinLength:      len(m.pin),
		Profile:        m.profile.Clone(),
		Status:         m.status,
		SoundEnabled:   m.soundEnabled,
		ReviewWorkflow: m.reviewWorkflow,
		Backend:        m.store.Backend(),
	}
	if m.selected != nil {
		u := *m.selected
		v.SelectedUser = &u
	}
	if v.Profile != nil {
		v.CompletedCount = len(v.Profile.CompletedMissionIDs)
		for _, r := range v.Profile.ReviewSubmissions {
			v.Reviews = append(v.Reviews, ReviewView{ReviewSubmission: r, Label: r.Status.Label()})
		}
	}
	return v
}
