package billing

import "github.com/ManuelReschke/Redirector/app/models"

// userRemoval is the store change needed to detach one user from one
// application.
type userRemoval struct {
	applicationID string
	positions     []int
	// deleteApplication is set when the user is the only member left and
	// orphans should go; positions are then irrelevant.
	deleteApplication bool
}

// planUserRemovals computes one removal per application that references
// userID. Applications not containing the user are skipped.
func planUserRemovals(apps []models.Application, userID string, deleteOrphans bool) []userRemoval {
	out := make([]userRemoval, 0, len(apps))
	for i := range apps {
		positions := apps[i].UserPositions(userID)
		if len(positions) == 0 {
			continue
		}
		orphaned := len(positions) == len(apps[i].Users)
		out = append(out, userRemoval{
			applicationID:     apps[i].ID,
			positions:         positions,
			deleteApplication: orphaned && deleteOrphans,
		})
	}
	return out
}
