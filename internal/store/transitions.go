package store

import "foodbridge/internal/models"

const (
	ActionClaim   = "claim"
	ActionPick    = "pick"
	ActionDeliver = "deliver"
	ActionCancel  = "cancel"
)

var transitionMap = map[string][]string{
	ActionClaim:   {models.StatusNew},
	ActionPick:    {models.StatusAssigned},
	ActionDeliver: {models.StatusPicked},
	ActionCancel:  {models.StatusNew, models.StatusAssigned, models.StatusPicked},
}

var targetStatus = map[string]string{
	ActionClaim:   models.StatusAssigned,
	ActionPick:    models.StatusPicked,
	ActionDeliver: models.StatusDelivered,
	ActionCancel:  models.StatusCancelled,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func TargetStatus(action string) (string, bool) {
	status, ok := targetStatus[action]
	return status, ok
}
