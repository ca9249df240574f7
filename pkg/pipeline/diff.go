package pipeline

import "apk-builder-be/internal/entity"

// Diff returns the fields of patch whose values differ from current, and the
// step with those changes applied. An empty Error in the patch clears the
// step's error.
func Diff(current entity.Step, patch entity.StepPatch) (entity.StepChanges, entity.Step) {
	var changes entity.StepChanges
	next := current

	if patch.Progress != nil && *patch.Progress != current.Progress {
		v := *patch.Progress
		changes.Progress = &v
		next.Progress = v
	}
	if patch.Status != nil && *patch.Status != current.Status {
		v := *patch.Status
		changes.Status = &v
		next.Status = v
	}
	if patch.Title != nil && *patch.Title != current.Title {
		v := *patch.Title
		changes.Title = &v
		next.Title = v
	}
	if patch.Description != nil && *patch.Description != current.Description {
		v := *patch.Description
		changes.Description = &v
		next.Description = v
	}
	if patch.Error != nil && *patch.Error != errorText(current.Error) {
		v := *patch.Error
		changes.Error = &v
		if v == "" {
			next.Error = nil
		} else {
			next.Error = &v
		}
	}

	return changes, next
}

// Apply merges already-computed changes into a step. Subscribers use it to
// replay deltas.
func Apply(step entity.Step, changes entity.StepChanges) entity.Step {
	_, next := Diff(step, changes)
	return next
}

func errorText(e *string) string {
	if e == nil {
		return ""
	}
	return *e
}

// Progress computes floor(done/total*100) capped at 100, or 0 when the total
// is unknown.
func Progress(done, total int64) int {
	if total <= 0 {
		return 0
	}
	p := done * 100 / total
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return int(p)
}
