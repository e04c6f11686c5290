package game

import (
	"fmt"

	"github.com/mcdev12/potgame/go/internal/models"
)

// elapsed returns the seconds since the last purchase, or 0 before the first one.
func elapsed(st *models.GameState, now uint64) (uint64, error) {
	if !st.Started() {
		return 0, nil
	}
	if now < st.LastUpdate {
		return 0, fmt.Errorf("%w: now %d is before last update %d", ErrClockSkew, now, st.LastUpdate)
	}
	return now - st.LastUpdate, nil
}

// TimeEnded reports whether the countdown has run out at now.
// A round that has not seen a purchase yet never ends.
func TimeEnded(st *models.GameState, now uint64) (bool, error) {
	if !st.Started() {
		return false, nil
	}
	e, err := elapsed(st, now)
	if err != nil {
		return false, err
	}
	return e >= st.TimeLeft, nil
}

// UpdateTime charges the time elapsed since the last purchase against the countdown.
func UpdateTime(st *models.GameState, now uint64) error {
	ended, err := TimeEnded(st, now)
	if err != nil {
		return err
	}
	if ended {
		st.TimeLeft = 0
		return nil
	}

	e, err := elapsed(st, now)
	if err != nil {
		return err
	}
	// e < TimeLeft here, otherwise the round would have ended.
	st.TimeLeft -= e
	return nil
}

// AddTime extends the countdown by TimeBonus, never past RoundDuration.
func AddTime(st *models.GameState) {
	if st.TimeLeft+models.TimeBonus <= models.RoundDuration {
		st.TimeLeft += models.TimeBonus
		return
	}
	st.TimeLeft = models.RoundDuration
}

// RemainingAt returns the live countdown at now without modifying st.
func RemainingAt(st *models.GameState, now uint64) (uint64, error) {
	view := st.Clone()
	if err := UpdateTime(view, now); err != nil {
		return 0, err
	}
	return view.TimeLeft, nil
}
