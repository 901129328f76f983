package model

import (
	"fmt"
	"time"
)

// ChallengeType selects the dismiss mini-game shown by the front-end.
type ChallengeType string

const (
	ChallengeNone   ChallengeType = "none"
	ChallengeMath   ChallengeType = "math"
	ChallengeShake  ChallengeType = "shake"
	ChallengeMemory ChallengeType = "memory"
)

func (c ChallengeType) Valid() bool {
	switch c {
	case ChallengeNone, ChallengeMath, ChallengeShake, ChallengeMemory:
		return true
	}
	return false
}

// Alarm is a wall-clock alarm. Hour and Minute are local time; the zone is resolved
// each time the alarm is scheduled.
type Alarm struct {
	ID            uint `gorm:"primaryKey"`
	Hour          int
	Minute        int
	SelectedDays  Weekdays `gorm:"type:integer;default:0"`
	Enabled       bool     `gorm:"index"`
	Vibrate       bool
	SoundRef      string
	ChallengeType ChallengeType `gorm:"default:none"`
	Label         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repeating reports whether the alarm has at least one selected weekday.
func (a *Alarm) Repeating() bool {
	return !a.SelectedDays.IsEmpty()
}

// Clock formats the alarm time as HH:MM.
func (a *Alarm) Clock() string {
	return fmt.Sprintf("%02d:%02d", a.Hour, a.Minute)
}
