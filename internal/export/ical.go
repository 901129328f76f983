package export

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"alarm-clock/internal/model"
	"alarm-clock/internal/service"
)

const productID = "-//alarm-clock//alarms//RU"

var byDay = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Calendar builds a VCALENDAR with one VEVENT per enabled alarm. Repeating alarms get
// a weekly RRULE; every event carries a display VALARM at its start.
func Calendar(alarms []model.Alarm, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	cal.Children = make([]*ical.Component, 0, len(alarms))
	for _, alarm := range alarms {
		if !alarm.Enabled {
			continue
		}
		cal.Children = append(cal.Children, alarmEvent(alarm, now))
	}
	return cal
}

func alarmEvent(alarm model.Alarm, now time.Time) *ical.Component {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, fmt.Sprintf("alarm-%d@alarm-clock", alarm.ID))
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.SetText(ical.PropSummary, summary(alarm))
	event.Props.SetDateTime(ical.PropDateTimeStart, stamp(service.NextFire(alarm, now)))

	if alarm.Repeating() {
		days := alarm.SelectedDays.Days()
		rule := &rrule.ROption{Freq: rrule.WEEKLY, Byweekday: make([]rrule.Weekday, 0, len(days))}
		for _, d := range days {
			rule.Byweekday = append(rule.Byweekday, byDay[d])
		}
		event.Props.SetRecurrenceRule(rule)
	}
	if alarm.Label != "" {
		event.Props.SetText(ical.PropDescription, alarm.Label)
	}

	valarm := ical.NewComponent(ical.CompAlarm)
	valarm.Props.SetText(ical.PropAction, "DISPLAY")
	valarm.Props.SetText(ical.PropDescription, summary(alarm))
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = "PT0S"
	valarm.Props.Set(trigger)
	event.Children = append(event.Children, valarm)

	return event.Component
}

// stamp keeps named zones as TZID local times; the process-local zone has no portable
// name and is written as UTC.
func stamp(t time.Time) time.Time {
	if t.Location() == time.Local {
		return t.UTC()
	}
	return t
}

func summary(alarm model.Alarm) string {
	if alarm.Label != "" {
		return fmt.Sprintf("⏰ %s %s", alarm.Clock(), alarm.Label)
	}
	return "⏰ " + alarm.Clock()
}

// Write encodes the calendar of alarms to w.
func Write(w io.Writer, alarms []model.Alarm, now time.Time) error {
	buf := bufio.NewWriter(w)
	if err := ical.NewEncoder(buf).Encode(Calendar(alarms, now)); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Flush()
}
