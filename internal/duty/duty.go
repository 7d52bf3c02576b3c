// Package duty maps wall-clock time onto team shift windows. A window is a
// half-open circular interval [start,end) on the 24h clock; end <= start
// means the window wraps past midnight.
package duty

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Bucket struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Buckets []Bucket `json:"buckets"`
}

type Config struct {
	Teams []Team `json:"teams"`
}

// ParseConfig decodes and validates a duty configuration document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse duty config: %w", err)
	}
	if len(cfg.Teams) == 0 {
		return Config{}, fmt.Errorf("duty config has no teams")
	}
	for _, team := range cfg.Teams {
		if strings.TrimSpace(team.ID) == "" {
			return Config{}, fmt.Errorf("duty config: team with empty id")
		}
		for _, hm := range []string{team.Start, team.End} {
			if _, err := parseHM(hm); err != nil {
				return Config{}, fmt.Errorf("duty config team %s: %w", team.ID, err)
			}
		}
		for _, b := range team.Buckets {
			for _, hm := range []string{b.Start, b.End} {
				if _, err := parseHM(hm); err != nil {
					return Config{}, fmt.Errorf("duty config team %s bucket %s: %w", team.ID, b.ID, err)
				}
			}
		}
	}
	return cfg, nil
}

// Scheduler evaluates duty windows against an injected clock.
type Scheduler struct {
	cfg   Config
	clock Clock
}

func NewScheduler(cfg Config, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{cfg: cfg, clock: clock}
}

func (s *Scheduler) Now() time.Time { return s.clock.Now() }

func (s *Scheduler) Teams() []Team {
	return append([]Team(nil), s.cfg.Teams...)
}

func (s *Scheduler) TeamByID(id string) (Team, bool) {
	for _, team := range s.cfg.Teams {
		if team.ID == id {
			return team, true
		}
	}
	return Team{}, false
}

// Window is the result of an active-window evaluation.
type Window struct {
	Team             Team
	Bucket           Bucket
	ShiftKey         string
	SecondsRemaining int64
}

// ActiveWindow finds the team on duty at now. At most one team should be on
// duty at any instant; when configs overlap the first match wins.
func (s *Scheduler) ActiveWindow(now time.Time) (Window, bool) {
	for _, team := range s.cfg.Teams {
		if !s.OnDuty(team, now) {
			continue
		}
		return Window{
			Team:             team,
			Bucket:           s.ActiveBucket(team.Buckets, now),
			ShiftKey:         s.ShiftKeyFor(team, now),
			SecondsRemaining: s.secondsUntilEnd(team, now),
		}, true
	}
	return Window{}, false
}

// OnDuty reports whether now falls inside the team's window, wrap-aware.
func (s *Scheduler) OnDuty(team Team, now time.Time) bool {
	return contains(team.Start, team.End, minuteOfDay(now))
}

// ShiftKeyFor derives the canonical identifier of the mailbox table live at
// now for a team: "teamID|YYYY-MM-DD@HH:MM". In the early-morning tail of a
// wrapped window the shift date is yesterday.
func (s *Scheduler) ShiftKeyFor(team Team, now time.Time) string {
	return team.ID + "|" + s.ShiftDate(team, now).Format("2006-01-02") + "@" + team.Start
}

// PreviousShiftKey names the immediately-previous shift table, used for the
// duplicate-case retention window.
func (s *Scheduler) PreviousShiftKey(team Team, now time.Time) string {
	return team.ID + "|" + s.ShiftDate(team, now).AddDate(0, 0, -1).Format("2006-01-02") + "@" + team.Start
}

// ShiftDate is the calendar date the current shift started on.
func (s *Scheduler) ShiftDate(team Team, now time.Time) time.Time {
	startMin := mustHM(team.Start)
	endMin := mustHM(team.End)
	day := now
	if endMin <= startMin && minuteOfDay(now) < endMin {
		day = now.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
}

// ActiveBucket scans the table's sub-intervals for the one containing now.
// No match (clock skew, misconfiguration) falls back to the first bucket so
// the workflow never wedges.
func (s *Scheduler) ActiveBucket(buckets []Bucket, now time.Time) Bucket {
	for _, b := range buckets {
		if contains(b.Start, b.End, minuteOfDay(now)) {
			return b
		}
	}
	if len(buckets) > 0 {
		return buckets[0]
	}
	return Bucket{}
}

func (s *Scheduler) secondsUntilEnd(team Team, now time.Time) int64 {
	endMin := mustHM(team.End)
	end := time.Date(now.Year(), now.Month(), now.Day(), endMin/60, endMin%60, 0, 0, now.Location())
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return int64(end.Sub(now) / time.Second)
}

// ScheduleEntry is one row of a team's published mailbox-manager schedule
// (the mbx_sched:<team> document).
type ScheduleEntry struct {
	UserID string `json:"userId"`
	Date   string `json:"date"` // shift date, YYYY-MM-DD
	Start  string `json:"start"`
	End    string `json:"end"`
}

// ScheduledManager resolves who is the on-duty mailbox manager at now,
// including the wrap-aware previous-day lookup: at 05:30 inside a 22:00-06:00
// window the matching entry carries yesterday's date.
func ScheduledManager(entries []ScheduleEntry, now time.Time) (string, bool) {
	nowMin := minuteOfDay(now)
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	for _, e := range entries {
		startMin, err := parseHM(e.Start)
		if err != nil {
			continue
		}
		endMin, err := parseHM(e.End)
		if err != nil {
			continue
		}
		if !containsMin(startMin, endMin, nowMin) {
			continue
		}
		wraps := endMin <= startMin
		wantDate := today
		if wraps && nowMin < endMin {
			wantDate = yesterday
		}
		if e.Date == wantDate {
			return e.UserID, true
		}
	}
	return "", false
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func contains(start, end string, nowMin int) bool {
	return containsMin(mustHM(start), mustHM(end), nowMin)
}

func containsMin(startMin, endMin, nowMin int) bool {
	if endMin <= startMin {
		return nowMin >= startMin || nowMin < endMin
	}
	return nowMin >= startMin && nowMin < endMin
}

func parseHM(hm string) (int, error) {
	parts := strings.Split(hm, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad time %q, want HH:MM", hm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", hm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", hm)
	}
	return hour*60 + minute, nil
}

// mustHM assumes the value already passed ParseConfig validation.
func mustHM(hm string) int {
	min, err := parseHM(hm)
	if err != nil {
		return 0
	}
	return min
}
