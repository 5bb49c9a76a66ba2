// Package presence turns per-cycle fleet observations into flight event intents.
//
// Each aircraft moves between UNKNOWN, ONGROUND and AIRBORNE. A flying aircraft that
// stops being observed stays AIRBORNE for a grace period before it is declared landed,
// and slow low observations of a grounded aircraft are treated as taxiing.
package presence

import (
	"context"
	"slices"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// Config holds the transition thresholds
type Config struct {
	LandingGrace      time.Duration
	AppearedThreshold time.Duration
	GroundAltitudeM   float64
	GroundAltitudeFt  float64
	GroundSpeedKmh    float64
	EmergencySquawks  []string
}

// State is the presence of one aircraft
type State struct {
	Flying           bool      `json:"flying"`
	LastSeen         time.Time `json:"last_seen"`
	NotifiedInFlight bool      `json:"notified_in_flight"`
	OnGround         bool      `json:"on_ground"`
}

// Phase names the state for display
func (s State) Phase() string {
	switch {
	case s.Flying:
		return "AIRBORNE"
	case s.OnGround:
		return "ONGROUND"
	default:
		return "UNKNOWN"
	}
}

// Intent is an event the tracker wants committed
type Intent struct {
	Aircraft fleet.Aircraft
	Kind     fleet.EventKind
	TS       time.Time
	Report   fleet.Report  // triggering observation; zero for LANDING
	Gap      time.Duration // APPEARED only
	LastSeen time.Time     // LANDING only
}

// Snapshot is the persisted view used to rebuild presence at start
type Snapshot interface {
	LatestPositions(ctx context.Context, at time.Time, aircraftID int64) ([]fleet.PositionSample, error)
	LatestEvent(ctx context.Context, aircraftID int64, before time.Time, kinds ...fleet.EventKind) (fleet.FlightEvent, bool, error)
}

// Tracker owns the presence state of the fleet. It is not safe for concurrent use;
// the poller is its only writer.
type Tracker struct {
	cfg      Config
	aircraft []fleet.Aircraft
	states   map[int64]*State
	logger   *logger.Logger
}

// Defaults for thresholds left at zero
const (
	DefaultLandingGrace      = 600 * time.Second
	DefaultAppearedThreshold = 7200 * time.Second
)

// NewTracker creates a tracker with every aircraft in UNKNOWN. A zero grace period or
// appeared threshold falls back to its default.
func NewTracker(cfg Config, aircraft []fleet.Aircraft, log *logger.Logger) *Tracker {
	if cfg.LandingGrace <= 0 {
		cfg.LandingGrace = DefaultLandingGrace
	}
	if cfg.AppearedThreshold <= 0 {
		cfg.AppearedThreshold = DefaultAppearedThreshold
	}
	t := &Tracker{
		cfg:      cfg,
		aircraft: aircraft,
		states:   make(map[int64]*State, len(aircraft)),
		logger:   log.Named("presence"),
	}
	for _, a := range aircraft {
		t.states[a.ID] = &State{}
	}
	return t
}

// Restore rebuilds state from the latest persisted sample and flight events of each aircraft.
// On a store error the tracker keeps an empty state.
func (t *Tracker) Restore(ctx context.Context, snap Snapshot, now time.Time) {
	latest, err := snap.LatestPositions(ctx, now, 0)
	if err != nil {
		t.logger.Error("Failed to restore presence, starting empty", logger.Error(err))
		return
	}

	byID := make(map[int64]fleet.PositionSample, len(latest))
	for _, p := range latest {
		byID[p.AircraftID] = p
	}

	flying := 0
	for _, a := range t.aircraft {
		st := &State{}
		if p, ok := byID[a.ID]; ok {
			st.LastSeen = p.TS
			grounded := p.OnGround.Valid && p.OnGround.V
			if now.Sub(p.TS) < t.cfg.LandingGrace && !grounded && !t.isGroundMovement(p.Altitude, p.AltitudeUnit, p.Velocity) {
				st.Flying = true
				flying++
			} else {
				st.OnGround = true
			}
		}

		airborne, okA, err := snap.LatestEvent(ctx, a.ID, now, fleet.EventTakeoff, fleet.EventInProgress)
		if err != nil {
			t.logger.Error("Failed to restore flight events, starting empty", logger.Error(err))
			t.reset()
			return
		}
		landed, okL, err := snap.LatestEvent(ctx, a.ID, now, fleet.EventLanding)
		if err != nil {
			t.logger.Error("Failed to restore flight events, starting empty", logger.Error(err))
			t.reset()
			return
		}
		st.NotifiedInFlight = okA && (!okL || airborne.TS.After(landed.TS))

		t.states[a.ID] = st
	}

	t.logger.Info("Presence restored",
		logger.Int("aircraft", len(t.aircraft)),
		logger.Int("flying", flying))
}

func (t *Tracker) reset() {
	for _, a := range t.aircraft {
		t.states[a.ID] = &State{}
	}
}

// Observe applies one polling cycle. reports is keyed by lower-case icao24; an aircraft
// missing from it was not observed this cycle. Intents are returned in fleet order.
func (t *Tracker) Observe(now time.Time, reports map[string]fleet.Report) []Intent {
	var intents []Intent

	for _, a := range t.aircraft {
		st := t.states[a.ID]
		r, seen := reports[a.ICAO24]

		if !seen {
			if st.Flying && now.Sub(st.LastSeen) >= t.cfg.LandingGrace {
				lastSeen := st.LastSeen
				// the next sighting starts a new flight, not a reappearance
				st.LastSeen = time.Time{}
				st.Flying = false
				st.OnGround = true
				st.NotifiedInFlight = false
				intents = append(intents, Intent{Aircraft: a, Kind: fleet.EventLanding, TS: now, LastSeen: lastSeen})
				t.logger.Info("Aircraft landed",
					logger.String("tail", a.TailNumber),
					logger.Duration("missing", now.Sub(lastSeen)))
			} else if st.Flying {
				t.logger.Debug("Aircraft missing within grace period",
					logger.String("tail", a.TailNumber),
					logger.Duration("missing", now.Sub(st.LastSeen)))
			}
			continue
		}

		prevSeen := st.LastSeen
		st.LastSeen = now

		if slices.Contains(t.cfg.EmergencySquawks, r.Squawk) {
			intents = append(intents, Intent{Aircraft: a, Kind: fleet.EventEmergency, TS: now, Report: r})
		}

		if !st.Flying {
			if (r.OnGround.Valid && r.OnGround.V) || t.isGroundMovement(r.Altitude, r.AltitudeUnit, r.Velocity) {
				st.OnGround = true
				t.logger.Debug("Ground movement ignored",
					logger.String("tail", a.TailNumber),
					logger.Bool("on_ground", r.OnGround.Valid && r.OnGround.V),
					logger.String("altitude", r.Altitude.String()),
					logger.String("speed", r.Velocity.String()))
				continue
			}

			kind := fleet.EventTakeoff
			if st.NotifiedInFlight {
				kind = fleet.EventInProgress
			}
			st.Flying = true
			st.OnGround = false
			st.NotifiedInFlight = true
			intents = append(intents, Intent{Aircraft: a, Kind: kind, TS: now, Report: r})
			t.logger.Info("Aircraft airborne",
				logger.String("tail", a.TailNumber),
				logger.String("kind", string(kind)))
		}

		if !prevSeen.IsZero() {
			if gap := now.Sub(prevSeen); gap > t.cfg.AppearedThreshold {
				intents = append(intents, Intent{Aircraft: a, Kind: fleet.EventAppeared, TS: now, Report: r, Gap: gap})
			}
		}
	}

	return intents
}

// isGroundMovement applies only when altitude and speed are both known
func (t *Tracker) isGroundMovement(alt fleet.OptFloat, unit fleet.AltitudeUnit, speed fleet.OptFloat) bool {
	if !alt.Valid || !speed.Valid {
		return false
	}
	cutoff := t.cfg.GroundAltitudeM
	if unit == fleet.Feet {
		cutoff = t.cfg.GroundAltitudeFt
	}
	return alt.V < cutoff && speed.V < t.cfg.GroundSpeedKmh
}

// State returns a copy of one aircraft's state
func (t *Tracker) State(aircraftID int64) (State, bool) {
	st, ok := t.states[aircraftID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// States returns a copy of the whole fleet's state keyed by aircraft id
func (t *Tracker) States() map[int64]State {
	out := make(map[int64]State, len(t.states))
	for id, st := range t.states {
		out[id] = *st
	}
	return out
}

// Flying returns the aircraft currently classified as AIRBORNE
func (t *Tracker) Flying() []fleet.Aircraft {
	var out []fleet.Aircraft
	for _, a := range t.aircraft {
		if t.states[a.ID].Flying {
			out = append(out, a)
		}
	}
	return out
}

// Aircraft returns the tracked fleet
func (t *Tracker) Aircraft() []fleet.Aircraft {
	return t.aircraft
}
