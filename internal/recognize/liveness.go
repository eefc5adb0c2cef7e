package recognize

import "math"

// TurnPhase is the head-turn progress within the liveness challenge.
type TurnPhase string

const (
	TurnCenter TurnPhase = "center"
	TurnRight  TurnPhase = "right"
	TurnLeft   TurnPhase = "left"
)

// LivenessParams are the challenge thresholds. Zero values are not defaulted
// here; config owns the reference values.
type LivenessParams struct {
	BlinkThreshold  float64 // eye-openness ratio below which the eye counts as closed
	BlinkFrames     int     // minimum consecutive closed frames for one blink
	RequiredBlinks  int
	TurnDeltaPx     int // horizontal center displacement that counts as a turn
	MinStableFrames int // minimum matched frames before confirmation is possible
}

// LivenessTracker drives the per-identity anti-spoofing challenge: two
// counted blinks plus a head turn right then left, sustained over a minimum
// number of matched frames. A static photo held to the camera produces
// neither blinks nor the turn sequence, so a distance-only match can never
// confirm here.
//
// State advances only on frames where the identity's probe matched. Not safe
// for concurrent use; each capture session owns its own instance.
type LivenessTracker struct {
	params LivenessParams
	states map[string]*livenessState
}

type livenessState struct {
	blinkTotal   int
	blinkRun     int
	stableFrames int
	turnPhase    TurnPhase
	lastCenterX  int
	hasCenter    bool
}

func NewLivenessTracker(params LivenessParams) *LivenessTracker {
	return &LivenessTracker{
		params: params,
		states: make(map[string]*livenessState),
	}
}

// Observe feeds one matched frame: the face bounding-box center's x
// coordinate and the eye-openness ratio (NaN when landmarks were not
// resolvable, which freezes blink progress for that frame). It returns true
// exactly once per completed challenge; the identity's state then resets to
// idle whether or not the caller's attendance attempt succeeds, so nobody
// gets stuck mid-challenge.
func (t *LivenessTracker) Observe(tokenNo string, centerX int, eyeOpenness float64) bool {
	st := t.states[tokenNo]
	if st == nil {
		st = &livenessState{turnPhase: TurnCenter}
		t.states[tokenNo] = st
	}

	st.stableFrames++

	// head-turn sequence: center -> right -> left
	if st.hasCenter {
		dx := centerX - st.lastCenterX
		switch {
		case st.turnPhase == TurnCenter && dx >= t.params.TurnDeltaPx:
			st.turnPhase = TurnRight
		case st.turnPhase == TurnRight && dx <= -t.params.TurnDeltaPx:
			st.turnPhase = TurnLeft
		}
	}
	st.lastCenterX = centerX
	st.hasCenter = true

	// blink counting: a blink is a closed-eye run of BlinkFrames+ that recovers
	if !math.IsNaN(eyeOpenness) {
		if eyeOpenness < t.params.BlinkThreshold {
			st.blinkRun++
		} else {
			if st.blinkRun >= t.params.BlinkFrames {
				st.blinkTotal++
			}
			st.blinkRun = 0
		}
	}

	if st.blinkTotal >= t.params.RequiredBlinks &&
		st.turnPhase == TurnLeft &&
		st.stableFrames >= t.params.MinStableFrames {
		delete(t.states, tokenNo)
		return true
	}
	return false
}

// Progress reports the identity's challenge state for overlays and events.
func (t *LivenessTracker) Progress(tokenNo string) (blinks int, phase TurnPhase, stableFrames int) {
	st := t.states[tokenNo]
	if st == nil {
		return 0, TurnCenter, 0
	}
	return st.blinkTotal, st.turnPhase, st.stableFrames
}

// Reset returns the identity to the idle state.
func (t *LivenessTracker) Reset(tokenNo string) {
	delete(t.states, tokenNo)
}
