package game

import (
	"context"
	"log"
	"slices"

	"github.com/scythe504/dejavu-backend/internal"
	"github.com/scythe504/dejavu-backend/internal/scenario"
)

// =============================================================================
// GAME FLOW
// =============================================================================

var phaseOrder = []internal.Phase{
	internal.PhaseMemory,
	internal.PhaseRoles,
	internal.PhaseDetails,
	internal.PhaseQuestions,
	internal.PhaseVoting,
	internal.PhaseResults,
}

// phaseAtLeast reports whether current is target or a later phase of the
// same round.
func phaseAtLeast(current, target internal.Phase) bool {
	ci := slices.Index(phaseOrder, current)
	ti := slices.Index(phaseOrder, target)
	return ci >= 0 && ti >= 0 && ci >= ti
}

// startGame resets scores and stats and opens round one.
func (r *Room) startGame() {
	s := r.state
	s.GameState = internal.GamePlaying
	s.CurrentRound = 1
	s.RoundData = nil
	s.Stats = make(map[string]*internal.PlayerStats, len(s.Players))
	refs := make([]internal.PlayerRef, 0, len(s.Players))
	for _, p := range s.Players {
		p.Score = 0
		s.Stats[p.ID] = &internal.PlayerStats{}
		refs = append(refs, p.Ref())
	}
	if !r.persist() {
		return
	}

	r.broadcast(internal.NewMessage(internal.MsgGameStarted, internal.GameStartedPayload{
		TotalRounds: s.Config.Rounds,
		Players:     refs,
	}))
	log.Printf("[startGame] Room %s: game started with %d players, %d rounds", r.code, len(s.Players), s.Config.Rounds)
	r.track("game_started", map[string]any{"players": len(s.Players), "rounds": s.Config.Rounds})

	r.startRound()
}

// enterPhase sets the phase and its deadline from the current clock.
func (r *Room) enterPhase(phase internal.Phase) {
	r.state.CurrentPhase = phase
	d := internal.PhaseDuration(phase, r.state.Config.TimeScale)
	r.state.PhaseEndTime = r.opts.Now().Add(d).UnixMilli()
}

// commitPhase persists the state and then the alarm for the new phase.
func (r *Room) commitPhase() bool {
	return r.persist() && r.armAlarm()
}

// startRound builds fresh round data and enters the memory phase.
func (r *Room) startRound() {
	s := r.state
	sc := r.takeScenario()

	ids := s.PlayerIDs()
	r.opts.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	witnesses := ids[:internal.WitnessCountFor(s.Config.WitnessCount, len(ids))]

	s.RoundData = &internal.RoundData{
		WitnessIDs:      slices.Clone(witnesses),
		MemoryPrompt:    sc.Prompt,
		Fragments:       sc.Fragments,
		Hints:           sc.Hints,
		DetailQuestions: sc.DetailQuestions,
		PlayerDetails:   make(map[string]string),
		Votes:           make(map[string]string),
	}
	r.enterPhase(internal.PhaseMemory)
	if !r.commitPhase() {
		return
	}

	r.broadcast(internal.NewMessage(internal.MsgRoundStarted, internal.RoundStartedPayload{
		RoundNumber: s.CurrentRound,
		TotalRounds: s.Config.Rounds,
	}))
	r.broadcast(internal.NewMessage(internal.MsgMemoryRevealed, internal.MemoryRevealedPayload{
		Prompt:        sc.Prompt,
		TimeRemaining: r.timeRemaining(),
	}))
	log.Printf("[startRound] Room %s: round %d/%d, %d witnesses", r.code, s.CurrentRound, s.Config.Rounds, len(witnesses))
}

func (r *Room) startRoles() {
	r.enterPhase(internal.PhaseRoles)
	if !r.commitPhase() {
		return
	}

	rd := r.state.RoundData
	remaining := r.timeRemaining()
	for _, p := range r.state.Players {
		payload := internal.RoleAssignedPayload{Role: internal.RoleImposter, Hints: rd.Hints, TimeRemaining: remaining}
		if rd.IsWitness(p.ID) {
			payload = internal.RoleAssignedPayload{Role: internal.RoleWitness, Fragments: rd.Fragments, TimeRemaining: remaining}
		}
		r.sendTo(p.ID, internal.NewMessage(internal.MsgRoleAssigned, payload))
	}
}

func (r *Room) startDetails() {
	s := r.state
	s.RoundData.CurrentQuestionIndex = (s.CurrentRound - 1) % max(len(s.RoundData.DetailQuestions), 1)
	r.enterPhase(internal.PhaseDetails)
	if !r.commitPhase() {
		return
	}

	r.broadcast(internal.NewMessage(internal.MsgDetailQuestion, internal.DetailQuestionPayload{
		Question:      scenario.QuestionAt(s.RoundData.DetailQuestions, s.RoundData.CurrentQuestionIndex),
		QuestionIndex: s.RoundData.CurrentQuestionIndex,
		TimeRemaining: r.timeRemaining(),
	}))
}

// startQuestions reveals every detail. Players who never answered are
// filled in with the placeholder answer.
func (r *Room) startQuestions() {
	rd := r.state.RoundData
	for _, p := range r.state.Players {
		if _, ok := rd.PlayerDetails[p.ID]; !ok {
			rd.PlayerDetails[p.ID] = internal.AutoSubmitAnswer
		}
	}
	r.enterPhase(internal.PhaseQuestions)
	if !r.commitPhase() {
		return
	}

	r.broadcast(internal.NewMessage(internal.MsgDetailsRevealed, internal.DetailsRevealedPayload{
		Details:       rd.PlayerDetails,
		TimeRemaining: r.timeRemaining(),
	}))
}

func (r *Room) startVoting() {
	r.enterPhase(internal.PhaseVoting)
	if !r.commitPhase() {
		return
	}
	r.broadcast(internal.NewMessage(internal.MsgVotingStarted, internal.VotingStartedPayload{
		TimeRemaining: r.timeRemaining(),
	}))
}

// startResults scores the round and reveals the witnesses.
func (r *Room) startResults() {
	s := r.state
	rd := s.RoundData
	rd.RoundScores = r.applyRoundScores()
	r.enterPhase(internal.PhaseResults)
	if !r.commitPhase() {
		return
	}

	names := make([]string, 0, len(rd.WitnessIDs))
	for _, id := range rd.WitnessIDs {
		if p := s.FindPlayer(id); p != nil {
			names = append(names, p.Name)
		}
	}
	r.broadcast(internal.NewMessage(internal.MsgRoundResults, internal.RoundResultsPayload{
		RoundNumber:   s.CurrentRound,
		WitnessIDs:    rd.WitnessIDs,
		WitnessNames:  names,
		Fragments:     rd.Fragments,
		Votes:         rd.Votes,
		RoundScores:   rd.RoundScores,
		TotalScores:   s.Scores(),
		TimeRemaining: r.timeRemaining(),
	}))

	correct := 0
	for _, target := range rd.Votes {
		if rd.IsWitness(target) {
			correct++
		}
	}
	if s.CurrentRound < s.Config.Rounds {
		r.prefetchScenario(s.CurrentRound + 1)
	}
	r.track("round_completed", map[string]any{
		"round":        s.CurrentRound,
		"votes":        len(rd.Votes),
		"correctVotes": correct,
	})
}

type upcomingScenario struct {
	round    int
	scenario scenario.Scenario
}

// prefetchScenario generates the scenario for round on its own goroutine
// while the results phase runs, then hands it back through the inbox.
func (r *Room) prefetchScenario(round int) {
	gen, timeout := r.opts.Scenarios, r.opts.ScenarioTimeout
	go func() {
		sc := scenario.WithFallback(context.Background(), gen, timeout)
		_ = r.do(context.Background(), func() {
			r.upcoming = &upcomingScenario{round: round, scenario: sc}
		})
	}()
}

// takeScenario returns the prefetched scenario for the current round, or
// generates one in place. Round one and rooms reloaded mid-game always
// generate in place.
func (r *Room) takeScenario() scenario.Scenario {
	up := r.upcoming
	r.upcoming = nil
	if up != nil && up.round == r.state.CurrentRound {
		return up.scenario
	}
	return scenario.WithFallback(context.Background(), r.opts.Scenarios, r.opts.ScenarioTimeout)
}

// finishRound opens the next round or ends the game after the last one.
func (r *Room) finishRound() {
	if r.state.CurrentRound >= r.state.Config.Rounds {
		r.endGame("completed")
		return
	}
	r.state.CurrentRound++
	r.startRound()
}

// advance is the only way out of a timed phase. It does nothing unless the
// room is still in phase from of round, so a late or duplicate trigger
// cannot skip a phase.
func (r *Room) advance(from internal.Phase, round int) {
	s := r.state
	if s == nil || s.GameState != internal.GamePlaying {
		return
	}
	if s.CurrentPhase != from || s.CurrentRound != round {
		r.logf("[advance] Room %s: ignoring stale trigger for %s/%d (now %s/%d)", r.code, from, round, s.CurrentPhase, s.CurrentRound)
		return
	}

	switch from {
	case internal.PhaseMemory:
		r.startRoles()
	case internal.PhaseRoles:
		r.startDetails()
	case internal.PhaseDetails:
		r.startQuestions()
	case internal.PhaseQuestions:
		r.startVoting()
	case internal.PhaseVoting:
		r.startResults()
	case internal.PhaseResults:
		r.finishRound()
	}
}

func (r *Room) onAlarm(a internal.Alarm) {
	if r.state == nil {
		return
	}
	r.logf("[onAlarm] Room %s: alarm for %s/%d fired", r.code, a.Phase, a.Round)
	r.advance(a.Phase, a.Round)
}

// endGame reports the final standings and returns the room to the lobby.
// Players who dropped during the game are removed at this point.
func (r *Room) endGame(reason string) {
	s := r.state
	results := r.finalResults(reason)

	s.GameState = internal.GameFinished
	s.CurrentPhase = internal.PhaseLobby
	s.PhaseEndTime = 0
	s.RoundData = nil
	for _, p := range s.Players {
		p.IsReady = false
	}

	var departed []*internal.Player
	for _, p := range slices.Concat(s.Players, s.Spectators) {
		if p.IsDropped() {
			departed = append(departed, p)
		}
	}
	host := s.Host()
	for _, p := range departed {
		s.Remove(p.ID)
	}
	var newHost *internal.Player
	var previousHost string
	if host != nil && host.IsDropped() {
		previousHost = host.ID
		newHost = r.promoteHost(host.ID)
	}

	if !r.persist() {
		return
	}
	r.clearAlarm()

	r.broadcast(internal.NewMessage(internal.MsgGameFinished, results))
	for _, p := range departed {
		r.broadcast(internal.NewMessage(internal.MsgPlayerLeft, internal.PlayerLeftPayload{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Reason:     reasonDisconnected,
		}))
	}
	r.announceHost(previousHost, newHost)

	log.Printf("[endGame] Room %s: game finished (%s) after %d rounds", r.code, reason, results.RoundsCompleted)
	fields := map[string]any{"reason": reason, "rounds": results.RoundsCompleted}
	if results.Winner != nil {
		fields["winnerScore"] = results.Winner.Score
	}
	r.track("game_finished", fields)
}
