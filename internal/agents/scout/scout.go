// Package scout watches market narratives and reports sentiment shifts to
// the swarm.
package scout

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/decision"
)

const (
	scanInterval = 30 * time.Minute
	maxTopics    = 5
)

// State is the scout's persisted memory: the last topic reported, so a
// restart does not re-announce a shift the swarm already saw.
type State struct {
	LastTopic    string    `msgpack:"lastTopic"`
	LastSummary  string    `msgpack:"lastSummary"`
	LastScanAt   time.Time `msgpack:"lastScanAt"`
	ShiftsSent   int       `msgpack:"shiftsSent"`
	LastMentions int       `msgpack:"lastMentions"`
}

// Scout is the narrative watcher.
type Scout struct {
	*agent.Base

	cfg *config.Config
	reg *collab.Registry
	log zerolog.Logger

	state State
}

func New(cfg *config.Config, reg *collab.Registry, deps agent.Deps) *Scout {
	return &Scout{
		Base: agent.NewBase(agent.ScoutName, "scout", deps),
		cfg:  cfg,
		reg:  reg,
		log:  deps.Log.With().Str("component", "scout").Logger(),
	}
}

// Start restores state and arms the scan and inbox loops.
func (s *Scout) Start(ctx context.Context) error {
	if err := s.Base.Start(ctx); err != nil {
		return err
	}
	if _, err := s.RestoreState(&s.state); err != nil {
		s.log.Warn().Err(err).Msg("Scout state restore failed; starting fresh")
	}
	if err := s.AddInterval("scan", scanInterval, s.scan); err != nil {
		return err
	}
	return s.AddInterval("inbox", s.cfg.PollInterval, s.pollInbox)
}

// scan pulls current narratives, picks the strongest, and reports it when
// the topic moved since the last scan.
func (s *Scout) scan(ctx context.Context) error {
	if !s.reg.HasTrends() {
		return nil
	}
	s.SetTask("scanning narratives")
	defer s.SetTask("")

	narratives, err := s.reg.Trends.FetchNarratives(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("Narrative fetch failed; skipping scan")
		return nil
	}
	s.state.LastScanAt = time.Now()
	if len(narratives) == 0 {
		_ = s.SaveState(s.state)
		return nil
	}

	sort.Slice(narratives, func(i, j int) bool {
		return narratives[i].Mentions > narratives[j].Mentions
	})
	top := narratives[0]

	if top.Topic == s.state.LastTopic && top.Mentions <= s.state.LastMentions {
		s.log.Debug().Str("topic", top.Topic).Msg("Narrative unchanged; no shift reported")
		_ = s.SaveState(s.state)
		return nil
	}

	shift := s.buildShift(top, narratives)
	if err := s.ReportToSupervisor(ctx, bus.TypeIntel, priorityFor(top), mustEncode(shift)); err != nil {
		return err
	}

	s.state.LastTopic = top.Topic
	s.state.LastSummary = top.Summary
	s.state.LastMentions = top.Mentions
	s.state.ShiftsSent++
	_ = s.SaveState(s.state)

	s.log.Info().Str("topic", top.Topic).Int("mentions", top.Mentions).Msg("Narrative shift reported")
	return nil
}

// buildShift assembles the payload, classifying sentiment with the shared
// lexicon when the source carries no explicit signal.
func (s *Scout) buildShift(top collab.Narrative, all []collab.Narrative) *bus.NarrativeShift {
	shift := &bus.NarrativeShift{
		Summary: top.Summary,
		Sources: len(all),
	}
	if top.Bullish != nil {
		shift.CryptoBullish = top.Bullish
	} else {
		shift.CryptoBullish = decision.InferSentiment(top.Summary)
	}
	for i, n := range all {
		if i == maxTopics {
			break
		}
		shift.Topics = append(shift.Topics, n.Topic)
	}
	return shift
}

// pollInbox answers scout_intel requests with the latest known narrative.
func (s *Scout) pollInbox(ctx context.Context) error {
	msgs, err := s.ReadMessages(ctx, 10)
	if err != nil {
		return err
	}

	for i := range msgs {
		m := &msgs[i]
		if cmd, ok := bus.Decode(m).(*bus.AdminCommand); ok && cmd.Command == "scout_intel" {
			s.answerIntelRequest(ctx, m.From)
		}
		if err := s.AcknowledgeMessage(ctx, m.ID); err != nil {
			s.log.Warn().Err(err).Str("id", m.ID).Msg("Failed to ack message")
		}
	}
	return nil
}

func (s *Scout) answerIntelRequest(ctx context.Context, to string) {
	shift := &bus.NarrativeShift{Summary: s.state.LastSummary}
	if shift.Summary == "" {
		shift.Summary = "No narrative observed yet."
	} else {
		shift.CryptoBullish = decision.InferSentiment(shift.Summary)
	}
	if err := s.SendMessage(ctx, to, bus.TypeIntel, bus.PriorityMedium, mustEncode(shift), time.Hour); err != nil {
		s.log.Warn().Err(err).Str("to", to).Msg("Failed to answer intel request")
	}
}

// priorityFor maps narrative weight onto bus priority. Heavy mention counts
// travel high so the supervisor surfaces them between briefings.
func priorityFor(n collab.Narrative) bus.Priority {
	if n.Mentions >= 100 {
		return bus.PriorityHigh
	}
	return bus.PriorityLow
}

func mustEncode(data bus.PayloadData) map[string]interface{} {
	payload, err := bus.Encode(data)
	if err != nil {
		// Encode only fails on unmarshalable values, which these structs
		// never contain.
		return map[string]interface{}{"kind": data.Kind()}
	}
	return payload
}
