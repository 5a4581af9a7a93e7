package supervisor

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/metrics"
)

const (
	// narrativeCooldown spaces narrative posts so the public channels never
	// see a flood from one trending cycle.
	narrativeCooldown = 6 * time.Hour

	// maxPostLen is the X character budget.
	maxPostLen = 280

	// fingerprintMinWordLen drops short filler words from topic identity.
	fingerprintMinWordLen = 4
	fingerprintMaxWords   = 8

	farcasterChannel = "crypto"
)

// fingerprint reduces text to a topic identity: lowercase, alphanumeric-only
// words, first 8 words of length >= 4 kept. Two posts about the same topic
// phrased differently still collide.
func fingerprint(text string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	var words []string
	for _, w := range strings.Fields(clean) {
		if len(w) >= fingerprintMinWordLen {
			words = append(words, w)
			if len(words) == fingerprintMaxWords {
				break
			}
		}
	}
	return strings.Join(words, " ")
}

// truncateAtWord cuts text to at most limit characters at a word boundary,
// appending an ellipsis when something was dropped.
func truncateAtWord(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	cut := string(runes[:limit-1])
	if idx := strings.LastIndexFunc(cut, unicode.IsSpace); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ") + "…"
}

// seenRecently reports whether the fingerprint matches a recent post, and
// records it if not. The history is a capped LRU; the oldest entry falls
// off when full.
func (s *Supervisor) seenRecently(fp string) bool {
	if fp == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.state.RecentXPostHashes {
		if h == fp {
			return true
		}
	}

	s.state.RecentXPostHashes = append(s.state.RecentXPostHashes, fp)
	cap := s.cfg.MaxXPostHistory
	if cap <= 0 {
		cap = 20
	}
	if len(s.state.RecentXPostHashes) > cap {
		s.state.RecentXPostHashes = s.state.RecentXPostHashes[len(s.state.RecentXPostHashes)-cap:]
	}
	return false
}

// filterAllows runs the outbound content scan. Critical threats block;
// lesser threats are logged and pass; no filter wired passes everything.
func (s *Supervisor) filterAllows(text, destination string) bool {
	if !s.reg.HasFilter() {
		return true
	}

	result := s.reg.Filter.ScanOutbound(text, destination)
	if result.HasCritical() {
		s.log.Warn().Str("destination", destination).Msg("Outbound content blocked by filter")
		return false
	}
	for _, threat := range result.Threats {
		s.log.Info().
			Str("destination", destination).
			Str("severity", threat.Severity).
			Str("threat", threat.Description).
			Msg("Outbound content flagged but allowed")
	}
	return true
}

// publishNarrative runs the full outbound pipeline for a scout narrative:
// cooldown, topic dedup, truncation, content filter, then fan-out to every
// public sink. Returns whether anything was posted.
func (s *Supervisor) publishNarrative(ctx context.Context, summary string) bool {
	s.mu.Lock()
	lastPost := s.state.LastNarrativePostAt
	s.mu.Unlock()

	if since := s.now().Sub(lastPost); !lastPost.IsZero() && since < narrativeCooldown {
		s.log.Debug().Dur("since_last", since).Msg("Narrative post inside cooldown; suppressed")
		return false
	}
	if s.seenRecently(fingerprint(summary)) {
		s.log.Debug().Msg("Narrative topic already posted recently; suppressed")
		return false
	}

	post := truncateAtWord(summary, maxPostLen)
	if !s.filterAllows(post, "x") {
		return false
	}

	s.fanOut(ctx, post)

	s.mu.Lock()
	s.state.LastNarrativePostAt = s.now()
	s.mu.Unlock()
	s.persistState()
	return true
}

// fanOut posts to every wired public sink. Individual sink failures are
// logged; one dead integration never silences the rest.
func (s *Supervisor) fanOut(ctx context.Context, content string) {
	if !s.reg.HasPublisher() {
		return
	}
	pub := s.reg.Publisher

	post := func(destination string, fn func() error) {
		if err := fn(); err != nil {
			s.log.Warn().Err(err).Str("destination", destination).Msg("Publish failed")
			return
		}
		metrics.PostsPublished.WithLabelValues(destination).Inc()
		if s.events != nil {
			s.events.Publish(events.PostPublished, "supervisor", &events.PostPublishedData{
				Destination: destination,
				Content:     content,
			})
		}
	}

	post("x", func() error { return pub.PostToX(ctx, content) })
	post("channel", func() error { return pub.PostToChannel(ctx, content) })
	post("farcaster", func() error { return pub.PostToFarcaster(ctx, content, farcasterChannel) })
}

// publishAdmin sends an operator-only notice through the publisher.
func (s *Supervisor) publishAdmin(ctx context.Context, content string) {
	if !s.reg.HasPublisher() {
		return
	}
	if err := s.reg.Publisher.PostToAdmin(ctx, content); err != nil {
		s.log.Warn().Err(err).Msg("Admin notice failed")
		return
	}
	metrics.PostsPublished.WithLabelValues("admin").Inc()
}

// publishChannel sends to the community broadcast channel only.
func (s *Supervisor) publishChannel(ctx context.Context, content string) {
	if !s.reg.HasPublisher() {
		return
	}
	if !s.filterAllows(content, "channel") {
		return
	}
	if err := s.reg.Publisher.PostToChannel(ctx, content); err != nil {
		s.log.Warn().Err(err).Msg("Channel post failed")
		return
	}
	metrics.PostsPublished.WithLabelValues("channel").Inc()
}
