package attribution

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/channel"
	"go.uber.org/zap"
)

// creditTolerance is the allowed floating-point drift when checking
// that a path's credit sums to exactly 1.0.
const creditTolerance = 1e-9

// ChannelAttribution is the per-channel result of one model over a
// path set.
type ChannelAttribution struct {
	Channel             channel.Channel `json:"channel"`
	WeightedConversions float64         `json:"weighted_conversions"`
	AttributedRevenue   float64         `json:"attributed_revenue"`
	// AvgTouchpoints and AvgTimeToConversion are averaged over the
	// paths in which this channel appears at least once.
	AvgTouchpoints      float64 `json:"avg_touchpoints"`
	AvgTimeToConversion float64 `json:"avg_time_to_conversion_hours"`
}

// PathPattern is a ranked conversion path shape.
type PathPattern struct {
	Sequence string  `json:"sequence"`
	Count    int     `json:"count"`
	SharePct float64 `json:"share_pct"`
}

// Report is the output of one attribution run.
type Report struct {
	Model       Model                 `json:"model"`
	Conversions int                   `json:"conversions"`
	Channels    []*ChannelAttribution `json:"channels"`
}

// Engine applies credit models to reconstructed conversion paths.
type Engine struct {
	cfg    CreditConfig
	logger *zap.Logger
}

// NewEngine creates an attribution engine.
func NewEngine(cfg CreditConfig, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Attribute runs one credit model over a path set and aggregates the
// result by channel. Total weighted conversions across channels always
// equals the number of input paths; Attribute fails rather than return
// a report that leaks or invents credit.
func (e *Engine) Attribute(model Model, paths []*ConversionPath) (*Report, error) {
	byChannel := make(map[channel.Channel]*ChannelAttribution)

	// Per-channel accumulators for path-level averages.
	pathCount := make(map[channel.Channel]int)
	touchSum := make(map[channel.Channel]int)
	timeSum := make(map[channel.Channel]time.Duration)

	for _, path := range paths {
		credits, err := CreditForPath(model, path, e.cfg)
		if err != nil {
			return nil, err
		}

		var total float64
		for _, c := range credits {
			total += c
		}
		if math.Abs(total-1.0) > creditTolerance {
			return nil, fmt.Errorf("model %s assigned %.12f credit to a %d-touchpoint path, want 1.0",
				model, total, len(path.Touchpoints))
		}

		seen := make(map[channel.Channel]bool)
		for i, tp := range path.Touchpoints {
			ca, ok := byChannel[tp.Channel]
			if !ok {
				ca = &ChannelAttribution{Channel: tp.Channel}
				byChannel[tp.Channel] = ca
			}
			ca.WeightedConversions += credits[i]
			ca.AttributedRevenue += credits[i] * path.Revenue
			seen[tp.Channel] = true
		}

		for ch := range seen {
			pathCount[ch]++
			touchSum[ch] += len(path.Touchpoints)
			timeSum[ch] += path.ConvertedAt.Sub(path.Touchpoints[0].Timestamp)
		}
	}

	channels := make([]*ChannelAttribution, 0, len(byChannel))
	for ch, ca := range byChannel {
		if n := pathCount[ch]; n > 0 {
			ca.AvgTouchpoints = float64(touchSum[ch]) / float64(n)
			ca.AvgTimeToConversion = timeSum[ch].Hours() / float64(n)
		}
		channels = append(channels, ca)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].WeightedConversions > channels[j].WeightedConversions
	})

	if e.logger != nil {
		e.logger.Debug("attribution computed",
			zap.String("model", string(model)),
			zap.Int("paths", len(paths)),
			zap.Int("channels", len(channels)),
		)
	}

	return &Report{
		Model:       model,
		Conversions: len(paths),
		Channels:    channels,
	}, nil
}

// AttributeAll runs every model over the same path set.
func (e *Engine) AttributeAll(paths []*ConversionPath) (map[Model]*Report, error) {
	reports := make(map[Model]*Report, len(AllModels))
	for _, m := range AllModels {
		report, err := e.Attribute(m, paths)
		if err != nil {
			return nil, err
		}
		reports[m] = report
	}
	return reports, nil
}

// TopPaths ranks the most common path shapes, joining channel
// sequences with " > ". Limit bounds the result length.
func TopPaths(paths []*ConversionPath, limit int) []*PathPattern {
	counts := make(map[string]int)
	for _, path := range paths {
		parts := make([]string, len(path.Touchpoints))
		for i, tp := range path.Touchpoints {
			parts[i] = string(tp.Channel)
		}
		counts[strings.Join(parts, " > ")]++
	}

	patterns := make([]*PathPattern, 0, len(counts))
	for seq, count := range counts {
		patterns = append(patterns, &PathPattern{
			Sequence: seq,
			Count:    count,
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Sequence < patterns[j].Sequence
	})

	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}

	total := len(paths)
	for _, p := range patterns {
		p.SharePct = float64(p.Count) / float64(total) * 100
	}

	return patterns
}
