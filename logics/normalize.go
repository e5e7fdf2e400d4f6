// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logics

import (
	"fmt"
	"math"

	"github.com/gorse-io/recommender/config"
)

const (
	sigmoidCenter = 3.5
	sigmoidScale  = 0.5
)

// Percentage converts a normalized score to a percentage. Negative scores are 0%.
func Percentage(score float64) int {
	return int(math.Floor(math.Max(0, score) * 100))
}

// SigmoidPercentage converts a rating-scale score to a percentage with a logistic
// curve centered at 3.5.
func SigmoidPercentage(score float64) int {
	x := (score - sigmoidCenter) / sigmoidScale
	return int(math.Floor(100 / (1 + math.Exp(-x))))
}

// FormatScore formats a normalized score as the ai_score field.
func FormatScore(score float64) string {
	return fmt.Sprintf("%.4f", score)
}

// FormatPercentage formats a percentage as the match_percentage field.
func FormatPercentage(percentage int) string {
	return fmt.Sprintf("%d%% Match", percentage)
}

// Normalizer turns raw strategy scores into candidates. The raw score is divided
// by scale, and the percentage is taken from the normalized score in linear mode
// or from the raw score in sigmoid mode.
type Normalizer struct {
	mode  string
	scale float64
}

func NewNormalizer(mode string, scale float64) Normalizer {
	if scale == 0 {
		scale = 1
	}
	return Normalizer{mode: mode, scale: scale}
}

func (n Normalizer) Candidate(itemId int64, raw float64) Candidate {
	score := raw / n.scale
	c := Candidate{ItemId: itemId, Raw: raw, Score: score}
	if n.mode == config.PercentageSigmoid {
		c.Percentage = SigmoidPercentage(raw)
	} else {
		c.Percentage = Percentage(score)
	}
	return c
}
