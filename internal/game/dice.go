package game

import (
	"math"
	"math/rand"
)

// Combo is a recognized dice-face pattern that modifies scoring.
type Combo string

const (
	ComboNone          Combo = ""
	ComboPair          Combo = "pair"
	ComboTwoPair       Combo = "two_pair"
	ComboTriple        Combo = "triple"
	ComboSmallStraight Combo = "small_straight"
	ComboLargeStraight Combo = "large_straight"
	ComboFullHouse     Combo = "full_house"
	ComboFourOfAKind   Combo = "four_of_a_kind"
	ComboFiveOfAKind   Combo = "five_of_a_kind"
)

// comboRanks orders categories from common to rare. Leaderboard "best combo"
// comparisons use this rank, never counts.
var comboRanks = map[Combo]int{
	ComboPair:          1,
	ComboTwoPair:       2,
	ComboTriple:        3,
	ComboSmallStraight: 4,
	ComboLargeStraight: 5,
	ComboFullHouse:     6,
	ComboFourOfAKind:   7,
	ComboFiveOfAKind:   8,
}

var comboMultipliers = map[Combo]float64{
	ComboPair:          1.5,
	ComboTwoPair:       2,
	ComboTriple:        3,
	ComboSmallStraight: 2.5,
	ComboLargeStraight: 3,
	ComboFullHouse:     4,
	ComboFourOfAKind:   5,
	ComboFiveOfAKind:   10,
}

// Rank returns the rarity rank of the combo, 0 for none.
func (c Combo) Rank() int { return comboRanks[c] }

// Multiplier returns the scoring multiplier, 1 for none.
func (c Combo) Multiplier() float64 {
	if m, ok := comboMultipliers[c]; ok {
		return m
	}
	return 1
}

// ComboRankOrder lists every category from common to rare.
var ComboRankOrder = []Combo{
	ComboPair, ComboTwoPair, ComboTriple, ComboSmallStraight,
	ComboLargeStraight, ComboFullHouse, ComboFourOfAKind, ComboFiveOfAKind,
}

// ComboFromString maps a persisted category name back to a Combo, ComboNone
// for unknown names.
func ComboFromString(s string) Combo {
	c := Combo(s)
	if _, ok := comboRanks[c]; ok {
		return c
	}
	return ComboNone
}

// RollDice draws n independent uniform faces in [1,6].
func RollDice(rng *rand.Rand, n int) []int {
	dice := make([]int, n)
	for i := range dice {
		dice[i] = rng.Intn(6) + 1
	}
	return dice
}

// DetectCombo classifies a roll by face counts and adjacency, returning the
// rarest matching category.
func DetectCombo(dice []int) Combo {
	var counts [7]int
	for _, d := range dice {
		if d >= 1 && d <= 6 {
			counts[d]++
		}
	}

	pairs, triples := 0, 0
	maxCount := 0
	for face := 1; face <= 6; face++ {
		c := counts[face]
		if c > maxCount {
			maxCount = c
		}
		switch {
		case c >= 3:
			triples++
		case c == 2:
			pairs++
		}
	}

	longestRun := 0
	run := 0
	for face := 1; face <= 6; face++ {
		if counts[face] > 0 {
			run++
			if run > longestRun {
				longestRun = run
			}
		} else {
			run = 0
		}
	}

	switch {
	case maxCount >= 5:
		return ComboFiveOfAKind
	case maxCount >= 4:
		return ComboFourOfAKind
	case triples >= 1 && (pairs >= 1 || triples >= 2):
		return ComboFullHouse
	case longestRun >= 5:
		return ComboLargeStraight
	case longestRun >= 4:
		return ComboSmallStraight
	case triples >= 1:
		return ComboTriple
	case pairs >= 2:
		return ComboTwoPair
	case pairs == 1:
		return ComboPair
	}
	return ComboNone
}

// ScoreRoll computes the turn score. With combo scoring enabled and a combo
// found, score = floor(sum * multiplier); otherwise the plain face sum.
func ScoreRoll(dice []int, comboScoring bool) (score int, sum int, combo Combo) {
	for _, d := range dice {
		sum += d
	}
	combo = DetectCombo(dice)
	if !comboScoring || combo == ComboNone {
		return sum, sum, combo
	}
	return int(math.Floor(float64(sum) * combo.Multiplier())), sum, combo
}
