package games

// Card utilities and the 7-card hand evaluator used by the poker engine.
// A card is an int 0..51: rank = c%13 (0 is deuce, 12 is ace), suit = c/13.

var rankNames = "23456789TJQKA"
var suitNames = "cdhs"

func cardString(c int) string {
	return string(rankNames[c%13]) + string(suitNames[c/13])
}

func cardStrings(cards []int) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = cardString(c)
	}
	return out
}

// Hand categories, high to low.
const (
	handHighCard = iota
	handPair
	handTwoPair
	handTrips
	handStraight
	handFlush
	handFullHouse
	handQuads
	handStraightFlush
)

// evaluate5 scores exactly five cards. Higher beats lower; the packing is
// category<<20 with five 4-bit tiebreak ranks below it.
func evaluate5(cards []int) int {
	var ranks [13]int
	var suits [4]int
	for _, c := range cards {
		ranks[c%13]++
		suits[c/13]++
	}

	flush := false
	for _, n := range suits {
		if n == 5 {
			flush = true
		}
	}

	// Straight detection, ace plays low in the wheel.
	straightHigh := -1
	run := 0
	for r := 12; r >= 0; r-- {
		if ranks[r] > 0 {
			run++
			if run == 5 {
				straightHigh = r + 4
				break
			}
		} else {
			run = 0
		}
	}
	if straightHigh < 0 && ranks[12] > 0 && ranks[0] > 0 && ranks[1] > 0 && ranks[2] > 0 && ranks[3] > 0 {
		straightHigh = 3 // wheel, five high
	}

	// Group ranks by multiplicity, then by rank, descending.
	var groups []int // rank*16+count packed for sorting... simpler manual
	for count := 4; count >= 1; count-- {
		for r := 12; r >= 0; r-- {
			if ranks[r] == count {
				groups = append(groups, r)
			}
		}
	}

	pack := func(category int, tiebreaks ...int) int {
		score := category << 20
		shift := 16
		for _, t := range tiebreaks {
			score |= t << shift
			shift -= 4
		}
		return score
	}

	counts := [5]int{} // counts[n] = how many ranks appear n times
	for _, n := range ranks {
		if n > 0 {
			counts[n]++
		}
	}

	switch {
	case flush && straightHigh >= 0:
		return pack(handStraightFlush, straightHigh)
	case counts[4] == 1:
		return pack(handQuads, groups[0], groups[1])
	case counts[3] == 1 && counts[2] == 1:
		return pack(handFullHouse, groups[0], groups[1])
	case flush:
		return pack(handFlush, groups...)
	case straightHigh >= 0:
		return pack(handStraight, straightHigh)
	case counts[3] == 1:
		return pack(handTrips, groups...)
	case counts[2] == 2:
		return pack(handTwoPair, groups...)
	case counts[2] == 1:
		return pack(handPair, groups...)
	default:
		return pack(handHighCard, groups...)
	}
}

// evaluate7 returns the best 5-card score among seven cards.
func evaluate7(cards []int) int {
	if len(cards) < 5 {
		return 0
	}
	best := 0
	n := len(cards)
	pick := make([]int, 0, 5)
	// Choose 5 of n.
	var choose func(start, need int)
	choose = func(start, need int) {
		if need == 0 {
			if score := evaluate5(pick); score > best {
				best = score
			}
			return
		}
		for i := start; i <= n-need; i++ {
			pick = append(pick, cards[i])
			choose(i+1, need-1)
			pick = pick[:len(pick)-1]
		}
	}
	choose(0, 5)
	return best
}

// handName renders the category of a score for hand history lines.
func handName(score int) string {
	switch score >> 20 {
	case handStraightFlush:
		return "straight flush"
	case handQuads:
		return "four of a kind"
	case handFullHouse:
		return "full house"
	case handFlush:
		return "flush"
	case handStraight:
		return "straight"
	case handTrips:
		return "three of a kind"
	case handTwoPair:
		return "two pair"
	case handPair:
		return "pair"
	default:
		return "high card"
	}
}
