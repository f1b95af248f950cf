// Package roll evaluates dice expressions and runs the roll service that
// answers the adjudicator's roll_request envelopes.
//
// Randomness uses [math/rand/v2]. Two sources exist: the process-seeded
// default for gameplay rolls, and deterministic per-key sources
// ([SeededDraw]) for draws that must replay identically, such as initiative
// tie-breaks within one timed event.
package roll

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Expression is a parsed dice expression: Count dice of Sides sides plus
// Modifier.
type Expression struct {
	Count    int
	Sides    int
	Modifier int
}

// String renders the canonical "NdS±M" form.
func (e Expression) String() string {
	s := fmt.Sprintf("%dd%d", e.Count, e.Sides)
	switch {
	case e.Modifier > 0:
		s += "+" + strconv.Itoa(e.Modifier)
	case e.Modifier < 0:
		s += strconv.Itoa(e.Modifier)
	}
	return s
}

// Parse parses a dice expression of the form NdS, NdS+M, or NdS-M. N
// defaults to 1 when omitted; S must be ≥ 1; M may be negative.
func Parse(expr string) (Expression, error) {
	cleaned := strings.ToLower(strings.TrimSpace(expr))

	countStr, rest, ok := strings.Cut(cleaned, "d")
	if !ok {
		return Expression{}, fmt.Errorf("roll: invalid expression %q: missing 'd' separator", expr)
	}

	e := Expression{Count: 1}
	if countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil {
			return Expression{}, fmt.Errorf("roll: invalid dice count %q in expression %q", countStr, expr)
		}
		e.Count = n
	}
	if e.Count < 1 {
		return Expression{}, fmt.Errorf("roll: dice count must be ≥ 1, got %d in expression %q", e.Count, expr)
	}

	sidesStr := rest
	var modStr string
	var negative bool
	if i := strings.IndexAny(rest, "+-"); i >= 0 {
		sidesStr, modStr = rest[:i], rest[i+1:]
		negative = rest[i] == '-'
	}

	sides, err := strconv.Atoi(sidesStr)
	if err != nil {
		return Expression{}, fmt.Errorf("roll: invalid sides %q in expression %q", sidesStr, expr)
	}
	if sides < 1 {
		return Expression{}, fmt.Errorf("roll: sides must be ≥ 1, got %d in expression %q", sides, expr)
	}
	e.Sides = sides

	if modStr != "" {
		mod, err := strconv.Atoi(modStr)
		if err != nil {
			return Expression{}, fmt.Errorf("roll: invalid modifier %q in expression %q", modStr, expr)
		}
		if negative {
			mod = -mod
		}
		e.Modifier = mod
	}
	return e, nil
}

// Result is one evaluated expression: the individual die faces and the total
// including the modifier.
type Result struct {
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"`
	Total      int    `json:"total"`
}

// Roller evaluates expressions against one random source.
type Roller struct {
	intn func(int) int
}

// NewRoller returns a roller over the process-wide auto-seeded source.
func NewRoller() *Roller {
	return &Roller{intn: rand.IntN}
}

// NewSeededRoller returns a roller whose rolls replay deterministically for
// the same key.
func NewSeededRoller(key string) *Roller {
	src := seededRand(key)
	return &Roller{intn: src.IntN}
}

// Eval rolls the parsed expression.
func (r *Roller) Eval(e Expression) Result {
	rolls := make([]int, e.Count)
	total := e.Modifier
	for i := range rolls {
		face := r.intn(e.Sides) + 1
		rolls[i] = face
		total += face
	}
	return Result{Expression: e.String(), Rolls: rolls, Total: total}
}

// Roll parses and evaluates expr in one step.
func (r *Roller) Roll(expr string) (Result, error) {
	e, err := Parse(expr)
	if err != nil {
		return Result{}, err
	}
	res := r.Eval(e)
	res.Expression = expr
	return res, nil
}

// D20 rolls a single twenty-sided die.
func (r *Roller) D20() int { return r.intn(20) + 1 }

// SeededDraw returns a deterministic draw in [0, n) for (key, index). The
// same inputs always produce the same draw, so tie-breaks seeded from an
// event id stay stable across re-queries.
func SeededDraw(key string, index, n int) int {
	if n <= 1 {
		return 0
	}
	src := seededRand(fmt.Sprintf("%s#%d", key, index))
	return src.IntN(n)
}

func seededRand(key string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(key))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
