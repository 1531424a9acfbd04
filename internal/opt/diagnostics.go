package opt

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const iterateFormat = "At iterate %5d    f= %.8E    |proj g|= %.8E\n"

var iterateLine = regexp.MustCompile(`At iterate\s+(\d+)\s+f=\s*(\S+)\s+\|proj g\|=\s*(\S+)`)

func writeIterate(w io.Writer, iter int, f, projGrad float64) {
	fmt.Fprintf(w, iterateFormat, iter, f, projGrad)
}

// ParseCostByIteration recovers the per-iteration cost from a captured
// diagnostic stream. Lines that are not progress lines are ignored; a
// repeated iteration number keeps the last value.
func ParseCostByIteration(text string) []float64 {
	var (
		costs []float64
		index = map[int]int{}
	)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		m := iterateLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		iter, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		f, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if i, ok := index[iter]; ok {
			costs[i] = f
			continue
		}
		index[iter] = len(costs)
		costs = append(costs, f)
	}
	return costs
}
