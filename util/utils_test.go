package util

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapNSkipsFailures(t *testing.T) {
	out := MapN([]string{"1", "x", "3"}, strconv.Atoi)
	assert.Equal(t, []int{1, 3}, out)

	none := MapN([]int{1, 2}, func(int) (int, error) { return 0, errors.New("no") })
	assert.Empty(t, none)
}

func TestFilterReduceChoose(t *testing.T) {
	evens := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4}, evens)

	sum := Reduce([]int{1, 2, 3}, func(t int, acc int) int { return acc + t }, 10)
	assert.Equal(t, 16, sum)

	assert.Equal(t, "a", Choose(true, "a", "b"))
	assert.Equal(t, "b", Choose(false, "a", "b"))
}
