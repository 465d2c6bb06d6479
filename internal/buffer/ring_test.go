package buffer

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNewRingZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { NewRing(0) })
}

func TestRingPushEviction(t *testing.T) {
	r := NewRing(3)
	r.Push("line 1")
	r.Push("line 2")
	r.Push("line 3")
	r.Push("line 4") // evicts "line 1"

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"line 2", "line 3", "line 4"}, r.Lines())
	assert.True(t, r.IsFull())
}

func TestRingTotalPushed(t *testing.T) {
	r := NewRing(2)
	for i := 1; i <= 4; i++ {
		r.Push(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, 4, r.TotalPushed())
	assert.Equal(t, 2, r.Len())
}

func TestRingView(t *testing.T) {
	r := NewRing(10)
	for i := 1; i <= 5; i++ {
		r.Push(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 2", "line 3"}, r.View(NewWindow(1, 2)))
	assert.Len(t, r.View(NewWindow(0, 10)), 5)
}

func TestRingTailHead(t *testing.T) {
	r := NewRing(10)
	for i := 1; i <= 5; i++ {
		r.Push(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 4", "line 5"}, r.Tail(2))
	assert.Equal(t, []string{"line 1", "line 2"}, r.Head(2))
	assert.Equal(t, []string{"line 1", "line 2", "line 3", "line 4", "line 5"}, r.Tail(100))
}

func TestRingOldestNewest(t *testing.T) {
	r := NewRing(3)
	r.Push("line 1")
	r.Push("line 2")
	r.Push("line 3")
	oldest, _ := r.Oldest()
	newest, _ := r.Newest()
	assert.Equal(t, "line 1", oldest)
	assert.Equal(t, "line 3", newest)

	r.Push("line 4")
	oldest, _ = r.Oldest()
	assert.Equal(t, "line 2", oldest)
}

func TestRingSearch(t *testing.T) {
	r := NewRing(10)
	r.Push("ERROR: something wrong")
	r.Push("INFO: all good")
	r.Push("ERROR: another issue")

	matches := r.Search("ERROR")
	assert.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Index)
	assert.Equal(t, 2, matches[1].Index)
}

func TestRingClearResetsTotal(t *testing.T) {
	r := NewRing(5)
	r.Push("a")
	r.Push("b")
	r.Clear()
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 0, r.TotalPushed())
}

func TestRingResizeSmaller(t *testing.T) {
	r := NewRing(5)
	for i := 1; i <= 5; i++ {
		r.Push(fmt.Sprintf("line %d", i))
	}
	r.Resize(3)
	assert.Equal(t, 3, r.Capacity())
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.Lines())
}

func TestRingResizeLarger(t *testing.T) {
	r := NewRing(3)
	r.Push("line 1")
	r.Push("line 2")
	r.Resize(10)
	assert.Equal(t, 10, r.Capacity())
	assert.Equal(t, []string{"line 1", "line 2"}, r.Lines())
}

// TestRingEvictionProperty checks that after pushing K > capacity items,
// length equals capacity, TotalPushed equals K, and the resident items
// are the last `capacity` pushed, in push order.
func TestRingEvictionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ring retains exactly the last `capacity` pushes", prop.ForAll(
		func(capacity int, extra int) bool {
			r := NewRing(capacity)
			k := capacity + extra
			want := make([]string, 0, k)
			for i := 0; i < k; i++ {
				line := fmt.Sprintf("line-%d", i)
				r.Push(line)
				want = append(want, line)
			}
			if r.Len() != capacity || r.TotalPushed() != k {
				return false
			}
			resident := r.Lines()
			wantResident := want[len(want)-capacity:]
			if len(resident) != len(wantResident) {
				return false
			}
			for i := range resident {
				if resident[i] != wantResident[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
