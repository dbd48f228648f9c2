package core

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/happytimeshere/kirby/internal/storage"
	"github.com/happytimeshere/kirby/pkg/models"
	"pgregory.net/rapid"
)

// =============================================================================
// Generators
// =============================================================================

var propertyUsers = []models.UserID{"alice", "bob", "carol"}

func genUser(t *rapid.T, label string) models.UserID {
	return rapid.SampledFrom(propertyUsers).Draw(t, label)
}

func genResourceID(t *rapid.T, label string) string {
	return rapid.SampledFrom([]string{"/home", "/blog/a", "/blog/b"}).Draw(t, label)
}

// lockModel is the reference behaviour of a single manager under the
// default break policy.
type lockModel struct {
	owner  map[string]models.UserID
	unlock map[string][]models.UserID
}

func newLockModel() *lockModel {
	return &lockModel{
		owner:  make(map[string]models.UserID),
		unlock: make(map[string][]models.UserID),
	}
}

func (m *lockModel) hasUnlock(id string, u models.UserID) bool {
	for _, x := range m.unlock[id] {
		if x == u {
			return true
		}
	}
	return false
}

func (m *lockModel) empty() bool {
	for id := range m.owner {
		if m.owner[id] != "" {
			return false
		}
	}
	for id := range m.unlock {
		if len(m.unlock[id]) > 0 {
			return false
		}
	}
	return true
}

// apply returns whether the operation is expected to be refused.
func (m *lockModel) apply(op string, id string, u models.UserID) bool {
	owner := m.owner[id]
	switch op {
	case "acquire":
		if owner != "" && owner != u {
			return true
		}
		m.owner[id] = u
	case "release":
		if owner == "" {
			return false
		}
		if owner != u {
			return true
		}
		m.owner[id] = ""
	case "break":
		if owner == "" {
			return false
		}
		if owner == u {
			return true
		}
		if !m.hasUnlock(id, owner) {
			m.unlock[id] = append(m.unlock[id], owner)
		}
		m.owner[id] = ""
	case "acknowledge":
		var rest []models.UserID
		for _, x := range m.unlock[id] {
			if x != u {
				rest = append(rest, x)
			}
		}
		m.unlock[id] = rest
	}
	return false
}

func runOp(lm LockManager, op string, id string, u models.UserID) error {
	switch op {
	case "acquire":
		return lm.Acquire(id, u)
	case "release":
		return lm.Release(id, u)
	case "break":
		return lm.Break(id, u)
	case "acknowledge":
		return lm.Acknowledge(id, u)
	}
	panic(fmt.Sprintf("unknown op %q", op))
}

// =============================================================================
// Properties
// =============================================================================

// Any sequence of operations keeps the manager in step with the reference
// model: at most one holder per resource, refusals exactly where the model
// refuses, and the lock file present only while some state remains.
func TestProperty_OperationsMatchModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		clock := newTestClock()
		lm := newTestManager(t, dir, clock)
		model := newLockModel()

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{"acquire", "release", "break", "acknowledge"}).Draw(rt, "op")
			id := genResourceID(rt, "id")
			u := genUser(rt, "user")

			wantDenied := model.apply(op, id, u)
			err := runOp(lm, op, id, u)
			if wantDenied {
				if !errors.Is(err, ErrPermissionDenied) {
					rt.Fatalf("step %d %s(%s, %s): expected ErrPermissionDenied, got %v", i, op, id, u, err)
				}
			} else if err != nil {
				rt.Fatalf("step %d %s(%s, %s): unexpected error: %v", i, op, id, u, err)
			}

			for _, rid := range []string{"/home", "/blog/a", "/blog/b"} {
				st, _ := lm.State(rid)
				var gotOwner models.UserID
				if st.Lock != nil {
					gotOwner = st.Lock.User
				}
				if gotOwner != model.owner[rid] {
					rt.Fatalf("step %d: owner of %s = %q, want %q", i, rid, gotOwner, model.owner[rid])
				}
				if len(st.Unlock) != len(model.unlock[rid]) ||
					(len(st.Unlock) > 0 && !reflect.DeepEqual(st.Unlock, model.unlock[rid])) {
					rt.Fatalf("step %d: unlock of %s = %v, want %v", i, rid, st.Unlock, model.unlock[rid])
				}
				for _, viewer := range propertyUsers {
					locked := gotOwner != "" && gotOwner != viewer
					if lm.IsLockedByOther(rid, viewer) != locked {
						rt.Fatalf("step %d: IsLockedByOther(%s, %s) != %v", i, rid, viewer, locked)
					}
					if lm.WasBrokenFor(rid, viewer) != model.hasUnlock(rid, viewer) {
						rt.Fatalf("step %d: WasBrokenFor(%s, %s) mismatch", i, rid, viewer)
					}
				}
			}

			if lockFileExists(t, dir) == model.empty() {
				rt.Fatalf("step %d: lock file present = %v, model empty = %v", i, !model.empty(), model.empty())
			}
		}
	})
}

// Re-acquiring one's own lock any number of times leaves exactly one entry
// carrying the latest time.
func TestProperty_SelfAcquireIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := newTestClock()
		lm := newTestManager(t, t.TempDir(), clock)
		u := genUser(rt, "user")
		n := rapid.IntRange(1, 10).Draw(rt, "times")

		for i := 0; i < n; i++ {
			clock.Advance(time.Duration(rapid.IntRange(0, 300).Draw(rt, "gap")) * time.Second)
			if err := lm.Acquire("/page", u); err != nil {
				rt.Fatalf("acquire %d: %v", i, err)
			}
		}

		st, ok := lm.State("/page")
		if !ok || st.Lock == nil {
			rt.Fatal("expected lock entry")
		}
		if st.Lock.User != u || st.Lock.Time != clock.Now().Unix() {
			rt.Fatalf("Lock = %+v, want {%s %d}", st.Lock, u, clock.Now().Unix())
		}
		if len(st.Unlock) != 0 {
			rt.Fatalf("Unlock = %v, want empty", st.Unlock)
		}
	})
}

// A lock becomes breakable exactly when since + duration <= now.
func TestProperty_StalenessBoundary(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := newTestClock()
		seconds := rapid.IntRange(1, 3600).Draw(rt, "duration")
		lm := newTestManager(t, t.TempDir(), clock, WithDuration(time.Duration(seconds)*time.Second))

		if err := lm.Acquire("/page", "alice"); err != nil {
			rt.Fatal(err)
		}
		elapsed := rapid.IntRange(0, 2*seconds).Draw(rt, "elapsed")
		clock.Advance(time.Duration(elapsed) * time.Second)

		st := lm.Status("/page", "bob")
		if !st.Locked {
			rt.Fatal("expected locked")
		}
		if want := elapsed >= seconds; st.Breakable != want {
			rt.Fatalf("Breakable = %v after %ds of %ds, want %v", st.Breakable, elapsed, seconds, want)
		}
	})
}

// Persisting N resources and loading them into a fresh manager reproduces
// every Get result for every viewer.
func TestProperty_RoundTripThroughFreshManager(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		clock := newTestClock()
		lm := newTestManager(t, dir, clock)

		ids := rapid.SliceOfNDistinct(
			rapid.StringMatching(`/[a-z]{1,8}(/[a-z0-9-]{1,12}){0,2}`),
			1, 10, rapid.ID[string],
		).Draw(rt, "ids")

		for _, id := range ids {
			clock.Advance(time.Duration(rapid.IntRange(0, 200).Draw(rt, "gap")) * time.Second)
			owner := genUser(rt, "owner")
			if err := lm.Acquire(id, owner); err != nil {
				rt.Fatalf("acquire %s: %v", id, err)
			}
			if rapid.Bool().Draw(rt, "broken") {
				breaker := propertyUsers[(indexOf(owner)+1)%len(propertyUsers)]
				if err := lm.Break(id, breaker); err != nil {
					rt.Fatalf("break %s: %v", id, err)
				}
			}
		}

		fresh := NewLockManager(storage.NewLockFileStore(dir, ""), testUsers(), WithClock(clock.Now))
		if !reflect.DeepEqual(fresh.Resources(), lm.Resources()) {
			rt.Fatalf("Resources = %v, want %v", fresh.Resources(), lm.Resources())
		}
		for _, id := range ids {
			for _, viewer := range propertyUsers {
				if got, want := fresh.Get(id, viewer), lm.Get(id, viewer); got != want {
					rt.Fatalf("Get(%s, %s) = %+v, want %+v", id, viewer, got, want)
				}
				if fresh.WasBrokenFor(id, viewer) != lm.WasBrokenFor(id, viewer) {
					rt.Fatalf("WasBrokenFor(%s, %s) differs after reload", id, viewer)
				}
			}
		}
	})
}

func indexOf(u models.UserID) int {
	for i, x := range propertyUsers {
		if x == u {
			return i
		}
	}
	return -1
}
