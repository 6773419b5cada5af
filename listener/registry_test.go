package listener

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) OnEvent(event string) {
	*r.log = append(*r.log, r.name+":"+event)
}

func TestRegistryDispatchOrder(t *testing.T) {
	var log []string
	reg := NewRegistry[string]()

	reg.Add(&recorder{name: "a", log: &log})
	reg.Add(&recorder{name: "b", log: &log})
	reg.AddFunc(func(e string) { log = append(log, "c:"+e) })

	reg.Dispatch("x")
	assert.Equal(t, []string{"a:x", "b:x", "c:x"}, log)
}

func TestRegistrySuppressesDuplicates(t *testing.T) {
	var log []string
	reg := NewRegistry[string]()
	l := &recorder{name: "a", log: &log}

	h1 := reg.Add(l)
	h2 := reg.Add(l)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, reg.Len())

	reg.Dispatch("x")
	assert.Equal(t, []string{"a:x"}, log)
}

func TestRegistryRemoveSelfDuringDispatch(t *testing.T) {
	var log []string
	reg := NewRegistry[string]()

	var self Handle
	self = reg.AddFunc(func(e string) {
		log = append(log, "self:"+e)
		reg.Remove(self)
	})
	reg.Add(&recorder{name: "b", log: &log})
	reg.Add(&recorder{name: "c", log: &log})

	reg.Dispatch("1")
	reg.Dispatch("2")

	assert.Equal(t, []string{"self:1", "b:1", "c:1", "b:2", "c:2"}, log)
}

func TestRegistryRemoveOtherDuringDispatch(t *testing.T) {
	var log []string
	reg := NewRegistry[string]()
	victim := &recorder{name: "victim", log: &log}

	reg.AddFunc(func(e string) {
		log = append(log, "killer:"+e)
		reg.RemoveListener(victim)
	})
	reg.Add(victim)
	reg.Add(&recorder{name: "tail", log: &log})

	reg.Dispatch("1")
	assert.Equal(t, []string{"killer:1", "tail:1"}, log, "removed listener is skipped, the rest still run once")
}

func TestRegistryAddDuringDispatchSeesOnlyLaterEvents(t *testing.T) {
	var log []string
	reg := NewRegistry[string]()
	late := &recorder{name: "late", log: &log}

	reg.AddFunc(func(e string) {
		log = append(log, "first:"+e)
		reg.Add(late)
	})

	reg.Dispatch("1")
	reg.Dispatch("2")
	assert.Equal(t, []string{"first:1", "first:2", "late:2"}, log)
}

func TestRegistryPanickingListenerDoesNotStopDispatch(t *testing.T) {
	var log []string
	reg := NewRegistry[string]()
	reg.AddFunc(func(string) { panic("boom") })
	reg.Add(&recorder{name: "b", log: &log})

	require.NotPanics(t, func() { reg.Dispatch("x") })
	assert.Equal(t, []string{"b:x"}, log)
}

func TestRegistryNilAndUnknown(t *testing.T) {
	reg := NewRegistry[int]()
	assert.Equal(t, Handle(0), reg.Add(nil))
	assert.Equal(t, Handle(0), reg.AddFunc(nil))
	assert.False(t, reg.Remove(42))
	assert.False(t, reg.RemoveListener(Func[int](func(int) {})))
}

func TestRegistryConcurrentUse(t *testing.T) {
	reg := NewRegistry[int]()
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := reg.AddFunc(func(int) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			reg.Dispatch(1)
			reg.Remove(h)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
	assert.Greater(t, count, 0)
}
