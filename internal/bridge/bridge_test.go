package bridge

import (
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
	"matter-bridge/internal/store"
)

func TestSeedRegistersInOrder(t *testing.T) {
	b, stack := newSeededBridge(t)

	if b.Len() != len(DefaultSeed) {
		t.Fatalf("len = %d, want %d", b.Len(), len(DefaultSeed))
	}
	want := []uint16{2, 3, 4, 5, 10, 11, 12}
	for i, d := range b.Devices() {
		if d.Endpoint != want[i] {
			t.Errorf("device %d endpoint = %d, want %d", i, d.Endpoint, want[i])
		}
	}
	if len(stack.registered) != len(DefaultSeed) {
		t.Errorf("registered = %d", len(stack.registered))
	}
	child := stack.registered[5]
	if child.Endpoint != 11 || child.ParentEndpoint != 10 {
		t.Errorf("child registration = %+v", child)
	}
	for _, dt := range child.DeviceTypes {
		if dt == matter.DeviceTypeBridgedNode {
			t.Error("composed child announced as bridged node")
		}
	}
}

func TestSeedByName(t *testing.T) {
	for name, want := range map[string]int{"": 7, "default": 7, "minimal": 2, "none": 0} {
		got, err := SeedByName(name)
		if err != nil || len(got) != want {
			t.Errorf("SeedByName(%q) = %d, %v", name, len(got), err)
		}
	}
	if _, err := SeedByName("everything"); err == nil {
		t.Error("unknown seed accepted")
	}
}

func TestAddDeviceErrors(t *testing.T) {
	b, stack := newSeededBridge(t)
	registered := len(stack.registered)

	if _, err := b.AddDevice(ArchetypeLight, "Dup", 2, 1); !errors.Is(err, ErrDuplicateEndpoint) {
		t.Errorf("duplicate: %v", err)
	}
	if _, err := b.AddDevice(ArchetypeLight, "\xfe\xff", 30, 1); !errors.Is(err, ErrInvalidName) {
		t.Errorf("invalid name: %v", err)
	}
	if _, err := b.AddDevice(ArchetypeLight, "Root", 0, 1); !errors.Is(err, ErrReservedEndpoint) {
		t.Errorf("reserved: %v", err)
	}
	if _, err := b.AddDevice("fan", "Fan", 30, 1); !errors.Is(err, ErrUnsupportedArchetype) {
		t.Errorf("archetype: %v", err)
	}
	if _, err := b.AddDevice(ArchetypeComposedTemperature, "Orphan", 30, 40); !errors.Is(err, ErrParentNotFound) {
		t.Errorf("orphan: %v", err)
	}
	if len(stack.registered) != registered {
		t.Error("failed adds reached the stack")
	}
}

func TestAddDeviceStackFailure(t *testing.T) {
	b, stack := newTestBridge(t)
	stack.failRegister = true
	if _, err := b.AddDevice(ArchetypeLight, "Lamp", 2, 1); err == nil {
		t.Fatal("expected error")
	}
	if b.Len() != 0 {
		t.Error("device inserted despite stack failure")
	}
}

func TestConcurrentAddSameEndpoint(t *testing.T) {
	b, stack := newTestBridge(t)
	stack.registerDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = b.AddDevice(ArchetypeLight, "Lamp", 7, 1)
		}()
	}
	wg.Wait()

	added := 0
	for _, err := range errs {
		switch {
		case err == nil:
			added++
		case !errors.Is(err, ErrDuplicateEndpoint):
			t.Errorf("loser: %v", err)
		}
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1 (errs %v)", added, errs)
	}
	if _, ok := b.Device(7); !ok {
		t.Error("endpoint 7 missing from registry")
	}
	if got := stack.activeEndpoints(); !slices.Equal(got, []uint16{7}) {
		t.Errorf("stack holds %v, want [7]", got)
	}
}

func TestRemoveComposedKeepsParentOnChildFailure(t *testing.T) {
	b, stack := newSeededBridge(t)
	stack.failDeregister = map[uint16]bool{12: true}

	if err := b.RemoveDevice(10); err == nil {
		t.Fatal("expected error")
	}
	for ep, want := range map[uint16]bool{10: true, 11: false, 12: true} {
		if _, ok := b.Device(ep); ok != want {
			t.Errorf("endpoint %d present = %v, want %v", ep, ok, want)
		}
	}
}

func TestRemoveComposedCascades(t *testing.T) {
	b, stack := newSeededBridge(t)
	events := collectEvents(b)

	if err := b.RemoveDevice(10); err != nil {
		t.Fatal(err)
	}
	want := []uint16{11, 12, 10}
	if len(stack.deregistered) != len(want) {
		t.Fatalf("deregistered = %v", stack.deregistered)
	}
	for i, ep := range want {
		if stack.deregistered[i] != ep {
			t.Errorf("deregistered[%d] = %d, want %d", i, stack.deregistered[i], ep)
		}
	}
	if b.Len() != 4 {
		t.Errorf("len = %d, want 4", b.Len())
	}
	waitEvent(t, events, EventDeviceRemoved)

	if err := b.RemoveDevice(10); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("second remove: %v", err)
	}
}

func TestFactoryReset(t *testing.T) {
	b, stack := newSeededBridge(t)
	events := collectEvents(b)

	n, err := b.FactoryReset()
	if err != nil {
		t.Fatal(err)
	}
	if n != len(DefaultSeed) {
		t.Errorf("removed = %d, want %d", n, len(DefaultSeed))
	}
	if b.Len() != 0 {
		t.Errorf("len = %d", b.Len())
	}
	want := []uint16{12, 11, 10, 5, 4, 3, 2}
	if !slices.Equal(stack.deregistered, want) {
		t.Errorf("deregistered = %v, want %v", stack.deregistered, want)
	}

	removed := 0
	for {
		ev := waitEvent(t, events, "")
		if ev.Type == EventDeviceRemoved {
			removed++
			continue
		}
		if ev.Type != EventBridgeReset {
			continue
		}
		if n, _ := ev.Data.(int); n != len(DefaultSeed) {
			t.Errorf("reset count = %v", ev.Data)
		}
		break
	}
	if removed != len(DefaultSeed) {
		t.Errorf("removed events = %d, want %d", removed, len(DefaultSeed))
	}
}

func TestFactoryResetDeregistersBeforeDropping(t *testing.T) {
	b, stack := newTestBridge(t)
	if err := b.Seed(MinimalSeed); err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var dropped []uint16
	stack.onDeregister = func(ep uint16) {
		if _, ok := b.Device(ep); !ok {
			mu.Lock()
			dropped = append(dropped, ep)
			mu.Unlock()
		}
	}

	if _, err := b.FactoryReset(); err != nil {
		t.Fatal(err)
	}
	if len(dropped) != 0 {
		t.Errorf("dropped from registry before deregistration: %v", dropped)
	}
	if b.Len() != 0 {
		t.Errorf("len = %d", b.Len())
	}
}

func TestFactoryResetKeepsUnregisteredDevices(t *testing.T) {
	b, stack := newSeededBridge(t)
	stack.failDeregister = map[uint16]bool{3: true, 11: true}

	n, err := b.FactoryReset()
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 4 {
		t.Errorf("removed = %d, want 4", n)
	}
	var left []uint16
	for _, d := range b.Devices() {
		left = append(left, d.Endpoint)
	}
	// The composed parent stays with its child.
	if want := []uint16{3, 10, 11}; !slices.Equal(left, want) {
		t.Errorf("left = %v, want %v", left, want)
	}
	if got := stack.activeEndpoints(); !slices.Equal(got, left) {
		t.Errorf("stack holds %v, registry %v", got, left)
	}
}

func TestDeviceSnapshotsAreCopies(t *testing.T) {
	b, _ := newSeededBridge(t)
	d, _ := b.Device(2)
	d.State.(*Light).On = true
	d.Name = "mutated"

	fresh, _ := b.Device(2)
	if fresh.State.(*Light).On || fresh.Name != "Light 1" {
		t.Error("snapshot mutation leaked into registry")
	}
}

func TestStackWriteEventSource(t *testing.T) {
	b, _ := newSeededBridge(t)
	events := collectEvents(b)

	b.Command(3, clusters.OnOffID, clusters.OnOffCmdOn)
	ev := waitEvent(t, events, EventAttributeChanged)
	if ch := ev.Data.(AttributeChange); ch.Source != SourceStack || ch.Endpoint != 3 {
		t.Errorf("change = %+v", ch)
	}
}

func TestPersistAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.db")
	st, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	b, _ := newTestBridge(t)
	p := NewPersister(b, st, testLogger())
	p.Start()
	if err := b.Seed(DefaultSeed); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddDevice(ArchetypeDoorLock, "Front Door", 20, 1); err != nil {
		t.Fatal(err)
	}
	b.SetOnOff(2, true)
	b.SetTemperature(11, -250)
	b.SetReachable(3, false)
	b.UpdateAttribute(20, clusters.DoorLockID, clusters.DoorLockAttrLockState, matter.U8(clusters.LockStateUnlocked))
	if err := b.RemoveDevice(5); err != nil {
		t.Fatal(err)
	}
	// Close drains queued events through the persister.
	b.Close()
	p.Stop()

	records, err := st.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 7 {
		t.Fatalf("stored %d devices, want 7", len(records))
	}

	restored, stack := newTestBridge(t)
	if n := restored.Restore(records); n != 7 {
		t.Fatalf("restored %d, want 7", n)
	}
	if len(stack.registered) != 7 {
		t.Errorf("registered = %d", len(stack.registered))
	}

	light, _ := restored.Device(2)
	if !light.State.(*Light).On {
		t.Error("light state not restored")
	}
	orig, _ := b.Device(2)
	if light.UniqueID != orig.UniqueID {
		t.Error("unique id not restored")
	}
	if d, _ := restored.Device(3); d.Reachable {
		t.Error("reachability not restored")
	}
	if d, _ := restored.Device(11); d.State.(*TemperatureSensor).CentiDegrees != -250 {
		t.Error("child temperature not restored")
	}
	if _, ok := restored.Device(5); ok {
		t.Error("removed device restored")
	}
	v, ok := restored.GetAttribute(20, clusters.DoorLockID, clusters.DoorLockAttrLockState)
	if !ok || !v.Equal(matter.U8(clusters.LockStateUnlocked)) {
		t.Errorf("lock state = %s, %v", v, ok)
	}
}

func TestRestoreSkipsBadRecords(t *testing.T) {
	b, _ := newTestBridge(t)
	records := []*store.Device{
		{Endpoint: 11, ParentEndpoint: 10, Archetype: string(ArchetypeComposedTemperature), Name: "Child"},
		{Endpoint: 10, ParentEndpoint: 1, Archetype: string(ArchetypeComposed), Name: "Parent"},
		{Endpoint: 30, ParentEndpoint: 1, Archetype: "toaster", Name: "Toaster"},
		{Endpoint: 31, ParentEndpoint: 50, Archetype: string(ArchetypeComposedHumidity), Name: "Orphan"},
	}
	if n := b.Restore(records); n != 2 {
		t.Errorf("restored %d, want 2", n)
	}
	if _, ok := b.Device(11); !ok {
		t.Error("child restored before parent was dropped")
	}
}

func TestReannounceParentsFirst(t *testing.T) {
	b, stack := newTestBridge(t)
	if _, err := b.AddDevice(ArchetypeComposed, "Weather", 20, matter.EndpointAggregator); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddDevice(ArchetypeComposedTemperature, "Weather Temp", 15, 20); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddDevice(ArchetypeLight, "Lamp", 2, matter.EndpointAggregator); err != nil {
		t.Fatal(err)
	}

	stack.mu.Lock()
	stack.registered = nil
	stack.mu.Unlock()

	if err := b.Reannounce(); err != nil {
		t.Fatal(err)
	}
	stack.mu.Lock()
	defer stack.mu.Unlock()
	var got []uint16
	for _, r := range stack.registered {
		got = append(got, r.Endpoint)
	}
	want := []uint16{2, 20, 15}
	if len(got) != len(want) {
		t.Fatalf("reannounced %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reannounced %v, want %v", got, want)
		}
	}
}
