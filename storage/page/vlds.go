package page

// Latch word layout:
//
//	| version (48 bits) | lock state (15 bits) | dirty (1 bit) |
//
// lock state: 0 open, 1 exclusive, n+1 shared by n readers.
const (
	vldsDirtyMask    = uint64(0x1)
	vldsStateShift   = 1
	vldsStateMask    = uint64(0xFFFE)
	vldsVersionShift = 16

	StateOpen      = uint64(0)
	StateExclusive = uint64(1)

	// MaxSharedHolders is the largest reader count the state bits can carry.
	MaxSharedHolders = (vldsStateMask >> vldsStateShift) - 1
)

// InitialVLDS is version 0, open, dirty: a page that has never been persisted.
const InitialVLDS = uint64(1)

func PackVLDS(version uint64, state uint64, dirty bool) uint64 {
	w := (version << vldsVersionShift) | ((state << vldsStateShift) & vldsStateMask)
	if dirty {
		w |= vldsDirtyMask
	}
	return w
}

func VLDSVersion(w uint64) uint64 {
	return w >> vldsVersionShift
}

func VLDSState(w uint64) uint64 {
	return (w & vldsStateMask) >> vldsStateShift
}

func VLDSDirty(w uint64) bool {
	return w&vldsDirtyMask == vldsDirtyMask
}

func IsOpen(state uint64) bool {
	return state == StateOpen
}

func IsExclusive(state uint64) bool {
	return state == StateExclusive
}

func IsShared(state uint64) bool {
	return state > StateExclusive
}

// SharedHolders returns the number of readers carried by a shared state.
func SharedHolders(state uint64) uint64 {
	if !IsShared(state) {
		return 0
	}
	return state - 1
}

func withState(w uint64, state uint64) uint64 {
	return (w &^ vldsStateMask) | ((state << vldsStateShift) & vldsStateMask)
}

func withDirty(w uint64, dirty bool) uint64 {
	if dirty {
		return w | vldsDirtyMask
	}
	return w &^ vldsDirtyMask
}

func withVersion(w uint64, version uint64) uint64 {
	return (w & (vldsStateMask | vldsDirtyMask)) | (version << vldsVersionShift)
}
