package poolish_util

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	mapset "github.com/deckarep/golang-set/v2"
)

func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

func PoolishAssert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

// true = little endian, false = big endian
func IsLittleEndian() bool {
	var i uint32 = 0x1
	bs := (*[4]byte)(unsafe.Pointer(&i))
	return bs[0] == 1
}

const tagMask = uint64(1)

// IsTagged reports whether the low tag bit of a word is set
func IsTagged(val uint64) bool {
	return val&tagMask == tagMask
}

func SetTag(val uint64) uint64 {
	return val | tagMask
}

func UnsetTag(val uint64) uint64 {
	return val & (^tagMask)
}

// IntSetToString renders a set of ints in ascending order, e.g. "1,3,5"
func IntSetToString[T ~int | ~uint64](convSet mapset.Set[T]) string {
	tmpList := convSet.ToSlice()
	sort.Slice(tmpList, func(i, j int) bool {
		return tmpList[i] < tmpList[j]
	})
	strs := make([]string, len(tmpList))
	for i, v := range tmpList {
		strs[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(strs, ",")
}
