package ptnk

// OverflowStreak page body layout: a size field
// followed by raw streak bytes, used when a commit's streak channel
// exhausts the per-page tail-streak space.
const overflowStreakHeaderSize = 4

func overflowStreakSize(body []byte) int {
	return int(getUint32LE(body[0:4]))
}

func overflowStreakSetSize(body []byte, n int) {
	putUint32LE(body[0:4], uint32(n))
}

func overflowStreakData(body []byte) []byte {
	return body[overflowStreakHeaderSize : overflowStreakHeaderSize+overflowStreakSize(body)]
}

func overflowStreakCapacity(body []byte) int {
	return len(body) - overflowStreakHeaderSize
}

func overflowStreakSetData(body []byte, data []byte) {
	overflowStreakSetSize(body, len(data))
	copy(body[overflowStreakHeaderSize:], data)
}
