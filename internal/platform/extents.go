package platform

// Segment describes a contiguous region of a file.
type Segment struct {
	Offset int64
	Length int64
	Data   bool
}

func wholeFile(size int64) []Segment {
	return []Segment{{Offset: 0, Length: size, Data: true}}
}
