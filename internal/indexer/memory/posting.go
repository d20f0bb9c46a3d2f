package memory

// Posting records one document's occurrences of a term.
type Posting struct {
	Doc       int
	Frequency int
	Positions []int
}

// PostingList is kept sorted by Doc.
type PostingList []Posting
