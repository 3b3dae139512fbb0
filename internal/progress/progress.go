package progress

// Progress is a snapshot delivered to listeners after every write.
// Total is zero when the server did not report a length.
type Progress struct {
	Downloaded int64
	Total      int64
}

func (p Progress) GetTotalSize() int64 {
	return p.Total
}

func (p Progress) GetDownloaded() int64 {
	return p.Downloaded
}

// GetPercentage returns 0 when the total is unknown.
func (p Progress) GetPercentage() float64 {
	if p.Total <= 0 {
		return 0
	}

	if p.Downloaded >= p.Total {
		return 100
	}

	return float64(p.Downloaded) / float64(p.Total) * 100
}
