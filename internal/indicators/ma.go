package indicators

// SMA computes the arithmetic simple moving average over closes for the
// given period. It returns an empty series when len(closes) < period;
// otherwise one value per bar from the period-th close onward, aligned to
// the tail of closes.
func SMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}

	out := make([]float64, 0, len(closes)-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	out = append(out, sum/float64(period))

	for i := period; i < len(closes); i++ {
		sum += closes[i] - closes[i-period]
		out = append(out, sum/float64(period))
	}

	return out
}
