package engine

// Indicator kernels. Every kernel returns a slice aligned to its input,
// with the sentinel 0.0 wherever the warm-up window is not complete.

import "math"

// Sentinel is the value of a signal position before its warm-up completes.
const Sentinel = 0.0

// CalculateSMA is the trailing arithmetic mean over period values; positions
// t < period-1 hold Sentinel.
func CalculateSMA(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return result
	}

	sum := 0.0
	for i := 0; i < len(values); i++ {
		sum += values[i]
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			result[i] = sum / float64(period)
		}
	}
	return result
}

// MeanAt is the trailing mean of values[t-period+1..t], computed directly.
// The caller guarantees t >= period-1.
func MeanAt(values []float64, t, period int) float64 {
	sum := 0.0
	for i := t - period + 1; i <= t; i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// CalculateRSI is Wilder's RSI. Averages are seeded from the first period
// differences and smoothed with weight (period-1)/period afterwards. A zero
// average loss pins RSI at 100.
func CalculateRSI(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	if period <= 0 || len(values) < period+1 {
		return result
	}

	p := float64(period)
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		gain, loss := splitChange(values[i] - values[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= p
	avgLoss /= p
	result[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		gain, loss := splitChange(values[i] - values[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		result[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return result
}

func splitChange(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// LogReturns returns r[i] = ln(p[i]/p[i-1]) aligned to the input; r[0] = 0.
func LogReturns(prices []float64) []float64 {
	out := make([]float64, len(prices))
	for i := 1; i < len(prices); i++ {
		out[i] = math.Log(prices[i] / prices[i-1])
	}
	return out
}

// CalculateVolatility is the population standard deviation of the window
// most recent log returns ending at t, for t >= window.
func CalculateVolatility(prices []float64, window int) []float64 {
	result := make([]float64, len(prices))
	if window <= 0 || len(prices) <= window {
		return result
	}

	returns := LogReturns(prices)
	n := float64(window)
	for t := window; t < len(prices); t++ {
		mean := 0.0
		for i := t - window + 1; i <= t; i++ {
			mean += returns[i]
		}
		mean /= n

		variance := 0.0
		for i := t - window + 1; i <= t; i++ {
			d := returns[i] - mean
			variance += d * d
		}
		result[t] = math.Sqrt(variance / n)
	}
	return result
}
