package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"trinity-trader/internal/models"
)

// SMA calculates Simple Moving Average.
type SMA struct {
	period int
}

// NewSMA creates a new SMA indicator.
func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Name() string {
	return fmt.Sprintf("SMA_%d", s.period)
}

func (s *SMA) Period() int {
	return s.period
}

func (s *SMA) Calculate(candles []models.Candle) ([]float64, error) {
	if s.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < s.period {
		return nil, ErrInsufficientData
	}
	return talib.Sma(closePrices(candles), s.period), nil
}

// EMA calculates Exponential Moving Average seeded with the first close.
type EMA struct {
	period int
}

// NewEMA creates a new EMA indicator.
func NewEMA(period int) *EMA {
	return &EMA{period: period}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA_%d", e.period)
}

func (e *EMA) Period() int {
	return e.period
}

func (e *EMA) Calculate(candles []models.Candle) ([]float64, error) {
	if e.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) == 0 {
		return nil, ErrInsufficientData
	}
	return CalculateEMA(closePrices(candles), e.period), nil
}

// CalculateEMA calculates EMA on raw values. The first output equals the
// first input and k = 2/(period+1).
func CalculateEMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}

	result := make([]float64, len(values))
	k := 2.0 / float64(period+1)

	result[0] = values[0]
	for i := 1; i < len(values); i++ {
		result[i] = result[i-1] + k*(values[i]-result[i-1])
	}

	return result
}

// MACD calculates Moving Average Convergence Divergence.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a new MACD indicator, typically (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
	}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fastPeriod, m.slowPeriod, m.signalPeriod)
}

func (m *MACD) Period() int {
	return m.slowPeriod
}

// Calculate returns "macd", "signal" and "histogram" series.
func (m *MACD) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if m.fastPeriod <= 0 || m.slowPeriod <= 0 || m.signalPeriod <= 0 || m.fastPeriod >= m.slowPeriod {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < m.Period() {
		return nil, ErrInsufficientData
	}

	closes := closePrices(candles)
	fastEMA := CalculateEMA(closes, m.fastPeriod)
	slowEMA := CalculateEMA(closes, m.slowPeriod)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}

	signal := CalculateEMA(line, m.signalPeriod)
	histogram := make([]float64, len(closes))
	for i := range line {
		histogram[i] = line[i] - signal[i]
	}

	return map[string][]float64{
		"macd":      line,
		"signal":    signal,
		"histogram": histogram,
	}, nil
}

// ADX calculates the Average Directional Index. TR, +DM and -DM are
// averaged with a simple mean over the trailing period window and the
// reported ADX is the DX of that window.
type ADX struct {
	period int
}

// NewADX creates a new ADX indicator.
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Name() string {
	return fmt.Sprintf("ADX_%d", a.period)
}

func (a *ADX) Period() int {
	return a.period + 1
}

// Calculate returns "adx", "plus_di" and "minus_di" series. Entries before
// index period are zero.
func (a *ADX) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < a.Period() {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	adx := make([]float64, n)
	plusDI := make([]float64, n)
	minusDI := make([]float64, n)

	for i := a.period; i < n; i++ {
		from := i - a.period + 1
		atr := mean(tr[from : i+1])
		if atr == 0 {
			continue
		}
		plusDI[i] = 100 * mean(plusDM[from:i+1]) / atr
		minusDI[i] = 100 * mean(minusDM[from:i+1]) / atr

		if diSum := plusDI[i] + minusDI[i]; diSum != 0 {
			adx[i] = 100 * abs(plusDI[i]-minusDI[i]) / diSum
		}
	}

	return map[string][]float64{
		"adx":      adx,
		"plus_di":  plusDI,
		"minus_di": minusDI,
	}, nil
}
